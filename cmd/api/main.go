package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/calderahq/commerce-backend/api/routes"
	"github.com/calderahq/commerce-backend/internal/budget"
	"github.com/calderahq/commerce-backend/internal/campaigns"
	"github.com/calderahq/commerce-backend/internal/discount"
	"github.com/calderahq/commerce-backend/internal/eligibility"
	"github.com/calderahq/commerce-backend/internal/orders"
	"github.com/calderahq/commerce-backend/internal/rates"
	"github.com/calderahq/commerce-backend/internal/usages"
	"github.com/calderahq/commerce-backend/pkg/config"
	"github.com/calderahq/commerce-backend/pkg/db"
	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/metrics"
	"github.com/calderahq/commerce-backend/pkg/migrate"
	"github.com/calderahq/commerce-backend/pkg/outbox"
	"github.com/calderahq/commerce-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	campaignsRepo := campaigns.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	usagesRepo := usages.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	discountMetrics := metrics.NewDiscountMetrics(prometheus.DefaultRegisterer)

	baseCurrency, err := enums.ParseCurrency(cfg.Rates.BaseCurrency)
	if err != nil {
		logg.Error(context.Background(), "invalid rates base currency", err)
		os.Exit(1)
	}
	fixedRates, err := rates.NewFixedTable(baseCurrency)
	if err != nil {
		logg.Error(context.Background(), "failed to build rate table", err)
		os.Exit(1)
	}
	converter, err := rates.NewCachedConverter(fixedRates, redisClient, cfg.Rates.CacheTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build rate cache", err)
		os.Exit(1)
	}

	evaluator, err := eligibility.NewEvaluator(converter, discountMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create eligibility evaluator", err)
		os.Exit(1)
	}
	calculator, err := discount.NewCalculator(converter)
	if err != nil {
		logg.Error(context.Background(), "failed to create discount calculator", err)
		os.Exit(1)
	}
	budgetChecker, err := budget.NewChecker(usagesRepo, converter, discountMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create budget checker", err)
		os.Exit(1)
	}

	usagesSvc, err := usages.NewService(usages.Params{
		Repo:      usagesRepo,
		Campaigns: campaignsRepo,
		Tx:        dbClient,
		Outbox:    outboxSvc,
		Metrics:   discountMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	campaignsSvc, err := campaigns.NewService(campaigns.Params{
		Repo:   campaignsRepo,
		Tx:     dbClient,
		Outbox: outboxSvc,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create campaign service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(orders.Params{
		Repo:       ordersRepo,
		Campaigns:  campaignsRepo,
		Usages:     usagesSvc,
		Budget:     budgetChecker,
		Evaluator:  evaluator,
		Calculator: calculator,
		Converter:  converter,
		Tx:         dbClient,
		Outbox:     outboxSvc,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, campaignsSvc, ordersSvc),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
