package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calderahq/commerce-backend/api/controllers"
	"github.com/calderahq/commerce-backend/api/middleware"
	"github.com/calderahq/commerce-backend/internal/campaigns"
	"github.com/calderahq/commerce-backend/internal/orders"
	"github.com/calderahq/commerce-backend/pkg/config"
	"github.com/calderahq/commerce-backend/pkg/db"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	campaignsSvc campaigns.Service,
	ordersSvc orders.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisClient, logg))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", controllers.CreateCampaign(campaignsSvc, logg))
			r.Get("/", controllers.ListCampaigns(campaignsSvc, logg))
			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", controllers.GetCampaign(campaignsSvc, logg))
				r.Patch("/", controllers.UpdateCampaign(campaignsSvc, logg))
				r.Delete("/", controllers.DeleteCampaign(campaignsSvc, logg))
				r.Post("/status", controllers.ChangeCampaignStatus(campaignsSvc, logg))
				r.Post("/rules", controllers.AddCampaignRule(campaignsSvc, logg))
			})
			r.Delete("/rules/{ruleID}", controllers.DeleteCampaignRule(campaignsSvc, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(ordersSvc, logg))
			r.Get("/", controllers.ListOrders(ordersSvc, logg))
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", controllers.GetOrder(ordersSvc, logg))
				r.Get("/discount-preview", controllers.PreviewOrderDiscount(ordersSvc, logg))
				r.Post("/approve", controllers.ApproveOrder(ordersSvc, logg))
				r.Post("/cancel", controllers.CancelOrder(ordersSvc, logg))
				r.Post("/reject", controllers.RejectOrder(ordersSvc, logg))
			})
		})
	})

	return r
}
