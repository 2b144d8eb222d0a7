package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/calderahq/commerce-backend/api/responses"
	"github.com/calderahq/commerce-backend/pkg/config"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
	"github.com/calderahq/commerce-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Caldera-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when both the database and redis answer.
func HealthReady(cfg *config.Config, db, cache pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Caldera-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"db": "ok", "redis": "ok"}
		failed := false
		if db == nil || db.Ping(ctx) != nil {
			checks["db"] = "unreachable"
			failed = true
		}
		if cache == nil || cache.Ping(ctx) != nil {
			checks["redis"] = "unreachable"
			failed = true
		}

		if failed {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
