package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/calderahq/commerce-backend/internal/usages"
	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/logger"
)

type runnableCampaignReader interface {
	FindRunnable(ctx context.Context, now time.Time) ([]models.Campaign, error)
}

type counterReconciler interface {
	Reconcile(ctx context.Context, campaignID uuid.UUID) (*usages.ReconcileResult, error)
}

// CounterReconcileJobParams configure the counter reconciliation sweep.
type CounterReconcileJobParams struct {
	Logger    *logger.Logger
	Campaigns runnableCampaignReader
	Usages    counterReconciler
}

// NewCounterReconcileJob builds the job that rebuilds the denormalized
// campaign counters from the usage ledger. The ledger is the source of
// truth; the counters exist so budget checks stay a single row read.
func NewCounterReconcileJob(params CounterReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Campaigns == nil {
		return nil, fmt.Errorf("campaigns reader required")
	}
	if params.Usages == nil {
		return nil, fmt.Errorf("usages service required")
	}
	return &counterReconcileJob{
		logg:      params.Logger,
		campaigns: params.Campaigns,
		usages:    params.Usages,
		now:       time.Now,
	}, nil
}

type counterReconcileJob struct {
	logg      *logger.Logger
	campaigns runnableCampaignReader
	usages    counterReconciler
	now       func() time.Time
}

func (j *counterReconcileJob) Name() string { return "counter-reconcile" }

func (j *counterReconcileJob) Run(ctx context.Context) error {
	campaigns, err := j.campaigns.FindRunnable(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("query running campaigns: %w", err)
	}

	// one broken campaign must not starve the rest of the sweep
	var errs []error
	corrected := 0
	for _, campaign := range campaigns {
		result, err := j.usages.Reconcile(ctx, campaign.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile campaign %s: %w", campaign.ID, err))
			continue
		}
		if result.Drifted {
			corrected++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked":   len(campaigns),
		"corrected": corrected,
		"failed":    len(errs),
	})
	j.logg.Info(logCtx, "counter reconcile sweep complete")
	return multierr.Combine(errs...)
}
