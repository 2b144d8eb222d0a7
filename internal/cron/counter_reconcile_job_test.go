package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderahq/commerce-backend/internal/usages"
	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/logger"
)

type fakeRunnableReader struct {
	campaigns []models.Campaign
	err       error
}

func (f *fakeRunnableReader) FindRunnable(_ context.Context, _ time.Time) ([]models.Campaign, error) {
	return f.campaigns, f.err
}

type fakeReconciler struct {
	drifted map[uuid.UUID]bool
	calls   []uuid.UUID
	err     error
}

func (f *fakeReconciler) Reconcile(_ context.Context, campaignID uuid.UUID) (*usages.ReconcileResult, error) {
	f.calls = append(f.calls, campaignID)
	if f.err != nil {
		return nil, f.err
	}
	return &usages.ReconcileResult{
		CampaignID: campaignID,
		Drifted:    f.drifted[campaignID],
	}, nil
}

func newReconcileJob(t *testing.T, reader *fakeRunnableReader, reconciler *fakeReconciler) Job {
	t.Helper()

	job, err := NewCounterReconcileJob(CounterReconcileJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		Campaigns: reader,
		Usages:    reconciler,
	})
	require.NoError(t, err)
	return job
}

func TestCounterReconcileJobVisitsEveryRunningCampaign(t *testing.T) {
	first := models.Campaign{ID: uuid.New()}
	second := models.Campaign{ID: uuid.New()}
	reader := &fakeRunnableReader{campaigns: []models.Campaign{first, second}}
	reconciler := &fakeReconciler{drifted: map[uuid.UUID]bool{second.ID: true}}

	job := newReconcileJob(t, reader, reconciler)
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, reconciler.calls)
}

func TestCounterReconcileJobContinuesPastFailures(t *testing.T) {
	first := models.Campaign{ID: uuid.New()}
	second := models.Campaign{ID: uuid.New()}
	reader := &fakeRunnableReader{campaigns: []models.Campaign{first, second}}
	reconciler := &fakeReconciler{err: fmt.Errorf("ledger unavailable")}

	job := newReconcileJob(t, reader, reconciler)
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger unavailable")

	// the failure on the first campaign does not skip the second
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, reconciler.calls)
}
