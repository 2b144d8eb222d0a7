package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calderahq/commerce-backend/internal/campaigns"
	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/outbox"
	"github.com/calderahq/commerce-backend/pkg/outbox/payloads"
)

const expiryBatchSize = 200

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CampaignExpiryJobParams configure the campaign expiry sweep.
type CampaignExpiryJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Campaigns campaigns.Repository
	Outbox    outboxEmitter
}

// NewCampaignExpiryJob builds the job that moves active campaigns past their
// end date to ended. Order approval already ignores expired campaigns; the
// sweep just makes the stored status catch up.
func NewCampaignExpiryJob(params CampaignExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Campaigns == nil {
		return nil, fmt.Errorf("campaigns repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &campaignExpiryJob{
		logg:      params.Logger,
		db:        params.DB,
		campaigns: params.Campaigns,
		outbox:    params.Outbox,
		now:       time.Now,
	}, nil
}

type campaignExpiryJob struct {
	logg      *logger.Logger
	db        txRunner
	campaigns campaigns.Repository
	outbox    outboxEmitter
	now       func() time.Time
}

func (j *campaignExpiryJob) Name() string { return "campaign-expiry" }

func (j *campaignExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	expired, err := j.campaigns.FindExpired(ctx, now, expiryBatchSize)
	if err != nil {
		return fmt.Errorf("query expired campaigns: %w", err)
	}

	count := 0
	for _, campaign := range expired {
		if err := j.endCampaign(ctx, campaign.ID, now); err != nil {
			return err
		}
		count++
	}
	j.logg.Info(j.logg.WithField(ctx, "count", count), "campaign expiry sweep complete")
	return nil
}

func (j *campaignExpiryJob) endCampaign(ctx context.Context, id uuid.UUID, now time.Time) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		campaign, err := j.campaigns.LockByID(tx, id)
		if err != nil {
			return fmt.Errorf("lock campaign: %w", err)
		}
		// someone may have ended or reopened it since the batch query
		if campaign.Status != enums.CampaignStatusActive || campaign.EndDate.After(now) {
			return nil
		}

		campaign.Status = enums.CampaignStatusEnded
		if err := j.campaigns.WithTx(tx).Update(ctx, campaign); err != nil {
			return fmt.Errorf("end campaign: %w", err)
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventCampaignEnded,
			AggregateType: enums.AggregateCampaign,
			AggregateID:   campaign.ID,
			OccurredAt:    now,
			Data: payloads.CampaignEndedEvent{
				CampaignID: campaign.ID,
				EndedAt:    now,
				Reason:     "expired",
			},
		}
		return j.outbox.EmitIfNotExists(ctx, tx, event)
	})
}
