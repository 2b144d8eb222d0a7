package usages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/calderahq/commerce-backend/internal/campaigns"
	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/metrics"
	"github.com/calderahq/commerce-backend/pkg/outbox"
	"github.com/calderahq/commerce-backend/pkg/outbox/payloads"
)

const (
	reverseMaxRetries   = 3
	reverseRetryBackoff = 25 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// RecordInput describes one discount application to append to the ledger.
// Amount is denominated in the campaign budget currency.
type RecordInput struct {
	CampaignID     uuid.UUID
	DiscountRuleID uuid.UUID
	CustomerID     uuid.UUID
	OrderID        uuid.UUID
	OrderItemID    *uuid.UUID
	Amount         decimal.Decimal
	Currency       enums.Currency
	UsedAt         time.Time
}

// ReconcileResult reports the counter correction applied to a campaign.
type ReconcileResult struct {
	CampaignID          uuid.UUID
	Drifted             bool
	PreviousUsedAmount  decimal.Decimal
	CorrectedUsedAmount decimal.Decimal
	PreviousUsageCount  int
	CorrectedUsageCount int
}

// Service maintains the usage ledger and keeps campaign counters in sync
// with it.
type Service interface {
	// RecordTx appends a ledger row and bumps the campaign counters. The
	// caller must run inside a transaction and hold the campaign row lock.
	RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.CampaignUsage, error)

	// Reverse flips one ledger row and decrements the counters. Reversing an
	// already-reversed row fails with a state conflict.
	Reverse(ctx context.Context, usageID uuid.UUID) (*models.CampaignUsage, error)

	// ReverseForOrderTx reverses every active usage of the order inside the
	// caller's transaction. Returns the number of rows reversed.
	ReverseForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error)

	// Reconcile rebuilds a campaign's denormalized counters from the ledger.
	Reconcile(ctx context.Context, campaignID uuid.UUID) (*ReconcileResult, error)
}

// Params wires the usage service dependencies.
type Params struct {
	Repo      Repository
	Campaigns campaigns.Repository
	Tx        txRunner
	Outbox    outboxEmitter
	Metrics   *metrics.DiscountMetrics
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	campaigns campaigns.Repository
	tx        txRunner
	outbox    outboxEmitter
	metrics   *metrics.DiscountMetrics
	logg      *logger.Logger
}

// NewService builds the usage ledger service.
func NewService(params Params) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("usages repository required")
	}
	if params.Campaigns == nil {
		return nil, fmt.Errorf("campaigns repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repo,
		campaigns: params.Campaigns,
		tx:        params.Tx,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

func (s *service) RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.CampaignUsage, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage amount must be positive")
	}
	if input.UsedAt.IsZero() {
		input.UsedAt = time.Now().UTC()
	}

	usage := &models.CampaignUsage{
		ID:               uuid.New(),
		CampaignID:       input.CampaignID,
		DiscountRuleID:   input.DiscountRuleID,
		CustomerID:       input.CustomerID,
		OrderID:          input.OrderID,
		OrderItemID:      input.OrderItemID,
		DiscountAmount:   input.Amount,
		DiscountCurrency: input.Currency,
		UsedAt:           input.UsedAt,
	}
	if err := s.repo.InsertTx(tx, usage); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "inserting usage")
	}
	if err := s.campaigns.ApplyUsageDelta(tx, input.CampaignID, input.Amount, 1); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "incrementing campaign counters")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventUsageRecorded,
		AggregateType: enums.AggregateCampaignUsage,
		AggregateID:   usage.ID,
		Data: payloads.UsageRecordedEvent{
			UsageID:          usage.ID,
			CampaignID:       usage.CampaignID,
			DiscountRuleID:   usage.DiscountRuleID,
			CustomerID:       usage.CustomerID,
			OrderID:          usage.OrderID,
			DiscountAmount:   usage.DiscountAmount,
			DiscountCurrency: usage.DiscountCurrency,
			UsedAt:           usage.UsedAt,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emitting usage recorded event")
	}

	if s.metrics != nil {
		s.metrics.IncUsageRecorded()
	}
	return usage, nil
}

func (s *service) Reverse(ctx context.Context, usageID uuid.UUID) (*models.CampaignUsage, error) {
	var reversed *models.CampaignUsage

	backoff := retry.WithMaxRetries(reverseMaxRetries, retry.NewExponential(reverseRetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			usage, err := s.repo.WithTx(tx).FindByID(ctx, usageID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "usage not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading usage")
			}
			if usage.IsReversed {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "usage already reversed")
			}

			campaign, err := s.campaigns.WithTx(tx).FindByID(ctx, usage.CampaignID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading campaign")
			}

			now := time.Now().UTC()
			flipped, err := s.repo.MarkReversedTx(tx, usageID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking usage reversed")
			}
			if !flipped {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "usage already reversed")
			}

			applied, err := s.campaigns.ApplyUsageDeltaOptimistic(tx, campaign.ID, campaign.LockVersion, usage.DiscountAmount.Neg(), -1)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrementing campaign counters")
			}
			if !applied {
				// another writer bumped the lock version; roll back and retry
				return retry.RetryableError(pkgerrors.New(pkgerrors.CodeConflict, "campaign counters changed concurrently"))
			}

			if err := s.emitReversed(ctx, tx, usage, now); err != nil {
				return err
			}

			usage.IsReversed = true
			usage.ReversedAt = &now
			reversed = usage
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncUsageReversed()
	}
	s.logg.Info(s.logg.WithCampaignID(ctx, reversed.CampaignID.String()), "campaign usage reversed")
	return reversed, nil
}

func (s *service) ReverseForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error) {
	if tx == nil {
		return 0, gorm.ErrInvalidTransaction
	}

	rows, err := s.repo.FindActiveByOrderTx(tx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order usages")
	}

	now := time.Now().UTC()
	count := 0
	for _, usage := range rows {
		// lock keeps the counter delta consistent with concurrent approvals
		if _, err := s.campaigns.LockByID(tx, usage.CampaignID); err != nil {
			return count, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking campaign")
		}

		flipped, err := s.repo.MarkReversedTx(tx, usage.ID, now)
		if err != nil {
			return count, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking usage reversed")
		}
		if !flipped {
			continue
		}

		if err := s.campaigns.ApplyUsageDelta(tx, usage.CampaignID, usage.DiscountAmount.Neg(), -1); err != nil {
			return count, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrementing campaign counters")
		}
		if err := s.emitReversed(ctx, tx, &usage, now); err != nil {
			return count, err
		}

		if s.metrics != nil {
			s.metrics.IncUsageReversed()
		}
		count++
	}
	return count, nil
}

func (s *service) Reconcile(ctx context.Context, campaignID uuid.UUID) (*ReconcileResult, error) {
	var result *ReconcileResult

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		campaign, err := s.campaigns.LockByID(tx, campaignID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking campaign")
		}

		ledgerAmount, ledgerCount, err := s.repo.SumsForCampaignTx(tx, campaignID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summing ledger")
		}

		result = &ReconcileResult{
			CampaignID:          campaignID,
			PreviousUsedAmount:  campaign.TotalDiscountUsedAmount,
			CorrectedUsedAmount: ledgerAmount,
			PreviousUsageCount:  campaign.TotalUsageCount,
			CorrectedUsageCount: ledgerCount,
		}
		if campaign.TotalDiscountUsedAmount.Equal(ledgerAmount) && campaign.TotalUsageCount == ledgerCount {
			return nil
		}
		result.Drifted = true

		if err := s.campaigns.SetCounters(tx, campaignID, ledgerAmount, ledgerCount); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "correcting campaign counters")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventCountersReconciled,
			AggregateType: enums.AggregateCampaign,
			AggregateID:   campaignID,
			Data: payloads.CountersReconciledEvent{
				CampaignID:          campaignID,
				PreviousUsedAmount:  result.PreviousUsedAmount,
				CorrectedUsedAmount: result.CorrectedUsedAmount,
				PreviousUsageCount:  result.PreviousUsageCount,
				CorrectedUsageCount: result.CorrectedUsageCount,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emitting reconcile event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Drifted {
		ctx = s.logg.WithCampaignID(ctx, campaignID.String())
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"previous_amount":  result.PreviousUsedAmount.String(),
			"corrected_amount": result.CorrectedUsedAmount.String(),
			"previous_count":   result.PreviousUsageCount,
			"corrected_count":  result.CorrectedUsageCount,
		}), "campaign counters drifted from ledger")
	}
	return result, nil
}

func (s *service) emitReversed(ctx context.Context, tx *gorm.DB, usage *models.CampaignUsage, reversedAt time.Time) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventUsageReversed,
		AggregateType: enums.AggregateCampaignUsage,
		AggregateID:   usage.ID,
		Data: payloads.UsageReversedEvent{
			UsageID:          usage.ID,
			CampaignID:       usage.CampaignID,
			OrderID:          usage.OrderID,
			DiscountAmount:   usage.DiscountAmount,
			DiscountCurrency: usage.DiscountCurrency,
			ReversedAt:       reversedAt,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emitting usage reversed event")
	}
	return nil
}
