package campaigns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/outbox"
	"github.com/calderahq/commerce-backend/pkg/outbox/payloads"
	"github.com/calderahq/commerce-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines campaign and discount rule administration.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Campaign, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	List(ctx context.Context, input ListInput) (*ListResult, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Campaign, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, target enums.CampaignStatus) (*models.Campaign, error)
	Delete(ctx context.Context, id uuid.UUID) error

	AddRule(ctx context.Context, campaignID uuid.UUID, input RuleInput) (*models.DiscountRule, error)
	DeleteRule(ctx context.Context, ruleID uuid.UUID) error
}

// Params wires the campaign service dependencies.
type Params struct {
	Repo   Repository
	Tx     txRunner
	Outbox outboxEmitter
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxEmitter
	logg   *logger.Logger
}

// NewService builds the campaign administration service.
func NewService(params Params) (Service, error) {
	if params.Repo == nil {
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
		repo:   params.Repo,
		tx:     params.Tx,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

var oneHundred = decimal.NewFromInt(100)

var allowedTransitions = map[enums.CampaignStatus][]enums.CampaignStatus{
	enums.CampaignStatusDraft:  {enums.CampaignStatusActive, enums.CampaignStatusEnded},
	enums.CampaignStatusActive: {enums.CampaignStatusPaused, enums.CampaignStatusEnded},
	enums.CampaignStatusPaused: {enums.CampaignStatusActive, enums.CampaignStatusEnded},
	enums.CampaignStatusEnded:  {},
}

func transitionAllowed(from, to enums.CampaignStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Campaign, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	usedCurrency := enums.CurrencyUSD
	if input.TotalBudgetLimitCurrency != nil {
		usedCurrency = *input.TotalBudgetLimitCurrency
	}

	campaign := &models.Campaign{
		ID:                             uuid.New(),
		Name:                           input.Name,
		Description:                    input.Description,
		Status:                         enums.CampaignStatusDraft,
		Priority:                       input.Priority,
		StartDate:                      input.StartDate,
		EndDate:                        input.EndDate,
		TotalBudgetLimitAmount:         input.TotalBudgetLimitAmount,
		TotalBudgetLimitCurrency:       input.TotalBudgetLimitCurrency,
		TotalUsageLimit:                input.TotalUsageLimit,
		PerCustomerBudgetLimitAmount:   input.PerCustomerBudgetLimitAmount,
		PerCustomerBudgetLimitCurrency: input.PerCustomerBudgetLimitCurrency,
		PerCustomerUsageLimit:          input.PerCustomerUsageLimit,
		TotalDiscountUsedCurrency:      usedCurrency,
	}

	created, err := s.repo.Create(ctx, campaign)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating campaign")
	}

	s.logg.Info(s.logg.WithCampaignID(ctx, created.ID.String()), "campaign created")
	return created, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	campaign, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading campaign")
	}
	return campaign, nil
}

func (s *service) List(ctx context.Context, input ListInput) (*ListResult, error) {
	filter := ListFilter{
		Status:    input.Status,
		RunningAt: input.RunningAt,
	}
	rows, err := s.repo.List(ctx, filter, input.Page)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing campaigns")
	}

	limit := pagination.NormalizeLimit(input.Page.Limit)
	result := &ListResult{Campaigns: rows}
	if len(rows) > limit {
		result.Campaigns = rows[:limit]
		last := result.Campaigns[limit-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return result, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Campaign, error) {
	campaign, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status == enums.CampaignStatusEnded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "ended campaigns cannot be edited")
	}

	applyUpdate(campaign, input)
	if !campaign.StartDate.Before(campaign.EndDate) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "start date must be before end date")
	}
	if err := validateLimits(campaign); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, campaign); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating campaign")
	}
	return campaign, nil
}

func (s *service) ChangeStatus(ctx context.Context, id uuid.UUID, target enums.CampaignStatus) (*models.Campaign, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid campaign status %q", target))
	}

	var updated *models.Campaign
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		campaign, err := repo.LockByID(tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking campaign")
		}

		if campaign.Status == target {
			updated = campaign
			return nil
		}
		if !transitionAllowed(campaign.Status, target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot transition campaign from %s to %s", campaign.Status, target))
		}

		campaign.Status = target
		if err := repo.Update(ctx, campaign); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating campaign status")
		}

		if target == enums.CampaignStatusEnded {
			event := outbox.DomainEvent{
				EventType:     enums.EventCampaignEnded,
				AggregateType: enums.AggregateCampaign,
				AggregateID:   campaign.ID,
				Data: payloads.CampaignEndedEvent{
					CampaignID: campaign.ID,
					EndedAt:    time.Now().UTC(),
					Reason:     "manual",
				},
			}
			if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emitting campaign ended event")
			}
		}

		updated = campaign
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithCampaignID(ctx, id.String())
	s.logg.Info(s.logg.WithField(ctx, "status", string(target)), "campaign status changed")
	return updated, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status == enums.CampaignStatusActive {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "active campaigns must be ended before deletion")
	}

	campaign.IsDeleted = true
	if err := s.repo.Update(ctx, campaign); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting campaign")
	}
	s.logg.Info(s.logg.WithCampaignID(ctx, id.String()), "campaign deleted")
	return nil
}

func (s *service) AddRule(ctx context.Context, campaignID uuid.UUID, input RuleInput) (*models.DiscountRule, error) {
	if err := validateRule(input); err != nil {
		return nil, err
	}

	campaign, err := s.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status == enums.CampaignStatusEnded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "ended campaigns cannot accept new rules")
	}

	rule := &models.DiscountRule{
		ID:                 uuid.New(),
		CampaignID:         campaign.ID,
		DiscountType:       input.DiscountType,
		DiscountValue:      input.DiscountValue,
		MaxDiscountAmount:  input.MaxDiscountAmount,
		ProductTargetType:  input.ProductTargetType,
		CustomerTargetType: input.CustomerTargetType,
		MinOrderAmount:     input.MinOrderAmount,
		MinQuantity:        input.MinQuantity,
	}
	for _, productID := range input.ProductIDs {
		rule.Products = append(rule.Products, models.DiscountRuleProduct{ID: uuid.New(), ProductID: productID})
	}
	for _, categoryID := range input.CategoryIDs {
		rule.Categories = append(rule.Categories, models.DiscountRuleCategory{ID: uuid.New(), CategoryID: categoryID})
	}
	for _, brandID := range input.BrandIDs {
		rule.Brands = append(rule.Brands, models.DiscountRuleBrand{ID: uuid.New(), BrandID: brandID})
	}
	for _, customerID := range input.CustomerIDs {
		rule.Customers = append(rule.Customers, models.DiscountRuleCustomer{ID: uuid.New(), CustomerID: customerID})
	}
	for _, tier := range input.Tiers {
		rule.CustomerTiers = append(rule.CustomerTiers, models.DiscountRuleCustomerTier{ID: uuid.New(), Tier: tier})
	}

	created, err := s.repo.CreateRule(ctx, rule)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating discount rule")
	}
	return created, nil
}

func (s *service) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	if _, err := s.repo.FindRuleByID(ctx, ruleID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "discount rule not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading discount rule")
	}
	if err := s.repo.SoftDeleteRule(ctx, ruleID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting discount rule")
	}
	return nil
}

func validateCreate(input CreateInput) error {
	if input.Name == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "campaign name is required")
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end dates are required")
	}
	if !input.StartDate.Before(input.EndDate) {
		return pkgerrors.New(pkgerrors.CodeValidation, "start date must be before end date")
	}
	campaign := models.Campaign{
		TotalBudgetLimitAmount:         input.TotalBudgetLimitAmount,
		TotalBudgetLimitCurrency:       input.TotalBudgetLimitCurrency,
		TotalUsageLimit:                input.TotalUsageLimit,
		PerCustomerBudgetLimitAmount:   input.PerCustomerBudgetLimitAmount,
		PerCustomerBudgetLimitCurrency: input.PerCustomerBudgetLimitCurrency,
		PerCustomerUsageLimit:          input.PerCustomerUsageLimit,
	}
	return validateLimits(&campaign)
}

func validateLimits(campaign *models.Campaign) error {
	if campaign.TotalBudgetLimitAmount != nil {
		if !campaign.TotalBudgetLimitAmount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "total budget limit must be positive")
		}
		if campaign.TotalBudgetLimitCurrency == nil || !campaign.TotalBudgetLimitCurrency.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, "total budget limit requires a valid currency")
		}
	}
	if campaign.PerCustomerBudgetLimitAmount != nil {
		if !campaign.PerCustomerBudgetLimitAmount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "per-customer budget limit must be positive")
		}
		if campaign.PerCustomerBudgetLimitCurrency == nil || !campaign.PerCustomerBudgetLimitCurrency.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, "per-customer budget limit requires a valid currency")
		}
	}
	if campaign.TotalUsageLimit != nil && *campaign.TotalUsageLimit <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "total usage limit must be positive")
	}
	if campaign.PerCustomerUsageLimit != nil && *campaign.PerCustomerUsageLimit <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "per-customer usage limit must be positive")
	}
	return nil
}

func validateRule(input RuleInput) error {
	if !input.DiscountType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid discount type %q", input.DiscountType))
	}
	if !input.DiscountValue.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "discount value must be positive")
	}
	if input.DiscountType == enums.DiscountTypePercentage && input.DiscountValue.GreaterThan(oneHundred) {
		return pkgerrors.New(pkgerrors.CodeValidation, "percentage discount cannot exceed 100")
	}
	if input.MaxDiscountAmount != nil && !input.MaxDiscountAmount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "max discount amount must be positive")
	}
	if input.MinOrderAmount != nil && input.MinOrderAmount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "min order amount cannot be negative")
	}
	if input.MinQuantity != nil && *input.MinQuantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "min quantity must be positive")
	}

	if input.ProductTargetType == enums.ProductTargetSpecific &&
		len(input.ProductIDs) == 0 && len(input.CategoryIDs) == 0 && len(input.BrandIDs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "specific product targeting requires at least one product, category or brand")
	}
	if input.CustomerTargetType == enums.CustomerTargetSpecific &&
		len(input.CustomerIDs) == 0 && len(input.Tiers) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "specific customer targeting requires at least one customer or tier")
	}
	return nil
}

func applyUpdate(campaign *models.Campaign, input UpdateInput) {
	if input.Name != nil {
		campaign.Name = *input.Name
	}
	if input.Description != nil {
		campaign.Description = input.Description
	}
	if input.Priority != nil {
		campaign.Priority = *input.Priority
	}
	if input.StartDate != nil {
		campaign.StartDate = *input.StartDate
	}
	if input.EndDate != nil {
		campaign.EndDate = *input.EndDate
	}
	if input.TotalBudgetLimitAmount != nil {
		campaign.TotalBudgetLimitAmount = input.TotalBudgetLimitAmount
	}
	if input.TotalBudgetLimitCurrency != nil {
		campaign.TotalBudgetLimitCurrency = input.TotalBudgetLimitCurrency
	}
	if input.TotalUsageLimit != nil {
		campaign.TotalUsageLimit = input.TotalUsageLimit
	}
	if input.PerCustomerBudgetLimitAmount != nil {
		campaign.PerCustomerBudgetLimitAmount = input.PerCustomerBudgetLimitAmount
	}
	if input.PerCustomerBudgetLimitCurrency != nil {
		campaign.PerCustomerBudgetLimitCurrency = input.PerCustomerBudgetLimitCurrency
	}
	if input.PerCustomerUsageLimit != nil {
		campaign.PerCustomerUsageLimit = input.PerCustomerUsageLimit
	}
}
