package campaigns

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/pagination"
)

var rulePreloads = []string{
	"Rules",
	"Rules.Products",
	"Rules.Categories",
	"Rules.Brands",
	"Rules.Customers",
	"Rules.CustomerTiers",
}

// Repository persists campaigns, their rules and restriction rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, campaign *models.Campaign) (*models.Campaign, error)
	Update(ctx context.Context, campaign *models.Campaign) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Campaign, error)

	// FindRunnable returns active campaigns whose window contains now, with
	// rules and restriction rows preloaded for evaluation.
	FindRunnable(ctx context.Context, now time.Time) ([]models.Campaign, error)

	// LockByID takes a FOR UPDATE row lock on the campaign. Must run inside
	// the caller's transaction.
	LockByID(tx *gorm.DB, id uuid.UUID) (*models.Campaign, error)

	// ApplyUsageDelta adjusts the denormalized counters and bumps the lock
	// version. Deltas may be negative for reversals.
	ApplyUsageDelta(tx *gorm.DB, id uuid.UUID, amountDelta decimal.Decimal, countDelta int) error

	// ApplyUsageDeltaOptimistic applies the delta only when the stored lock
	// version still matches. Returns false when another writer won.
	ApplyUsageDeltaOptimistic(tx *gorm.DB, id uuid.UUID, lockVersion int, amountDelta decimal.Decimal, countDelta int) (bool, error)

	// SetCounters overwrites the denormalized counters, for reconciliation.
	SetCounters(tx *gorm.DB, id uuid.UUID, usedAmount decimal.Decimal, usageCount int) error

	// FindExpired returns active campaigns whose end date has passed.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]models.Campaign, error)

	CreateRule(ctx context.Context, rule *models.DiscountRule) (*models.DiscountRule, error)
	UpdateRule(ctx context.Context, rule *models.DiscountRule) error
	FindRuleByID(ctx context.Context, id uuid.UUID) (*models.DiscountRule, error)
	SoftDeleteRule(ctx context.Context, id uuid.UUID) error
}

// ListFilter narrows campaign listings.
type ListFilter struct {
	Status         *enums.CampaignStatus
	RunningAt      *time.Time
	IncludeDeleted bool
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a campaigns repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, campaign *models.Campaign) (*models.Campaign, error) {
	if err := r.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return nil, err
	}
	return campaign, nil
}

func (r *repository) Update(ctx context.Context, campaign *models.Campaign) error {
	return r.db.WithContext(ctx).Save(campaign).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	query := r.db.WithContext(ctx)
	for _, preload := range rulePreloads {
		query = query.Preload(preload)
	}
	err := query.
		Where("id = ? AND is_deleted = ?", id, false).
		First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Campaign, error) {
	query := r.db.WithContext(ctx).Model(&models.Campaign{})

	if !filter.IncludeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.RunningAt != nil {
		query = query.
			Where("status = ?", enums.CampaignStatusActive).
			Where("start_date <= ? AND end_date > ?", *filter.RunningAt, *filter.RunningAt)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(created_at, id) < (?, ?)",
			cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Campaign
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindRunnable(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	query := r.db.WithContext(ctx)
	for _, preload := range rulePreloads {
		query = query.Preload(preload)
	}

	var rows []models.Campaign
	err := query.
		Where("is_deleted = ?", false).
		Where("status = ?", enums.CampaignStatusActive).
		Where("start_date <= ? AND end_date > ?", now, now).
		Order("priority DESC").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) LockByID(tx *gorm.DB, id uuid.UUID) (*models.Campaign, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	query := tx
	// sqlite (tests) has no row locks; its single-writer model covers us
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var campaign models.Campaign
	err := query.
		Where("id = ? AND is_deleted = ?", id, false).
		First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *repository) ApplyUsageDelta(tx *gorm.DB, id uuid.UUID, amountDelta decimal.Decimal, countDelta int) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_discount_used_amount": gorm.Expr("total_discount_used_amount + ?", amountDelta),
			"total_usage_count":          gorm.Expr("total_usage_count + ?", countDelta),
			"lock_version":               gorm.Expr("lock_version + 1"),
		}).Error
}

func (r *repository) ApplyUsageDeltaOptimistic(tx *gorm.DB, id uuid.UUID, lockVersion int, amountDelta decimal.Decimal, countDelta int) (bool, error) {
	if tx == nil {
		return false, gorm.ErrInvalidTransaction
	}
	result := tx.Model(&models.Campaign{}).
		Where("id = ? AND lock_version = ?", id, lockVersion).
		Updates(map[string]any{
			"total_discount_used_amount": gorm.Expr("total_discount_used_amount + ?", amountDelta),
			"total_usage_count":          gorm.Expr("total_usage_count + ?", countDelta),
			"lock_version":               gorm.Expr("lock_version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) SetCounters(tx *gorm.DB, id uuid.UUID, usedAmount decimal.Decimal, usageCount int) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_discount_used_amount": usedAmount,
			"total_usage_count":          usageCount,
			"lock_version":               gorm.Expr("lock_version + 1"),
		}).Error
}

func (r *repository) FindExpired(ctx context.Context, now time.Time, limit int) ([]models.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Campaign
	err := r.db.WithContext(ctx).
		Where("is_deleted = ?", false).
		Where("status = ?", enums.CampaignStatusActive).
		Where("end_date <= ?", now).
		Order("end_date ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CreateRule(ctx context.Context, rule *models.DiscountRule) (*models.DiscountRule, error) {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *repository) UpdateRule(ctx context.Context, rule *models.DiscountRule) error {
	return r.db.WithContext(ctx).Save(rule).Error
}

func (r *repository) FindRuleByID(ctx context.Context, id uuid.UUID) (*models.DiscountRule, error) {
	var rule models.DiscountRule
	err := r.db.WithContext(ctx).
		Preload("Products").
		Preload("Categories").
		Preload("Brands").
		Preload("Customers").
		Preload("CustomerTiers").
		Where("id = ? AND is_deleted = ?", id, false).
		First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repository) SoftDeleteRule(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.DiscountRule{}).
		Where("id = ?", id).
		Update("is_deleted", true).Error
}
