package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/enums"
)

// Campaign is a time-bounded promotional configuration with budget/usage
// limits and one or more discount rules.
//
// TotalDiscountUsedAmount and TotalUsageCount are denormalized counters; the
// campaign_usages ledger is the source of truth and the counters must equal
// the sum/count of its non-reversed rows. LockVersion backs the optimistic
// fallback when the row-lock path is unavailable.
type Campaign struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name        string               `gorm:"column:name;not null"`
	Description *string              `gorm:"column:description"`
	Status      enums.CampaignStatus `gorm:"column:status;type:campaign_status;not null;default:'draft'"`
	Priority    int                  `gorm:"column:priority;not null;default:0"`

	// Validity window is half-open: [StartDate, EndDate).
	StartDate time.Time `gorm:"column:start_date;not null"`
	EndDate   time.Time `gorm:"column:end_date;not null"`

	TotalBudgetLimitAmount   *decimal.Decimal `gorm:"column:total_budget_limit_amount;type:numeric(14,2)"`
	TotalBudgetLimitCurrency *enums.Currency  `gorm:"column:total_budget_limit_currency;type:text"`
	TotalUsageLimit          *int             `gorm:"column:total_usage_limit"`

	PerCustomerBudgetLimitAmount   *decimal.Decimal `gorm:"column:per_customer_budget_limit_amount;type:numeric(14,2)"`
	PerCustomerBudgetLimitCurrency *enums.Currency  `gorm:"column:per_customer_budget_limit_currency;type:text"`
	PerCustomerUsageLimit          *int             `gorm:"column:per_customer_usage_limit"`

	TotalDiscountUsedAmount   decimal.Decimal `gorm:"column:total_discount_used_amount;type:numeric(14,2);not null;default:0"`
	TotalDiscountUsedCurrency enums.Currency  `gorm:"column:total_discount_used_currency;type:text;not null;default:'USD'"`
	TotalUsageCount           int             `gorm:"column:total_usage_count;not null;default:0"`

	LockVersion int  `gorm:"column:lock_version;not null;default:0"`
	IsDeleted   bool `gorm:"column:is_deleted;not null;default:false"`

	Rules []DiscountRule `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// IsRunning reports whether the campaign is active and inside its validity
// window at the given instant.
func (c Campaign) IsRunning(now time.Time) bool {
	if c.Status != enums.CampaignStatusActive {
		return false
	}
	if now.Before(c.StartDate) {
		return false
	}
	return now.Before(c.EndDate)
}

// BudgetCurrency returns the currency campaign-level limits are denominated
// in, falling back to the running-total currency when no limit is set.
func (c Campaign) BudgetCurrency() enums.Currency {
	if c.TotalBudgetLimitCurrency != nil {
		return *c.TotalBudgetLimitCurrency
	}
	return c.TotalDiscountUsedCurrency
}
