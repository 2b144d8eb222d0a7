package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/enums"
)

// CampaignUsage is an immutable ledger entry recording one application of a
// discount to an order. Rows are never deleted; the only mutation allowed is
// the one-way reversal flag transition.
type CampaignUsage struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CampaignID     uuid.UUID  `gorm:"column:campaign_id;type:uuid;not null"`
	DiscountRuleID uuid.UUID  `gorm:"column:discount_rule_id;type:uuid;not null"`
	CustomerID     uuid.UUID  `gorm:"column:customer_id;type:uuid;not null"`
	OrderID        uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	OrderItemID    *uuid.UUID `gorm:"column:order_item_id;type:uuid"`

	DiscountAmount   decimal.Decimal `gorm:"column:discount_amount;type:numeric(14,2);not null"`
	DiscountCurrency enums.Currency  `gorm:"column:discount_currency;type:text;not null"`

	UsedAt     time.Time  `gorm:"column:used_at;not null"`
	IsReversed bool       `gorm:"column:is_reversed;not null;default:false"`
	ReversedAt *time.Time `gorm:"column:reversed_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
