package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/enums"
)

// OrderApprovedEvent is emitted when a pending order is approved with its
// final discount applied.
type OrderApprovedEvent struct {
	OrderID        uuid.UUID       `json:"order_id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	Currency       enums.Currency  `json:"currency"`
	SubtotalAmount decimal.Decimal `json:"subtotal_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ApprovedAt     time.Time       `json:"approved_at"`
}

// OrderCancelledEvent is emitted when an order is cancelled or rejected and
// its recorded discounts are reversed.
type OrderCancelledEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	CustomerID    uuid.UUID         `json:"customer_id"`
	Status        enums.OrderStatus `json:"status"`
	ReversedCount int               `json:"reversed_count"`
	CancelledAt   time.Time         `json:"cancelled_at"`
}

// UsageRecordedEvent is emitted for every campaign usage ledger insert.
type UsageRecordedEvent struct {
	UsageID          uuid.UUID       `json:"usage_id"`
	CampaignID       uuid.UUID       `json:"campaign_id"`
	DiscountRuleID   uuid.UUID       `json:"discount_rule_id"`
	CustomerID       uuid.UUID       `json:"customer_id"`
	OrderID          uuid.UUID       `json:"order_id"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	DiscountCurrency enums.Currency  `json:"discount_currency"`
	UsedAt           time.Time       `json:"used_at"`
}

// UsageReversedEvent is emitted when a ledger entry is reversed.
type UsageReversedEvent struct {
	UsageID          uuid.UUID       `json:"usage_id"`
	CampaignID       uuid.UUID       `json:"campaign_id"`
	OrderID          uuid.UUID       `json:"order_id"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	DiscountCurrency enums.Currency  `json:"discount_currency"`
	ReversedAt       time.Time       `json:"reversed_at"`
}

// CampaignEndedEvent is emitted once when a campaign transitions to ended.
type CampaignEndedEvent struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	EndedAt    time.Time `json:"ended_at"`
	Reason     string    `json:"reason,omitempty"`
}

// CountersReconciledEvent reports a drift correction between a campaign's
// denormalized counters and its usage ledger.
type CountersReconciledEvent struct {
	CampaignID          uuid.UUID       `json:"campaign_id"`
	PreviousUsedAmount  decimal.Decimal `json:"previous_used_amount"`
	CorrectedUsedAmount decimal.Decimal `json:"corrected_used_amount"`
	PreviousUsageCount  int             `json:"previous_usage_count"`
	CorrectedUsageCount int             `json:"corrected_usage_count"`
}
