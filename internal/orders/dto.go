package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/pagination"
)

// LineItemInput is one order line at creation time. Category and brand are
// denormalized here so rule evaluation never needs a catalog lookup.
type LineItemInput struct {
	ProductID  uuid.UUID
	CategoryID *uuid.UUID
	BrandID    *uuid.UUID
	Quantity   int
	UnitPrice  decimal.Decimal
}

// CreateInput creates a pending order.
type CreateInput struct {
	CustomerID uuid.UUID
	Currency   enums.Currency
	Items      []LineItemInput
}

// ListInput filters and paginates order listings.
type ListInput struct {
	CustomerID *uuid.UUID
	Status     *enums.OrderStatus
	Page       pagination.Params
}

// ListResult is one page of orders plus the cursor for the next page.
type ListResult struct {
	Orders     []models.Order
	NextCursor string
}

// AppliedDiscount reports which rule discounted the order and by how much.
type AppliedDiscount struct {
	CampaignID     uuid.UUID       `json:"campaign_id"`
	DiscountRuleID uuid.UUID       `json:"discount_rule_id"`
	UsageID        *uuid.UUID      `json:"usage_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       enums.Currency  `json:"currency"`
}

// Evaluation is the outcome of a dry-run or approval pass over an order.
type Evaluation struct {
	OrderID        uuid.UUID        `json:"order_id"`
	SubtotalAmount decimal.Decimal  `json:"subtotal_amount"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	Currency       enums.Currency   `json:"currency"`
	Applied        *AppliedDiscount `json:"applied,omitempty"`
	SkippedReasons []string         `json:"skipped_reasons,omitempty"`
}
