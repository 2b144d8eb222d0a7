package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/enums"
)

// Order is the back-office order the discount core evaluates against.
type Order struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID uuid.UUID `gorm:"column:customer_id;type:uuid;not null"`

	Status   enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	Currency enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`

	SubtotalAmount decimal.Decimal `gorm:"column:subtotal_amount;type:numeric(14,2);not null"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(14,2);not null;default:0"`
	TotalAmount    decimal.Decimal `gorm:"column:total_amount;type:numeric(14,2);not null"`

	Items []OrderLineItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	ApprovedAt  *time.Time `gorm:"column:approved_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderLineItem carries the denormalized product/category/brand identifiers
// the eligibility evaluator matches restriction sets against.
type OrderLineItem struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null"`

	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	CategoryID *uuid.UUID `gorm:"column:category_id;type:uuid"`
	BrandID    *uuid.UUID `gorm:"column:brand_id;type:uuid"`

	Quantity  int             `gorm:"column:quantity;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(14,2);not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// LineAmount returns quantity times unit price.
func (i OrderLineItem) LineAmount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
