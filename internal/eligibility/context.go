package eligibility

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
)

// OrderLine is the snapshot of a single order line the evaluator matches
// restriction sets against.
type OrderLine struct {
	LineItemID uuid.UUID
	ProductID  uuid.UUID
	CategoryID *uuid.UUID
	BrandID    *uuid.UUID
	Quantity   int
	UnitPrice  decimal.Decimal
}

// Amount returns quantity times unit price for the line.
func (l OrderLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderContext is the immutable order snapshot rules are evaluated against.
// Building it up front keeps the evaluator pure and free of repository calls.
type OrderContext struct {
	OrderID      uuid.UUID
	CustomerID   uuid.UUID
	CustomerTier enums.CustomerTier
	Currency     enums.Currency
	Lines        []OrderLine
}

// Subtotal returns the sum of all line amounts in the order currency.
func (o OrderContext) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Amount())
	}
	return total
}

// TotalQuantity returns the sum of line quantities.
func (o OrderContext) TotalQuantity() int {
	total := 0
	for _, line := range o.Lines {
		total += line.Quantity
	}
	return total
}

// ContextFromOrder builds an OrderContext from persisted order and customer rows.
func ContextFromOrder(order models.Order, customer models.Customer) OrderContext {
	lines := make([]OrderLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, OrderLine{
			LineItemID: item.ID,
			ProductID:  item.ProductID,
			CategoryID: item.CategoryID,
			BrandID:    item.BrandID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}
	return OrderContext{
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		CustomerTier: customer.Tier,
		Currency:     order.Currency,
		Lines:        lines,
	}
}
