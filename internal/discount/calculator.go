package discount

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/internal/rates"
	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
)

var oneHundred = decimal.NewFromInt(100)

// Input carries everything Compute needs. MatchedAmount is the slice of the
// order the rule applies to, in the order currency. Fixed values and caps on
// the rule are denominated in the campaign budget currency.
type Input struct {
	Rule           models.DiscountRule
	MatchedAmount  decimal.Decimal
	OrderCurrency  enums.Currency
	BudgetCurrency enums.Currency
}

// Calculator turns a matched rule into a concrete discount amount.
type Calculator struct {
	converter rates.Converter
}

func NewCalculator(converter rates.Converter) (*Calculator, error) {
	if converter == nil {
		return nil, fmt.Errorf("currency converter required")
	}
	return &Calculator{converter: converter}, nil
}

// Compute returns the discount amount in the order currency, rounded once to
// the currency's exponent. The result never exceeds the matched amount, so a
// discount cannot push an order total negative.
func (c *Calculator) Compute(ctx context.Context, input Input) (decimal.Decimal, error) {
	if input.MatchedAmount.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "matched amount cannot be negative")
	}
	if !input.Rule.DiscountValue.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "discount value must be positive")
	}

	var amount decimal.Decimal
	switch input.Rule.DiscountType {
	case enums.DiscountTypePercentage:
		amount = input.MatchedAmount.Mul(input.Rule.DiscountValue).Div(oneHundred)

	case enums.DiscountTypeFixedAmount:
		converted, err := c.converter.Convert(ctx, input.Rule.DiscountValue, input.BudgetCurrency, input.OrderCurrency)
		if err != nil {
			return decimal.Zero, err
		}
		amount = converted

	default:
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown discount type %q", input.Rule.DiscountType))
	}

	if input.Rule.MaxDiscountAmount != nil {
		maxAmount, err := c.converter.Convert(ctx, *input.Rule.MaxDiscountAmount, input.BudgetCurrency, input.OrderCurrency)
		if err != nil {
			return decimal.Zero, err
		}
		if amount.GreaterThan(maxAmount) {
			amount = maxAmount
		}
	}

	if amount.GreaterThan(input.MatchedAmount) {
		amount = input.MatchedAmount
	}

	return amount.Round(input.OrderCurrency.Exponent()), nil
}
