package rates

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
)

// Converter translates monetary amounts between currencies at evaluation
// time. Implementations must be safe for concurrent use.
type Converter interface {
	// Convert returns amount expressed in the target currency. The result is
	// not rounded; callers round once at the final amount.
	Convert(ctx context.Context, amount decimal.Decimal, from, to enums.Currency) (decimal.Decimal, error)

	// Rate returns the multiplier that converts one unit of from into to.
	Rate(ctx context.Context, from, to enums.Currency) (decimal.Decimal, error)
}

// FixedTable is a Converter backed by an in-process rate table keyed on a
// base currency. A missing pair is a hard dependency failure so a discount
// is never computed on a guessed rate.
type FixedTable struct {
	// units of the base currency per one unit of the keyed currency; the
	// base itself always quotes at 1
	perBase map[enums.Currency]decimal.Decimal
}

// referenceRates are the shipped quotes, expressed in USD per one unit of
// the keyed currency. NewFixedTable rebases them onto the configured base.
var referenceRates = map[enums.Currency]decimal.Decimal{
	enums.CurrencyUSD: decimal.NewFromInt(1),
	enums.CurrencyEUR: decimal.RequireFromString("1.08"),
	enums.CurrencyGBP: decimal.RequireFromString("1.27"),
	enums.CurrencyTRY: decimal.RequireFromString("0.03"),
}

// NewFixedTable builds the default table used when no external rate source
// is configured, rebased so that base quotes at exactly 1.
func NewFixedTable(base enums.Currency) (*FixedTable, error) {
	if !base.IsValid() {
		return nil, fmt.Errorf("invalid base currency %q", base)
	}
	baseRate, ok := referenceRates[base]
	if !ok || baseRate.IsZero() {
		return nil, fmt.Errorf("no reference rate for base currency %q", base)
	}
	perBase := make(map[enums.Currency]decimal.Decimal, len(referenceRates))
	for currency, rate := range referenceRates {
		perBase[currency] = rate.Div(baseRate)
	}
	return &FixedTable{perBase: perBase}, nil
}

func (t *FixedTable) Rate(_ context.Context, from, to enums.Currency) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	fromRate, ok := t.perBase[from]
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("no exchange rate for %s", from))
	}
	toRate, ok := t.perBase[to]
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("no exchange rate for %s", to))
	}
	if toRate.IsZero() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("zero exchange rate for %s", to))
	}
	return fromRate.Div(toRate), nil
}

func (t *FixedTable) Convert(ctx context.Context, amount decimal.Decimal, from, to enums.Currency) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rate, err := t.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}
