package budget

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/metrics"
)

// Denial reasons surfaced in decisions, logs and metrics.
const (
	ReasonTotalBudget       = "total_budget_exceeded"
	ReasonTotalUsage        = "total_usage_limit_reached"
	ReasonPerCustomerBudget = "per_customer_budget_exceeded"
	ReasonPerCustomerUsage  = "per_customer_usage_limit_reached"
)

// Decision is the outcome of a budget check. A denied decision is not an
// error: callers skip the campaign and continue with the next candidate.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

type customerUsageReader interface {
	SumsForCustomerTx(tx *gorm.DB, campaignID, customerID uuid.UUID) (decimal.Decimal, int, error)
}

type currencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to enums.Currency) (decimal.Decimal, error)
}

// Checker enforces campaign budget and usage limits. The caller must hold the
// campaign row lock for the duration of the check plus the subsequent usage
// insert, otherwise two concurrent orders can both pass the same remaining
// budget.
type Checker struct {
	usages    customerUsageReader
	converter currencyConverter
	metrics   *metrics.DiscountMetrics
}

func NewChecker(usages customerUsageReader, converter currencyConverter, m *metrics.DiscountMetrics) (*Checker, error) {
	if usages == nil {
		return nil, fmt.Errorf("usage reader required")
	}
	if converter == nil {
		return nil, fmt.Errorf("currency converter required")
	}
	return &Checker{usages: usages, converter: converter, metrics: m}, nil
}

// Check verifies that applying amount (in the campaign budget currency) for
// the customer stays inside every configured limit. Limits configured in a
// different currency are converted into the budget currency before
// comparison. The campaign must be the row-locked instance so the
// denormalized counters are current.
func (c *Checker) Check(ctx context.Context, tx *gorm.DB, campaign *models.Campaign, customerID uuid.UUID, amount decimal.Decimal) (Decision, error) {
	if tx == nil {
		return Decision{}, gorm.ErrInvalidTransaction
	}
	if campaign == nil {
		return Decision{}, fmt.Errorf("campaign required")
	}
	if amount.IsNegative() {
		return Decision{}, fmt.Errorf("amount cannot be negative")
	}

	if campaign.TotalBudgetLimitAmount != nil {
		if campaign.TotalDiscountUsedAmount.Add(amount).GreaterThan(*campaign.TotalBudgetLimitAmount) {
			return c.denied(ReasonTotalBudget), nil
		}
	}
	if campaign.TotalUsageLimit != nil {
		if campaign.TotalUsageCount+1 > *campaign.TotalUsageLimit {
			return c.denied(ReasonTotalUsage), nil
		}
	}

	if campaign.PerCustomerBudgetLimitAmount == nil && campaign.PerCustomerUsageLimit == nil {
		return allow(), nil
	}

	customerAmount, customerCount, err := c.usages.SumsForCustomerTx(tx, campaign.ID, customerID)
	if err != nil {
		return Decision{}, fmt.Errorf("summing customer usage: %w", err)
	}

	if campaign.PerCustomerBudgetLimitAmount != nil {
		limit, err := c.perCustomerLimit(ctx, campaign)
		if err != nil {
			return Decision{}, err
		}
		if customerAmount.Add(amount).GreaterThan(limit) {
			return c.denied(ReasonPerCustomerBudget), nil
		}
	}
	if campaign.PerCustomerUsageLimit != nil {
		if customerCount+1 > *campaign.PerCustomerUsageLimit {
			return c.denied(ReasonPerCustomerUsage), nil
		}
	}

	return allow(), nil
}

// perCustomerLimit returns the per-customer cap expressed in the campaign
// budget currency, since the ledger sums it is compared against are
// denominated there.
func (c *Checker) perCustomerLimit(ctx context.Context, campaign *models.Campaign) (decimal.Decimal, error) {
	limit := *campaign.PerCustomerBudgetLimitAmount
	budgetCurrency := campaign.BudgetCurrency()
	limitCurrency := budgetCurrency
	if campaign.PerCustomerBudgetLimitCurrency != nil {
		limitCurrency = *campaign.PerCustomerBudgetLimitCurrency
	}
	if limitCurrency == budgetCurrency {
		return limit, nil
	}
	converted, err := c.converter.Convert(ctx, limit, limitCurrency, budgetCurrency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("converting per-customer limit: %w", err)
	}
	return converted, nil
}

func (c *Checker) denied(reason string) Decision {
	if c.metrics != nil {
		c.metrics.IncBudgetDenial(reason)
	}
	return deny(reason)
}
