package eligibility

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/internal/rates"
	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/metrics"
)

const (
	outcomeMatched     = "matched"
	outcomeWindow      = "outside_window"
	outcomeCustomer    = "customer_mismatch"
	outcomeProduct     = "product_mismatch"
	outcomeMinOrder    = "below_min_order"
	outcomeMinQuantity = "below_min_quantity"
)

// ApplicableRule pairs a matched rule with the slice of the order it applies
// to. MatchedAmount is denominated in the order currency. MatchedLineIDs
// holds the order item IDs a targeted rule matched, in line order; it is nil
// for rules covering the whole order.
type ApplicableRule struct {
	Campaign        models.Campaign
	Rule            models.DiscountRule
	MatchedAmount   decimal.Decimal
	MatchedQuantity int
	MatchedLineIDs  []uuid.UUID
}

// Evaluator decides which discount rules apply to an order. It performs no
// writes and no repository calls; callers pass in candidate campaigns with
// rules and restriction rows preloaded.
type Evaluator struct {
	converter rates.Converter
	metrics   *metrics.DiscountMetrics
}

func NewEvaluator(converter rates.Converter, m *metrics.DiscountMetrics) (*Evaluator, error) {
	if converter == nil {
		return nil, fmt.Errorf("currency converter required")
	}
	return &Evaluator{converter: converter, metrics: m}, nil
}

// FindApplicableRules returns every rule that matches the order, ordered so
// the caller applies the highest-priority campaign first. Ties break on
// campaign creation time (older first), then rule creation time.
func (e *Evaluator) FindApplicableRules(ctx context.Context, campaigns []models.Campaign, order OrderContext, now time.Time) ([]ApplicableRule, error) {
	subtotal := order.Subtotal()

	var out []ApplicableRule
	for _, campaign := range campaigns {
		if campaign.IsDeleted || !campaign.IsRunning(now) {
			e.count(outcomeWindow)
			continue
		}

		// campaign thresholds are denominated in the budget currency
		subtotalInBudget, err := e.converter.Convert(ctx, subtotal, order.Currency, campaign.BudgetCurrency())
		if err != nil {
			return nil, err
		}

		for _, rule := range campaign.Rules {
			if rule.IsDeleted {
				continue
			}
			matched, outcome := e.matchRule(campaign, rule, order, subtotalInBudget)
			e.count(outcome)
			if matched == nil {
				continue
			}
			out = append(out, *matched)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Campaign.Priority != out[j].Campaign.Priority {
			return out[i].Campaign.Priority > out[j].Campaign.Priority
		}
		if !out[i].Campaign.CreatedAt.Equal(out[j].Campaign.CreatedAt) {
			return out[i].Campaign.CreatedAt.Before(out[j].Campaign.CreatedAt)
		}
		return out[i].Rule.CreatedAt.Before(out[j].Rule.CreatedAt)
	})
	return out, nil
}

func (e *Evaluator) matchRule(campaign models.Campaign, rule models.DiscountRule, order OrderContext, subtotalInBudget decimal.Decimal) (*ApplicableRule, string) {
	if !customerMatches(rule, order) {
		return nil, outcomeCustomer
	}

	matchedAmount, matchedQuantity, matchedLines := matchedSlice(rule, order)
	if matchedQuantity == 0 {
		return nil, outcomeProduct
	}

	if rule.MinOrderAmount != nil && subtotalInBudget.LessThan(*rule.MinOrderAmount) {
		return nil, outcomeMinOrder
	}
	if rule.MinQuantity != nil && matchedQuantity < *rule.MinQuantity {
		return nil, outcomeMinQuantity
	}

	return &ApplicableRule{
		Campaign:        campaign,
		Rule:            rule,
		MatchedAmount:   matchedAmount,
		MatchedQuantity: matchedQuantity,
		MatchedLineIDs:  matchedLines,
	}, outcomeMatched
}

// matchedSlice returns the order amount, quantity and line item IDs the rule
// applies to. A rule targeting specific products with no live restriction
// rows matches nothing.
func matchedSlice(rule models.DiscountRule, order OrderContext) (decimal.Decimal, int, []uuid.UUID) {
	if rule.ProductTargetType == enums.ProductTargetAll {
		return order.Subtotal(), order.TotalQuantity(), nil
	}

	products := liveProductSet(rule)
	categories := liveCategorySet(rule)
	brands := liveBrandSet(rule)
	if len(products) == 0 && len(categories) == 0 && len(brands) == 0 {
		return decimal.Zero, 0, nil
	}

	amount := decimal.Zero
	quantity := 0
	var lines []uuid.UUID
	for _, line := range order.Lines {
		if !lineMatches(line, products, categories, brands) {
			continue
		}
		amount = amount.Add(line.Amount())
		quantity += line.Quantity
		lines = append(lines, line.LineItemID)
	}
	return amount, quantity, lines
}

func lineMatches(line OrderLine, products, categories, brands map[uuid.UUID]struct{}) bool {
	if _, ok := products[line.ProductID]; ok {
		return true
	}
	if line.CategoryID != nil {
		if _, ok := categories[*line.CategoryID]; ok {
			return true
		}
	}
	if line.BrandID != nil {
		if _, ok := brands[*line.BrandID]; ok {
			return true
		}
	}
	return false
}

func customerMatches(rule models.DiscountRule, order OrderContext) bool {
	if rule.CustomerTargetType == enums.CustomerTargetAll {
		return true
	}
	for _, c := range rule.Customers {
		if !c.IsDeleted && c.CustomerID == order.CustomerID {
			return true
		}
	}
	for _, t := range rule.CustomerTiers {
		if !t.IsDeleted && t.Tier == order.CustomerTier {
			return true
		}
	}
	return false
}

func liveProductSet(rule models.DiscountRule) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(rule.Products))
	for _, p := range rule.Products {
		if !p.IsDeleted {
			set[p.ProductID] = struct{}{}
		}
	}
	return set
}

func liveCategorySet(rule models.DiscountRule) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(rule.Categories))
	for _, c := range rule.Categories {
		if !c.IsDeleted {
			set[c.CategoryID] = struct{}{}
		}
	}
	return set
}

func liveBrandSet(rule models.DiscountRule) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(rule.Brands))
	for _, b := range rule.Brands {
		if !b.IsDeleted {
			set[b.BrandID] = struct{}{}
		}
	}
	return set
}

func (e *Evaluator) count(outcome string) {
	if e.metrics != nil {
		e.metrics.IncRuleOutcome(outcome)
	}
}
