package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DiscountMetrics tracks the outcomes of campaign evaluation during order
// approval.
type DiscountMetrics struct {
	rulesEvaluated *prometheus.CounterVec
	usagesRecorded prometheus.Counter
	usagesReversed prometheus.Counter
	budgetDenials  *prometheus.CounterVec
}

// NewDiscountMetrics registers the discount evaluation metrics on the
// provided registerer.
func NewDiscountMetrics(reg prometheus.Registerer) *DiscountMetrics {
	if reg == nil {
		return &DiscountMetrics{}
	}
	rulesEvaluated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "discount_rules_evaluated",
		Help: "Discount rules considered during order approval, by outcome.",
	}, []string{"outcome"})
	usagesRecorded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_usages_recorded",
		Help: "Campaign usage ledger rows written.",
	})
	usagesReversed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_usages_reversed",
		Help: "Campaign usage ledger rows reversed.",
	})
	budgetDenials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_budget_denials",
		Help: "Budget ledger denials, by reason.",
	}, []string{"reason"})
	reg.MustRegister(rulesEvaluated, usagesRecorded, usagesReversed, budgetDenials)
	return &DiscountMetrics{
		rulesEvaluated: rulesEvaluated,
		usagesRecorded: usagesRecorded,
		usagesReversed: usagesReversed,
		budgetDenials:  budgetDenials,
	}
}

// IncRuleOutcome counts one evaluated rule with the given outcome label
// (applied, skipped, denied).
func (d *DiscountMetrics) IncRuleOutcome(outcome string) {
	if d == nil || d.rulesEvaluated == nil {
		return
	}
	d.rulesEvaluated.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncUsageRecorded counts one ledger row written.
func (d *DiscountMetrics) IncUsageRecorded() {
	if d == nil || d.usagesRecorded == nil {
		return
	}
	d.usagesRecorded.Inc()
}

// IncUsageReversed counts one ledger row reversed.
func (d *DiscountMetrics) IncUsageReversed() {
	if d == nil || d.usagesReversed == nil {
		return
	}
	d.usagesReversed.Inc()
}

// IncBudgetDenial counts one ledger denial with its reason label.
func (d *DiscountMetrics) IncBudgetDenial(reason string) {
	if d == nil || d.budgetDenials == nil {
		return
	}
	d.budgetDenials.WithLabelValues(normalizeLabel(reason)).Inc()
}
