package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/calderahq/commerce-backend/internal/budget"
	"github.com/calderahq/commerce-backend/internal/campaigns"
	"github.com/calderahq/commerce-backend/internal/discount"
	"github.com/calderahq/commerce-backend/internal/eligibility"
	"github.com/calderahq/commerce-backend/internal/rates"
	"github.com/calderahq/commerce-backend/internal/usages"
	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/outbox"
)

const workflowSchema = `
CREATE TABLE IF NOT EXISTS campaigns (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  status TEXT NOT NULL DEFAULT 'draft',
  priority INTEGER NOT NULL DEFAULT 0,
  start_date DATETIME NOT NULL,
  end_date DATETIME NOT NULL,
  total_budget_limit_amount NUMERIC,
  total_budget_limit_currency TEXT,
  total_usage_limit INTEGER,
  per_customer_budget_limit_amount NUMERIC,
  per_customer_budget_limit_currency TEXT,
  per_customer_usage_limit INTEGER,
  total_discount_used_amount NUMERIC NOT NULL DEFAULT 0,
  total_discount_used_currency TEXT NOT NULL DEFAULT 'USD',
  total_usage_count INTEGER NOT NULL DEFAULT 0,
  lock_version INTEGER NOT NULL DEFAULT 0,
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rules (
  id TEXT PRIMARY KEY,
  campaign_id TEXT NOT NULL,
  discount_type TEXT NOT NULL,
  discount_value NUMERIC NOT NULL,
  max_discount_amount NUMERIC,
  product_target_type TEXT NOT NULL DEFAULT 'all_products',
  customer_target_type TEXT NOT NULL DEFAULT 'all_customers',
  min_order_amount NUMERIC,
  min_quantity INTEGER,
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rule_products (
  id TEXT PRIMARY KEY, discount_rule_id TEXT NOT NULL, product_id TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0, created_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rule_categories (
  id TEXT PRIMARY KEY, discount_rule_id TEXT NOT NULL, category_id TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0, created_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rule_brands (
  id TEXT PRIMARY KEY, discount_rule_id TEXT NOT NULL, brand_id TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0, created_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rule_customers (
  id TEXT PRIMARY KEY, discount_rule_id TEXT NOT NULL, customer_id TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0, created_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rule_customer_tiers (
  id TEXT PRIMARY KEY, discount_rule_id TEXT NOT NULL, tier TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0, created_at DATETIME
);
CREATE TABLE IF NOT EXISTS campaign_usages (
  id TEXT PRIMARY KEY,
  campaign_id TEXT NOT NULL,
  discount_rule_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  order_item_id TEXT,
  discount_amount NUMERIC NOT NULL,
  discount_currency TEXT NOT NULL,
  used_at DATETIME NOT NULL,
  is_reversed INTEGER NOT NULL DEFAULT 0,
  reversed_at DATETIME,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS customers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  tier TEXT NOT NULL DEFAULT 'standard',
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  currency TEXT NOT NULL,
  subtotal_amount NUMERIC NOT NULL,
  discount_amount NUMERIC NOT NULL DEFAULT 0,
  total_amount NUMERIC NOT NULL,
  approved_at DATETIME,
  cancelled_at DATETIME,
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS order_line_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  category_id TEXT,
  brand_id TEXT,
  quantity INTEGER NOT NULL,
  unit_price NUMERIC NOT NULL,
  created_at DATETIME
);
`

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(workflowSchema).Error)
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	return f.Emit(ctx, tx, event)
}

func (f *fakeEmitter) countByType(eventType enums.OutboxEventType) int {
	count := 0
	for _, event := range f.events {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

func newTestWorkflow(t *testing.T) (Service, *gorm.DB, *fakeEmitter) {
	t.Helper()

	db := setupOrdersTestDB(t)
	emitter := &fakeEmitter{}
	logg := logger.New(logger.Options{ServiceName: "orders-test"})

	converter, err := rates.NewFixedTable(enums.CurrencyUSD)
	require.NoError(t, err)
	evaluator, err := eligibility.NewEvaluator(converter, nil)
	require.NoError(t, err)
	calculator, err := discount.NewCalculator(converter)
	require.NoError(t, err)

	usageRepo := usages.NewRepository(db)
	checker, err := budget.NewChecker(usageRepo, converter, nil)
	require.NoError(t, err)

	usageSvc, err := usages.NewService(usages.Params{
		Repo:      usageRepo,
		Campaigns: campaigns.NewRepository(db),
		Tx:        &testTxRunner{db: db},
		Outbox:    emitter,
		Logger:    logg,
	})
	require.NoError(t, err)

	svc, err := NewService(Params{
		Repo:       NewRepository(db),
		Campaigns:  campaigns.NewRepository(db),
		Usages:     usageSvc,
		Budget:     checker,
		Evaluator:  evaluator,
		Calculator: calculator,
		Converter:  converter,
		Tx:         &testTxRunner{db: db},
		Outbox:     emitter,
		Logger:     logg,
	})
	require.NoError(t, err)
	return svc, db, emitter
}

func seedWorkflowCustomer(t *testing.T, db *gorm.DB) *models.Customer {
	t.Helper()

	customer := &models.Customer{
		ID:    uuid.New(),
		Name:  "Acme Wholesale",
		Email: "purchasing@acme.example",
		Tier:  enums.CustomerTierStandard,
	}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

type campaignSeed struct {
	priority     int
	percentValue string
	totalBudget  string
	usageLimit   int
	createdAt    time.Time
}

func seedPercentCampaign(t *testing.T, db *gorm.DB, seed campaignSeed) *models.Campaign {
	t.Helper()

	usd := enums.CurrencyUSD
	campaign := &models.Campaign{
		ID:                        uuid.New(),
		Name:                      fmt.Sprintf("campaign p%d", seed.priority),
		Status:                    enums.CampaignStatusActive,
		Priority:                  seed.priority,
		StartDate:                 time.Now().Add(-time.Hour),
		EndDate:                   time.Now().Add(time.Hour),
		TotalDiscountUsedCurrency: usd,
	}
	if seed.totalBudget != "" {
		amount := decimal.RequireFromString(seed.totalBudget)
		campaign.TotalBudgetLimitAmount = &amount
		campaign.TotalBudgetLimitCurrency = &usd
	}
	if seed.usageLimit > 0 {
		limit := seed.usageLimit
		campaign.TotalUsageLimit = &limit
	}
	if !seed.createdAt.IsZero() {
		campaign.CreatedAt = seed.createdAt
	}
	require.NoError(t, db.Create(campaign).Error)

	rule := &models.DiscountRule{
		ID:                 uuid.New(),
		CampaignID:         campaign.ID,
		DiscountType:       enums.DiscountTypePercentage,
		DiscountValue:      decimal.RequireFromString(seed.percentValue),
		ProductTargetType:  enums.ProductTargetAll,
		CustomerTargetType: enums.CustomerTargetAll,
	}
	require.NoError(t, db.Create(rule).Error)
	return campaign
}

func createPendingOrder(t *testing.T, svc Service, customerID uuid.UUID, unitPrice string, quantity int) *models.Order {
	t.Helper()

	order, err := svc.Create(context.Background(), CreateInput{
		CustomerID: customerID,
		Currency:   enums.CurrencyUSD,
		Items: []LineItemInput{
			{ProductID: uuid.New(), Quantity: quantity, UnitPrice: decimal.RequireFromString(unitPrice)},
		},
	})
	require.NoError(t, err)
	return order
}

func loadWorkflowCampaign(t *testing.T, db *gorm.DB, id uuid.UUID) models.Campaign {
	t.Helper()
	var campaign models.Campaign
	require.NoError(t, db.First(&campaign, "id = ?", id).Error)
	return campaign
}

func TestApproveAppliesHighestPriorityRule(t *testing.T) {
	svc, db, emitter := newTestWorkflow(t)
	customer := seedWorkflowCustomer(t, db)

	winner := seedPercentCampaign(t, db, campaignSeed{priority: 10, percentValue: "10"})
	seedPercentCampaign(t, db, campaignSeed{priority: 5, percentValue: "50"})

	order := createPendingOrder(t, svc, customer.ID, "100.00", 1)

	evaluation, err := svc.Approve(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, evaluation.Applied)
	assert.Equal(t, winner.ID, evaluation.Applied.CampaignID)
	assert.True(t, evaluation.DiscountAmount.Equal(decimal.RequireFromString("10.00")),
		"discount %s", evaluation.DiscountAmount)
	assert.True(t, evaluation.TotalAmount.Equal(decimal.RequireFromString("90.00")))

	loaded, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusApproved, loaded.Status)
	assert.True(t, loaded.DiscountAmount.Equal(decimal.RequireFromString("10.00")))

	counters := loadWorkflowCampaign(t, db, winner.ID)
	assert.Equal(t, 1, counters.TotalUsageCount)
	assert.True(t, counters.TotalDiscountUsedAmount.Equal(decimal.RequireFromString("10.00")))

	assert.Equal(t, 1, emitter.countByType(enums.EventUsageRecorded))
	assert.Equal(t, 1, emitter.countByType(enums.EventOrderApproved))
}

func TestApproveSkipsBudgetExhaustedCampaign(t *testing.T) {
	svc, db, _ := newTestWorkflow(t)
	customer := seedWorkflowCustomer(t, db)

	// the high-priority campaign cannot afford the 10.00 discount
	seedPercentCampaign(t, db, campaignSeed{priority: 10, percentValue: "10", totalBudget: "5.00"})
	fallback := seedPercentCampaign(t, db, campaignSeed{priority: 5, percentValue: "5"})

	order := createPendingOrder(t, svc, customer.ID, "100.00", 1)

	evaluation, err := svc.Approve(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, evaluation.Applied)
	assert.Equal(t, fallback.ID, evaluation.Applied.CampaignID)
	assert.True(t, evaluation.DiscountAmount.Equal(decimal.RequireFromString("5.00")))
	assert.Contains(t, evaluation.SkippedReasons, budget.ReasonTotalBudget)
}

func TestApproveStopsAfterUsageLimit(t *testing.T) {
	svc, db, _ := newTestWorkflow(t)
	customer := seedWorkflowCustomer(t, db)
	campaign := seedPercentCampaign(t, db, campaignSeed{priority: 10, percentValue: "10", usageLimit: 1})

	first := createPendingOrder(t, svc, customer.ID, "100.00", 1)
	evaluation, err := svc.Approve(context.Background(), first.ID)
	require.NoError(t, err)
	require.NotNil(t, evaluation.Applied)

	second := createPendingOrder(t, svc, customer.ID, "100.00", 1)
	evaluation, err = svc.Approve(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Nil(t, evaluation.Applied)
	assert.True(t, evaluation.DiscountAmount.IsZero())
	assert.True(t, evaluation.TotalAmount.Equal(evaluation.SubtotalAmount))
	assert.Contains(t, evaluation.SkippedReasons, budget.ReasonTotalUsage)

	counters := loadWorkflowCampaign(t, db, campaign.ID)
	assert.Equal(t, 1, counters.TotalUsageCount)
}

func TestApproveAttributesUsageToMatchedLineItem(t *testing.T) {
	svc, db, _ := newTestWorkflow(t)
	customer := seedWorkflowCustomer(t, db)

	campaign := seedPercentCampaign(t, db, campaignSeed{priority: 10, percentValue: "10"})

	// narrow the rule to a single product
	targetProduct := uuid.New()
	var rule models.DiscountRule
	require.NoError(t, db.First(&rule, "campaign_id = ?", campaign.ID).Error)
	require.NoError(t, db.Model(&rule).
		Update("product_target_type", enums.ProductTargetSpecific).Error)
	require.NoError(t, db.Create(&models.DiscountRuleProduct{
		ID:             uuid.New(),
		DiscountRuleID: rule.ID,
		ProductID:      targetProduct,
	}).Error)

	order, err := svc.Create(context.Background(), CreateInput{
		CustomerID: customer.ID,
		Currency:   enums.CurrencyUSD,
		Items: []LineItemInput{
			{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.RequireFromString("40.00")},
			{ProductID: targetProduct, Quantity: 2, UnitPrice: decimal.RequireFromString("30.00")},
		},
	})
	require.NoError(t, err)

	evaluation, err := svc.Approve(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, evaluation.Applied)
	// 10 percent of the matched 60.00 line, not of the 100.00 subtotal
	assert.True(t, evaluation.DiscountAmount.Equal(decimal.RequireFromString("6.00")),
		"discount %s", evaluation.DiscountAmount)

	var matchedItem models.OrderLineItem
	require.NoError(t, db.First(&matchedItem, "order_id = ? AND product_id = ?", order.ID, targetProduct).Error)

	var usage models.CampaignUsage
	require.NoError(t, db.First(&usage, "order_id = ?", order.ID).Error)
	require.NotNil(t, usage.OrderItemID)
	assert.Equal(t, matchedItem.ID, *usage.OrderItemID)
}

func TestCancelReversesUsages(t *testing.T) {
	svc, db, emitter := newTestWorkflow(t)
	customer := seedWorkflowCustomer(t, db)
	campaign := seedPercentCampaign(t, db, campaignSeed{priority: 10, percentValue: "10"})

	order := createPendingOrder(t, svc, customer.ID, "100.00", 1)
	_, err := svc.Approve(context.Background(), order.ID)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	counters := loadWorkflowCampaign(t, db, campaign.ID)
	assert.Equal(t, 0, counters.TotalUsageCount)
	assert.True(t, counters.TotalDiscountUsedAmount.IsZero(), "counter %s", counters.TotalDiscountUsedAmount)

	var reversedCount int64
	require.NoError(t, db.Model(&models.CampaignUsage{}).
		Where("order_id = ? AND is_reversed = ?", order.ID, true).Count(&reversedCount).Error)
	assert.EqualValues(t, 1, reversedCount)
	assert.Equal(t, 1, emitter.countByType(enums.EventOrderCancelled))

	// a cancelled order cannot be cancelled again
	_, err = svc.Cancel(context.Background(), order.ID)
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestApproveRequiresPendingOrder(t *testing.T) {
	svc, db, _ := newTestWorkflow(t)
	customer := seedWorkflowCustomer(t, db)
	seedPercentCampaign(t, db, campaignSeed{priority: 1, percentValue: "10"})

	order := createPendingOrder(t, svc, customer.ID, "50.00", 1)
	_, err := svc.Approve(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), order.ID)
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestRejectClosesPendingOrderWithoutLedgerRows(t *testing.T) {
	svc, db, _ := newTestWorkflow(t)
	customer := seedWorkflowCustomer(t, db)

	order := createPendingOrder(t, svc, customer.ID, "50.00", 1)

	rejected, err := svc.Reject(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRejected, rejected.Status)

	var usageCount int64
	require.NoError(t, db.Model(&models.CampaignUsage{}).
		Where("order_id = ?", order.ID).Count(&usageCount).Error)
	assert.Zero(t, usageCount)
}

func TestPreviewDoesNotWrite(t *testing.T) {
	svc, db, emitter := newTestWorkflow(t)
	customer := seedWorkflowCustomer(t, db)
	campaign := seedPercentCampaign(t, db, campaignSeed{priority: 10, percentValue: "10"})

	order := createPendingOrder(t, svc, customer.ID, "100.00", 1)

	evaluation, err := svc.Preview(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, evaluation.Applied)
	assert.Nil(t, evaluation.Applied.UsageID)
	assert.True(t, evaluation.DiscountAmount.Equal(decimal.RequireFromString("10.00")))

	loaded, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, loaded.Status)

	counters := loadWorkflowCampaign(t, db, campaign.ID)
	assert.Equal(t, 0, counters.TotalUsageCount)
	assert.Equal(t, 0, emitter.countByType(enums.EventUsageRecorded))
}

func TestCreateValidatesInput(t *testing.T) {
	svc, db, _ := newTestWorkflow(t)
	customer := seedWorkflowCustomer(t, db)

	_, err := svc.Create(context.Background(), CreateInput{
		CustomerID: customer.ID,
		Currency:   enums.Currency("XXX"),
		Items:      []LineItemInput{{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
	})
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())

	_, err = svc.Create(context.Background(), CreateInput{
		CustomerID: customer.ID,
		Currency:   enums.CurrencyUSD,
	})
	require.Error(t, err)

	_, err = svc.Create(context.Background(), CreateInput{
		CustomerID: uuid.New(),
		Currency:   enums.CurrencyUSD,
		Items:      []LineItemInput{{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
	})
	require.Error(t, err)
	appErr = pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeNotFound, appErr.Code())
}
