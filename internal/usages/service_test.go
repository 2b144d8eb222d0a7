package usages

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

	"github.com/calderahq/commerce-backend/internal/campaigns"
	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/outbox"
)

const usageSchema = `
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
`

func setupUsagesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(usageSchema).Error)
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

func seedCampaign(t *testing.T, db *gorm.DB) *models.Campaign {
	t.Helper()

	campaign := &models.Campaign{
		ID:                        uuid.New(),
		Name:                      "ledger test campaign",
		Status:                    enums.CampaignStatusActive,
		StartDate:                 time.Now().Add(-time.Hour),
		EndDate:                   time.Now().Add(time.Hour),
		TotalDiscountUsedCurrency: enums.CurrencyUSD,
	}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

func newTestLedger(t *testing.T) (Service, *gorm.DB, *fakeEmitter) {
	t.Helper()

	db := setupUsagesTestDB(t)
	emitter := &fakeEmitter{}
	svc, err := NewService(Params{
		Repo:      NewRepository(db),
		Campaigns: campaigns.NewRepository(db),
		Tx:        &testTxRunner{db: db},
		Outbox:    emitter,
		Logger:    logger.New(logger.Options{ServiceName: "usages-test"}),
	})
	require.NoError(t, err)
	return svc, db, emitter
}

func recordOne(t *testing.T, svc Service, db *gorm.DB, campaignID uuid.UUID, amount string) *models.CampaignUsage {
	t.Helper()

	var usage *models.CampaignUsage
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		usage, err = svc.RecordTx(context.Background(), tx, RecordInput{
			CampaignID:     campaignID,
			DiscountRuleID: uuid.New(),
			CustomerID:     uuid.New(),
			OrderID:        uuid.New(),
			Amount:         decimal.RequireFromString(amount),
			Currency:       enums.CurrencyUSD,
		})
		return err
	})
	require.NoError(t, err)
	return usage
}

func loadCampaign(t *testing.T, db *gorm.DB, id uuid.UUID) models.Campaign {
	t.Helper()
	var campaign models.Campaign
	require.NoError(t, db.First(&campaign, "id = ?", id).Error)
	return campaign
}

func TestRecordTxKeepsCountersEqualToLedger(t *testing.T) {
	svc, db, emitter := newTestLedger(t)
	campaign := seedCampaign(t, db)

	recordOne(t, svc, db, campaign.ID, "12.50")
	recordOne(t, svc, db, campaign.ID, "7.25")

	loaded := loadCampaign(t, db, campaign.ID)
	assert.True(t, loaded.TotalDiscountUsedAmount.Equal(decimal.RequireFromString("19.75")),
		"counter %s", loaded.TotalDiscountUsedAmount)
	assert.Equal(t, 2, loaded.TotalUsageCount)

	amount, count, err := NewRepository(db).SumsForCampaignTx(db, campaign.ID)
	require.NoError(t, err)
	assert.True(t, loaded.TotalDiscountUsedAmount.Equal(amount))
	assert.Equal(t, loaded.TotalUsageCount, count)

	require.Len(t, emitter.events, 2)
	assert.Equal(t, enums.EventUsageRecorded, emitter.events[0].EventType)
}

func TestReverseIsOneWay(t *testing.T) {
	svc, db, emitter := newTestLedger(t)
	campaign := seedCampaign(t, db)
	usage := recordOne(t, svc, db, campaign.ID, "10.00")

	reversed, err := svc.Reverse(context.Background(), usage.ID)
	require.NoError(t, err)
	assert.True(t, reversed.IsReversed)
	require.NotNil(t, reversed.ReversedAt)

	loaded := loadCampaign(t, db, campaign.ID)
	assert.True(t, loaded.TotalDiscountUsedAmount.IsZero(), "counter %s", loaded.TotalDiscountUsedAmount)
	assert.Equal(t, 0, loaded.TotalUsageCount)

	// second reversal must not decrement again
	_, err = svc.Reverse(context.Background(), usage.ID)
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())

	loaded = loadCampaign(t, db, campaign.ID)
	assert.True(t, loaded.TotalDiscountUsedAmount.IsZero())
	assert.Equal(t, 0, loaded.TotalUsageCount)

	var reversedEvents int
	for _, event := range emitter.events {
		if event.EventType == enums.EventUsageReversed {
			reversedEvents++
		}
	}
	assert.Equal(t, 1, reversedEvents)
}

func TestReverseForOrderTxReversesAllActiveRows(t *testing.T) {
	svc, db, _ := newTestLedger(t)
	campaign := seedCampaign(t, db)

	orderID := uuid.New()
	for _, amount := range []string{"5.00", "3.00"} {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := svc.RecordTx(context.Background(), tx, RecordInput{
				CampaignID:     campaign.ID,
				DiscountRuleID: uuid.New(),
				CustomerID:     uuid.New(),
				OrderID:        orderID,
				Amount:         decimal.RequireFromString(amount),
				Currency:       enums.CurrencyUSD,
			})
			return err
		})
		require.NoError(t, err)
	}

	var count int
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = svc.ReverseForOrderTx(context.Background(), tx, orderID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	loaded := loadCampaign(t, db, campaign.ID)
	assert.True(t, loaded.TotalDiscountUsedAmount.IsZero())
	assert.Equal(t, 0, loaded.TotalUsageCount)

	// rerun is a no-op
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = svc.ReverseForOrderTx(context.Background(), tx, orderID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReconcileCorrectsDriftedCounters(t *testing.T) {
	svc, db, emitter := newTestLedger(t)
	campaign := seedCampaign(t, db)
	recordOne(t, svc, db, campaign.ID, "10.00")

	// inject drift
	require.NoError(t, db.Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).
		Updates(map[string]any{
			"total_discount_used_amount": decimal.RequireFromString("99.99"),
			"total_usage_count":          7,
		}).Error)

	result, err := svc.Reconcile(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.True(t, result.Drifted)
	assert.True(t, result.CorrectedUsedAmount.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, 1, result.CorrectedUsageCount)

	loaded := loadCampaign(t, db, campaign.ID)
	assert.True(t, loaded.TotalDiscountUsedAmount.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, 1, loaded.TotalUsageCount)

	var reconciled int
	for _, event := range emitter.events {
		if event.EventType == enums.EventCountersReconciled {
			reconciled++
		}
	}
	assert.Equal(t, 1, reconciled)

	// consistent counters are untouched
	result, err = svc.Reconcile(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.False(t, result.Drifted)
}
