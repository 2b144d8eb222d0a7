package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/calderahq/commerce-backend/internal/campaigns"
	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/outbox"
)

const cronSchema = `
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
`

func setupCronTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(cronSchema).Error)
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type aggregateKey struct {
	eventType enums.OutboxEventType
	aggregate uuid.UUID
}

// fakeOnceEmitter mimics the once-per-aggregate outbox emit.
type fakeOnceEmitter struct {
	events []outbox.DomainEvent
	seen   map[aggregateKey]bool
}

func (f *fakeOnceEmitter) EmitIfNotExists(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if f.seen == nil {
		f.seen = map[aggregateKey]bool{}
	}
	key := aggregateKey{eventType: event.EventType, aggregate: event.AggregateID}
	if f.seen[key] {
		return nil
	}
	f.seen[key] = true
	f.events = append(f.events, event)
	return nil
}

func seedCronCampaign(t *testing.T, db *gorm.DB, status enums.CampaignStatus, end time.Time) *models.Campaign {
	t.Helper()

	campaign := &models.Campaign{
		ID:                        uuid.New(),
		Name:                      "sweep target",
		Status:                    status,
		StartDate:                 end.Add(-24 * time.Hour),
		EndDate:                   end,
		TotalDiscountUsedCurrency: enums.CurrencyUSD,
	}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

func newExpiryJob(t *testing.T, db *gorm.DB, emitter *fakeOnceEmitter) *campaignExpiryJob {
	t.Helper()

	job, err := NewCampaignExpiryJob(CampaignExpiryJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:        &testTxRunner{db: db},
		Campaigns: campaigns.NewRepository(db),
		Outbox:    emitter,
	})
	require.NoError(t, err)
	return job.(*campaignExpiryJob)
}

func TestCampaignExpiryJobEndsPastCampaigns(t *testing.T) {
	db := setupCronTestDB(t)
	emitter := &fakeOnceEmitter{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	expired := seedCronCampaign(t, db, enums.CampaignStatusActive, now.Add(-time.Hour))
	running := seedCronCampaign(t, db, enums.CampaignStatusActive, now.Add(time.Hour))
	paused := seedCronCampaign(t, db, enums.CampaignStatusPaused, now.Add(-time.Hour))

	job := newExpiryJob(t, db, emitter)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	var loaded models.Campaign
	require.NoError(t, db.First(&loaded, "id = ?", expired.ID).Error)
	assert.Equal(t, enums.CampaignStatusEnded, loaded.Status)

	loaded = models.Campaign{}
	require.NoError(t, db.First(&loaded, "id = ?", running.ID).Error)
	assert.Equal(t, enums.CampaignStatusActive, loaded.Status)

	// paused campaigns are not force-ended by the sweep
	loaded = models.Campaign{}
	require.NoError(t, db.First(&loaded, "id = ?", paused.ID).Error)
	assert.Equal(t, enums.CampaignStatusPaused, loaded.Status)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, enums.EventCampaignEnded, emitter.events[0].EventType)
	assert.Equal(t, expired.ID, emitter.events[0].AggregateID)
}

func TestCampaignExpiryJobIsIdempotent(t *testing.T) {
	db := setupCronTestDB(t)
	emitter := &fakeOnceEmitter{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedCronCampaign(t, db, enums.CampaignStatusActive, now.Add(-time.Hour))

	job := newExpiryJob(t, db, emitter)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))

	assert.Len(t, emitter.events, 1)
}
