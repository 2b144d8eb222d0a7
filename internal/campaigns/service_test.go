package campaigns

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

	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/outbox"
)

const campaignSchema = `
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
  id TEXT PRIMARY KEY,
  discount_rule_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rule_categories (
  id TEXT PRIMARY KEY,
  discount_rule_id TEXT NOT NULL,
  category_id TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rule_brands (
  id TEXT PRIMARY KEY,
  discount_rule_id TEXT NOT NULL,
  brand_id TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rule_customers (
  id TEXT PRIMARY KEY,
  discount_rule_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_rule_customer_tiers (
  id TEXT PRIMARY KEY,
  discount_rule_id TEXT NOT NULL,
  tier TEXT NOT NULL,
  is_deleted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);
`

func setupCampaignsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(campaignSchema).Error)
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) EmitIfNotExists(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	f.events = append(f.events, event)
	return nil
}

func newTestService(t *testing.T) (Service, *gorm.DB, *fakeOutbox) {
	t.Helper()

	db := setupCampaignsTestDB(t)
	emitter := &fakeOutbox{}
	svc, err := NewService(Params{
		Repo:   NewRepository(db),
		Tx:     &testTxRunner{db: db},
		Outbox: emitter,
		Logger: logger.New(logger.Options{ServiceName: "campaigns-test"}),
	})
	require.NoError(t, err)
	return svc, db, emitter
}

func validCreateInput() CreateInput {
	return CreateInput{
		Name:      "spring wholesale promo",
		StartDate: time.Now().Add(-time.Hour),
		EndDate:   time.Now().Add(48 * time.Hour),
	}
}

func TestCreateCampaignStartsInDraft(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	assert.Equal(t, enums.CampaignStatusDraft, created.Status)
	assert.NotEqual(t, uuid.Nil, created.ID)

	loaded, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
}

func TestCreateCampaignRejectsInvertedWindow(t *testing.T) {
	svc, _, _ := newTestService(t)

	input := validCreateInput()
	input.StartDate, input.EndDate = input.EndDate, input.StartDate

	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)

	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestCreateCampaignRejectsBudgetWithoutCurrency(t *testing.T) {
	svc, _, _ := newTestService(t)

	budget := decimal.NewFromInt(1000)
	input := validCreateInput()
	input.TotalBudgetLimitAmount = &budget

	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)

	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestChangeStatusFollowsLifecycle(t *testing.T) {
	svc, _, emitter := newTestService(t)

	created, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	activated, err := svc.ChangeStatus(context.Background(), created.ID, enums.CampaignStatusActive)
	require.NoError(t, err)
	assert.Equal(t, enums.CampaignStatusActive, activated.Status)

	// active cannot go back to draft
	_, err = svc.ChangeStatus(context.Background(), created.ID, enums.CampaignStatusDraft)
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())

	ended, err := svc.ChangeStatus(context.Background(), created.ID, enums.CampaignStatusEnded)
	require.NoError(t, err)
	assert.Equal(t, enums.CampaignStatusEnded, ended.Status)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, enums.EventCampaignEnded, emitter.events[0].EventType)

	// ended is terminal
	_, err = svc.ChangeStatus(context.Background(), created.ID, enums.CampaignStatusActive)
	require.Error(t, err)
}

func TestUpdateRejectsEndedCampaign(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), created.ID, enums.CampaignStatusEnded)
	require.NoError(t, err)

	name := "renamed"
	_, err = svc.Update(context.Background(), created.ID, UpdateInput{Name: &name})
	require.Error(t, err)

	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestAddRuleRequiresRestrictionsForSpecificTargeting(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	_, err = svc.AddRule(context.Background(), created.ID, RuleInput{
		DiscountType:       enums.DiscountTypePercentage,
		DiscountValue:      decimal.NewFromInt(10),
		ProductTargetType:  enums.ProductTargetSpecific,
		CustomerTargetType: enums.CustomerTargetAll,
	})
	require.Error(t, err)

	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestAddRulePersistsRestrictions(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	productID := uuid.New()
	rule, err := svc.AddRule(context.Background(), created.ID, RuleInput{
		DiscountType:       enums.DiscountTypePercentage,
		DiscountValue:      decimal.NewFromInt(10),
		ProductTargetType:  enums.ProductTargetSpecific,
		CustomerTargetType: enums.CustomerTargetAll,
		ProductIDs:         []uuid.UUID{productID},
	})
	require.NoError(t, err)

	loaded, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, rule.ID, loaded.Rules[0].ID)
	require.Len(t, loaded.Rules[0].Products, 1)
	assert.Equal(t, productID, loaded.Rules[0].Products[0].ProductID)
}

func TestAddRuleRejectsPercentageOverOneHundred(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	_, err = svc.AddRule(context.Background(), created.ID, RuleInput{
		DiscountType:       enums.DiscountTypePercentage,
		DiscountValue:      decimal.NewFromInt(120),
		ProductTargetType:  enums.ProductTargetAll,
		CustomerTargetType: enums.CustomerTargetAll,
	})
	require.Error(t, err)
}

func TestDeleteRejectsActiveCampaign(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), created.ID, enums.CampaignStatusActive)
	require.NoError(t, err)

	err = svc.Delete(context.Background(), created.ID)
	require.Error(t, err)

	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}
