package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
)

func TestFixedTableConvertSameCurrency(t *testing.T) {
	table, err := NewFixedTable(enums.CurrencyUSD)
	require.NoError(t, err)

	amount := decimal.RequireFromString("123.45")
	got, err := table.Convert(context.Background(), amount, enums.CurrencyEUR, enums.CurrencyEUR)
	require.NoError(t, err)
	assert.True(t, got.Equal(amount))
}

func TestFixedTableConvertCrossCurrency(t *testing.T) {
	table, err := NewFixedTable(enums.CurrencyUSD)
	require.NoError(t, err)

	// 100 EUR at 1.08 USD/EUR
	got, err := table.Convert(context.Background(), decimal.NewFromInt(100), enums.CurrencyEUR, enums.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("108")), "got %s", got)
}

func TestFixedTableRebasesOnConfiguredBase(t *testing.T) {
	table, err := NewFixedTable(enums.CurrencyEUR)
	require.NoError(t, err)

	// the configured base always quotes at 1 in the table
	assert.True(t, table.perBase[enums.CurrencyEUR].Equal(decimal.NewFromInt(1)))

	rate, err := table.Rate(context.Background(), enums.CurrencyGBP, enums.CurrencyEUR)
	require.NoError(t, err)
	expected := decimal.RequireFromString("1.27").Div(decimal.RequireFromString("1.08"))
	assert.True(t, rate.Equal(expected), "got %s", rate)
}

func TestFixedTableMissingRateIsDependencyError(t *testing.T) {
	table, err := NewFixedTable(enums.CurrencyUSD)
	require.NoError(t, err)
	delete(table.perBase, enums.CurrencyTRY)

	_, err = table.Convert(context.Background(), decimal.NewFromInt(50), enums.CurrencyTRY, enums.CurrencyUSD)
	require.Error(t, err)

	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeDependency, appErr.Code())
}

type fakeRateStore struct {
	values   map[string]string
	getErr   error
	setCalls int
}

func (f *fakeRateStore) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.values[key], nil
}

func (f *fakeRateStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.setCalls++
	f.values[key] = value.(string)
	return nil
}

func (f *fakeRateStore) RateKey(from, to string) string {
	return "fx_rate:" + from + ":" + to
}

func TestCachedConverterPopulatesStore(t *testing.T) {
	table, err := NewFixedTable(enums.CurrencyUSD)
	require.NoError(t, err)

	store := &fakeRateStore{values: map[string]string{}}
	cached, err := NewCachedConverter(table, store, time.Minute, nil)
	require.NoError(t, err)

	first, err := cached.Convert(context.Background(), decimal.NewFromInt(100), enums.CurrencyGBP, enums.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, 1, store.setCalls)

	// second call served from the cache
	second, err := cached.Convert(context.Background(), decimal.NewFromInt(100), enums.CurrencyGBP, enums.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, 1, store.setCalls)
	assert.True(t, first.Equal(second))
}

func TestCachedConverterDegradesOnStoreError(t *testing.T) {
	table, err := NewFixedTable(enums.CurrencyUSD)
	require.NoError(t, err)

	store := &fakeRateStore{values: map[string]string{}, getErr: errors.New("redis down")}
	cached, err := NewCachedConverter(table, store, time.Minute, nil)
	require.NoError(t, err)

	got, err := cached.Convert(context.Background(), decimal.NewFromInt(100), enums.CurrencyEUR, enums.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("108")))
}
