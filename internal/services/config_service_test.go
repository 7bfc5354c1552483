package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lazone/api/internal/apperr"
	"lazone/api/internal/config"
	"lazone/api/internal/utils"
)

func TestConfigService_OverridesAndDefaults(t *testing.T) {
	db := utils.SetupTestDB(t, "testdb_config_service", configCollection)
	cfg := &config.Config{FreeListingsLongTerm: 1, FreeListingsShortTerm: 2, ListingCurrency: "XOF", ListingPrice: 1000}
	svc := NewConfigService(db, cfg, nil, testLogger())
	ctx := context.Background()

	// Env defaults before any override.
	assert.Equal(t, 1, svc.GetInt(ctx, ConfigKeyFreeListingsLongTerm, 99))
	assert.Equal(t, 2, svc.GetInt(ctx, ConfigKeyFreeListingsShortTerm, 99))
	assert.Equal(t, "XOF", svc.GetString(ctx, ConfigKeyListingCurrency, ""))

	// Unknown keys use the caller's default.
	_, err := svc.Get(ctx, "does_not_exist")
	assert.Error(t, err)
	assert.Equal(t, 7, svc.GetInt(ctx, "does_not_exist", 7))

	require.NoError(t, svc.SetConfigValue(ctx, ConfigKeyFreeListingsLongTerm, 3, false))
	assert.Equal(t, 3, svc.GetInt(ctx, ConfigKeyFreeListingsLongTerm, 99))

	require.NoError(t, svc.SetConfigValue(ctx, "POLL_TIMEOUT", 30, true))
	assert.Equal(t, 30*time.Second, svc.GetDuration(ctx, "POLL_TIMEOUT", time.Second))

	// A fresh instance sees the stored override after Load.
	fresh := NewConfigService(db, cfg, nil, testLogger())
	assert.Equal(t, 3, fresh.GetInt(ctx, ConfigKeyFreeListingsLongTerm, 99))

	public, err := fresh.GetAllPublic(ctx)
	require.NoError(t, err)
	assert.Contains(t, public, "POLL_TIMEOUT")
	assert.NotContains(t, public, ConfigKeyFreeListingsLongTerm)
	assert.Equal(t, "XOF", public[ConfigKeyListingCurrency])
}

func TestConfigService_TypeMismatchFallsBack(t *testing.T) {
	db := utils.SetupTestDB(t, "testdb_config_service_types", configCollection)
	svc := NewConfigService(db, &config.Config{}, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, svc.SetConfigValue(ctx, "flag", "not-a-bool", false))
	assert.True(t, svc.GetBool(ctx, "flag", true))
	assert.Equal(t, 5, svc.GetInt(ctx, "flag", 5))
	assert.Equal(t, 1.5, svc.GetFloat64(ctx, "flag", 1.5))
}

func TestConfigService_SetConfigValueValidatesPolicyKeys(t *testing.T) {
	svc := &configService{cache: map[string]interface{}{}, log: testLogger()}
	ctx := context.Background()

	cases := []struct {
		key   string
		value interface{}
	}{
		{"", 1},
		{ConfigKeyFreeListingsLongTerm, -1},
		{ConfigKeyFreeListingsLongTerm, 1.5},
		{ConfigKeyProMonthlyCredits, "ten"},
		{ConfigKeyListingPrice, 0},
		{ConfigKeyListingCurrency, "francs"},
	}
	for _, tc := range cases {
		err := svc.SetConfigValue(ctx, tc.key, tc.value, false)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "%s=%v", tc.key, tc.value)
	}
	assert.Empty(t, svc.cache)
}

func TestAsNumber(t *testing.T) {
	for _, v := range []interface{}{3, int32(3), int64(3), 3.0} {
		n, ok := asNumber(v)
		assert.True(t, ok)
		assert.Equal(t, 3.0, n)
	}
	_, ok := asNumber("3")
	assert.False(t, ok)
}
