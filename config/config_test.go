package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvFlags_ReadPerCall(t *testing.T) {
	var flags EnvFlags

	t.Setenv(EnvAnalyticsDisabled, "")
	t.Setenv(EnvDualFetchEnabled, "")
	assert.False(t, flags.AnalyticsDisabled())
	assert.False(t, flags.DualFetchEnabled())

	t.Setenv(EnvAnalyticsDisabled, "true")
	t.Setenv(EnvDualFetchEnabled, "1")
	assert.True(t, flags.AnalyticsDisabled())
	assert.True(t, flags.DualFetchEnabled())

	t.Setenv(EnvAnalyticsDisabled, "no")
	assert.False(t, flags.AnalyticsDisabled())
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOST", "localhost")
	t.Setenv("CLICKHOUSE_DB_NAME", "analytics")
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("WIDGET_CHECK_TIMEOUT", "")
	t.Setenv("WIDGET_CHECK_ATTEMPTS", "")
	t.Setenv("CLICKHOUSE_NATIVE_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 9000, cfg.ClickHouse.Port)
	assert.Equal(t, "localhost:9000", cfg.ClickHouse.Addr())
	assert.Equal(t, 30*time.Second, cfg.Widget.Timeout)
	assert.Equal(t, 3, cfg.Widget.Attempts)
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("BACKGROUND_WORKERS", "many")
	_, err := Load()
	assert.ErrorContains(t, err, "BACKGROUND_WORKERS")
}

func TestValidate_RequiresClickHouse(t *testing.T) {
	cfg := &Config{JWTSecret: "x", BackgroundWorkers: 1, Widget: WidgetConfig{Attempts: 1}}
	assert.Error(t, cfg.Validate())
}
