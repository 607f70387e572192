package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("INVENTORY_BASELINE_AT", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "stockledger:events", cfg.NotifyChannel)
	require.Equal(t, 5*time.Minute, cfg.InventorySeedLockTTL)

	at, err := cfg.BaselineAt()
	require.NoError(t, err)
	require.True(t, at.Equal(time.Unix(0, 0)))
}

func TestBaselineAtFormats(t *testing.T) {
	cfg := &Config{InventoryBaselineAt: "2024-01-01"}
	at, err := cfg.BaselineAt()
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), at)

	cfg.InventoryBaselineAt = "2024-01-01T07:00:00+07:00"
	at, err = cfg.BaselineAt()
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), at)

	t.Setenv("INVENTORY_BASELINE_AT", "yesterday")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{LogFormat: "json", AppEnv: "production"}).Info("slip confirmed")
	require.Contains(t, buf.String(), `"msg":"slip confirmed"`)
}
