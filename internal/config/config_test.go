package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1500*time.Millisecond, cfg.Market.TickInterval())
	assert.Equal(t, 60, cfg.Trading.DefaultDuration)
	assert.Equal(t, 3, cfg.Trading.CreditRetries)
	assert.InDelta(t, 0.0001, cfg.Market.MinPrice, 1e-12)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("FileOverridesDefaults", func(t *testing.T) {
		dir := t.TempDir()
		body := `
market:
  tick_interval_ms: 500
trading:
  default_duration: 150
catalog:
  instruments:
    - symbol: "EUR/USD"
      name: "Euro / US Dollar"
      base_price: 1.085
      spread: 0.0008
      volatility: 0.0001
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))

		cfg, err := LoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, 500, cfg.Market.TickIntervalMs)
		assert.Equal(t, 150, cfg.Trading.DefaultDuration)
		assert.Equal(t, 3600, cfg.Trading.MaxDuration)
		require.Len(t, cfg.Catalog.Instruments, 1)
		assert.Equal(t, "EUR/USD", cfg.Catalog.Instruments[0].Symbol)
	})

	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, 1500, cfg.Market.TickIntervalMs)
	})

	t.Run("InvalidValuesRejected", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("trading:\n  default_duration: 0\n"), 0o600))

		_, err := LoadConfig(dir)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "default_duration")
	})
}
