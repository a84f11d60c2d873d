package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/gridledger/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GRIDLEDGER_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Minute, cfg.Market.WindowLength)
	assert.ElementsMatch(t, []models.Zone{"north", "south", "east", "west"}, cfg.ZoneNames())

	g, err := cfg.GridConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.01", g.Tolerance.String())
	assert.Equal(t, int32(6), g.MeteringPlaces)

	p, err := cfg.PricingConfig()
	require.NoError(t, err)
	assert.Equal(t, "4", p.BasePrice.String())
	assert.Equal(t, 18, p.PeakStartHour)

	s, err := cfg.SettlementConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.001", s.FeeRate.String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GRIDLEDGER_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("GRIDLEDGER_HTTP_ADDR", ":9090")
	t.Setenv("GRIDLEDGER_MARKET_CONTINUOUS", "true")
	t.Setenv("GRIDLEDGER_PRICING_BASE_PRICE", "5.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.True(t, cfg.Market.Continuous)

	p, err := cfg.PricingConfig()
	require.NoError(t, err)
	assert.Equal(t, "5.5", p.BasePrice.String())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "gridledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  jwt_secret: from-file
market:
  zones:
    alpha: 5
  window_length: 5m
grid:
  tolerance: "0.05"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Minute, cfg.Market.WindowLength)
	assert.Equal(t, map[models.Zone]float64{"alpha": 5}, cfg.Distances())

	g, err := cfg.GridConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.05", g.Tolerance.String())
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load("")
	assert.ErrorContains(t, err, "jwt_secret")

	t.Setenv("GRIDLEDGER_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("GRIDLEDGER_PRICING_MIN_PRICE", "cheap")
	_, err = Load("")
	assert.ErrorContains(t, err, "pricing.min_price")
}
