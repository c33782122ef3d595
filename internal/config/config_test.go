package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(Paths{})
	require.NoError(t, err)
	require.Equal(t, "pebble", cfg.Storage.KVBackend)
	require.Equal(t, int64(1500), cfg.Market.BandBps)
	require.Equal(t, 16, cfg.Router.Shards)
}

func TestValidateRejectsBadBand(t *testing.T) {
	cfg, err := LoadConfig(Paths{})
	require.NoError(t, err)
	cfg.Market.BandBps = 0
	require.Error(t, Validate(cfg))

	cfg.Market.BandBps = 20000
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg, err := LoadConfig(Paths{})
	require.NoError(t, err)
	cfg.Storage.KVBackend = "mongo"
	require.Error(t, Validate(cfg))
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	cfg, err := LoadConfig(Paths{})
	require.NoError(t, err)
	cfg.Storage.LogBackend = "postgres"
	cfg.Storage.PostgresDSN = ""
	require.Error(t, Validate(cfg))
	cfg.Storage.PostgresDSN = "postgres://x"
	require.NoError(t, Validate(cfg))
}

func TestMarketConfigToDomain(t *testing.T) {
	m := MarketConfig{
		Windows:    []WindowConfig{{StartMs: 1, EndMs: 2}},
		IPOPrice:   20,
		IPOShares:  100,
		BandBps:    1500,
		FeeRatePct: 2,
		FeeMin:     1,
	}
	d := m.ToDomain()
	require.Len(t, d.Windows, 1)
	require.Equal(t, int64(20), d.IPOPrice)
	require.Equal(t, int64(1), d.TransferFee.MinFee)
}
