package config

import "fmt"

// Validate checks the shape of a loaded Config, the same hand-rolled
// field-by-field approach the teacher's validation.go uses rather than a
// struct-tag validator library.
func Validate(c *Config) error {
	if c.Market.IPOPrice <= 0 {
		return fmt.Errorf("market.ipo_price must be positive")
	}
	if c.Market.IPOShares < 0 {
		return fmt.Errorf("market.ipo_shares must not be negative")
	}
	if c.Market.BandBps <= 0 || c.Market.BandBps > 10000 {
		return fmt.Errorf("market.band_bps must be in (0, 10000]")
	}
	if c.Market.FeeMin < 0 || c.Market.FeeRatePct < 0 {
		return fmt.Errorf("market.fee_rate_pct and market.fee_min must not be negative")
	}
	for _, w := range c.Market.Windows {
		if w.EndMs <= w.StartMs {
			return fmt.Errorf("market window end_ms must be after start_ms")
		}
	}

	switch c.Storage.KVBackend {
	case "pebble", "leveldb":
	default:
		return fmt.Errorf("storage.kv_backend must be pebble or leveldb, got %q", c.Storage.KVBackend)
	}
	switch c.Storage.LogBackend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.log_backend must be sqlite or postgres, got %q", c.Storage.LogBackend)
	}
	if c.Storage.LogBackend == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn required when log_backend is postgres")
	}

	if c.Router.Shards <= 0 {
		return fmt.Errorf("router.shards must be positive")
	}
	if c.Router.QueueDepth <= 0 {
		return fmt.Errorf("router.queue_depth must be positive")
	}
	switch c.Router.OverloadPolicy {
	case "reject", "redirect":
	default:
		return fmt.Errorf("router.overload_policy must be reject or redirect, got %q", c.Router.OverloadPolicy)
	}

	if c.EventBus.BufferSize <= 0 || c.EventBus.ReplaySize <= 0 {
		return fmt.Errorf("event_bus.buffer_size and replay_size must be positive")
	}
	if c.EventBus.MaxRetries < 0 {
		return fmt.Errorf("event_bus.max_retries must not be negative")
	}

	return nil
}
