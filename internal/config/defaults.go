package config

import "github.com/spf13/viper"

// setDefaults mirrors the teacher's setDefaults(v) — every field gets a
// sane default before the config file and environment are layered on.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_address", "127.0.0.1:7090")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("market.windows", []map[string]int64{})
	v.SetDefault("market.ipo_price", 20)
	v.SetDefault("market.ipo_shares", 10000)
	v.SetDefault("market.band_bps", 1500)
	v.SetDefault("market.fee_rate_pct", 2)
	v.SetDefault("market.fee_min", 1)

	v.SetDefault("storage.kv_backend", "pebble")
	v.SetDefault("storage.kv_path", "./data/kv")
	v.SetDefault("storage.log_backend", "sqlite")
	v.SetDefault("storage.sqlite_path", "./data/ledger.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.allow_non_transactional_fallback", false)

	v.SetDefault("router.shards", 16)
	v.SetDefault("router.queue_depth", 256)
	v.SetDefault("router.max_shard_load", 512)
	v.SetDefault("router.overload_policy", "reject")

	v.SetDefault("event_bus.buffer_size", 4096)
	v.SetDefault("event_bus.replay_size", 10000)
	v.SetDefault("event_bus.max_retries", 3)

	v.SetDefault("notify.base_url", "")
	v.SetDefault("notify.timeout_ms", 5000)
	v.SetDefault("notify.max_retries", 3)

	v.SetDefault("admin.allowed_pubkeys", []string{})
}
