// Package config loads the exchange daemon's configuration: server
// binding, the market singleton (windows, band, IPO, transfer fees),
// storage backend selection, router shard count and the event bus's
// buffer sizing. Loading follows the teacher's layering: defaults, then
// a TOML file, then EXCH_-prefixed environment overrides.
package config

import "github.com/camppoints/exchanged/internal/domain"

// Config is the full daemon configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Market   MarketConfig   `mapstructure:"market"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Router   RouterConfig   `mapstructure:"router"`
	EventBus EventBusConfig `mapstructure:"event_bus"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig controls the gRPC admin/event-consumer surface.
type ServerConfig struct {
	GRPCAddress string `mapstructure:"grpc_address"`
	AdminToken  string `mapstructure:"admin_token"`
}

// WindowConfig is a scheduled open window expressed as UTC epoch
// milliseconds, the on-disk shape of domain.Window.
type WindowConfig struct {
	StartMs int64 `mapstructure:"start_ms"`
	EndMs   int64 `mapstructure:"end_ms"`
}

// MarketConfig is the on-disk shape of the MarketConfig singleton.
type MarketConfig struct {
	Windows      []WindowConfig `mapstructure:"windows"`
	IPOPrice     int64          `mapstructure:"ipo_price"`
	IPOShares    int64          `mapstructure:"ipo_shares"`
	BandBps      int64          `mapstructure:"band_bps"`
	FeeRatePct   int64          `mapstructure:"fee_rate_pct"`
	FeeMin       int64          `mapstructure:"fee_min"`
}

// ToDomain converts the on-disk config into the domain.MarketConfig the
// Market Clock and Matching Engine consume.
func (m MarketConfig) ToDomain() domain.MarketConfig {
	windows := make([]domain.Window, 0, len(m.Windows))
	for _, w := range m.Windows {
		windows = append(windows, domain.Window{StartMs: w.StartMs, EndMs: w.EndMs})
	}
	return domain.MarketConfig{
		Windows:   windows,
		IPOPrice:  m.IPOPrice,
		IPOShares: m.IPOShares,
		BandBps:   m.BandBps,
		TransferFee: domain.FeePolicy{
			RatePct: m.FeeRatePct,
			MinFee:  m.FeeMin,
		},
	}
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// KVBackend is "pebble" or "leveldb".
	KVBackend string `mapstructure:"kv_backend"`
	KVPath    string `mapstructure:"kv_path"`

	// LogBackend is "sqlite" or "postgres".
	LogBackend string `mapstructure:"log_backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// AllowNonTransactionalFallback is copied into the Transfer
	// Service's Config.NonTransactional. Defaults to off. The service
	// does not read it: a transfer always runs as separate debit and
	// credit writes, whatever this flag says.
	AllowNonTransactionalFallback bool `mapstructure:"allow_non_transactional_fallback"`
}

// RouterConfig sizes the Sharded Router.
type RouterConfig struct {
	Shards        int    `mapstructure:"shards"`
	QueueDepth    int    `mapstructure:"queue_depth"`
	MaxShardLoad  int    `mapstructure:"max_shard_load"`
	OverloadPolicy string `mapstructure:"overload_policy"` // "reject" or "redirect"
}

// EventBusConfig sizes the Event Bus.
type EventBusConfig struct {
	BufferSize  int `mapstructure:"buffer_size"`
	ReplaySize  int `mapstructure:"replay_size"`
	MaxRetries  int `mapstructure:"max_retries"`
}

// NotifyConfig controls the outbound best-effort notification client.
type NotifyConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// AdminConfig lists the hex-encoded compressed secp256k1 public keys
// authorized to issue signed admin commands (internal/adminauth).
type AdminConfig struct {
	AllowedPubkeys []string `mapstructure:"allowed_pubkeys"`
}
