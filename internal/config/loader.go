package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Paths names the files LoadConfig reads from.
type Paths struct {
	// Main is the TOML config file path; empty skips file loading and
	// runs on defaults + environment only.
	Main string
}

// LoadConfig loads configuration the way the teacher's xrpld.toml loader
// does: defaults first, then the config file, then EXCH_-prefixed
// environment overrides, then validation.
func LoadConfig(paths Paths) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if paths.Main != "" {
		v.SetConfigFile(paths.Main)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", paths.Main, err)
		}
	}

	v.SetEnvPrefix("EXCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
