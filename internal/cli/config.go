package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camppoints/exchanged/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate the daemon configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration file without starting the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(config.Paths{Main: configFile})
		if err != nil {
			return err
		}
		fmt.Printf("config OK: kv_backend=%s log_backend=%s router_shards=%d ipo_shares=%d band_bps=%d\n",
			cfg.Storage.KVBackend, cfg.Storage.LogBackend, cfg.Router.Shards, cfg.Market.IPOShares, cfg.Market.BandBps)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
