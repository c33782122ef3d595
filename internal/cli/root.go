package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/camppoints/exchanged/internal/config"
)

var (
	// Global flags
	configFile string
	debug      bool
	verbose    bool
	quiet      bool

	// loadedConfig is populated by initConfig and read by every
	// subcommand that needs the daemon's configuration.
	loadedConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "exchanged",
	Short: "exchanged - the camp points-and-equity exchange daemon",
	Long: `exchanged runs the points-and-equity trading and accounting kernel for
a programming camp's internal exchange: a single-instrument continuous
matching engine and call auction, a dual-balance points ledger, peer-to-peer
transfers, and the administrative surfaces needed to run a trading session.`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to
// happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable normally suppressed debug logging")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output to console after startup")
}

// initConfig loads the daemon configuration via internal/config,
// following the same defaults → file → environment layering cobra's
// OnInitialize hook triggers before any subcommand runs. Subcommands
// that don't need a fully validated config (e.g. a bare --help) still
// tolerate a load failure here; requireConfig surfaces it.
func initConfig() {
	cfg, err := config.LoadConfig(config.Paths{Main: configFile})
	if err != nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "warning: config not loaded yet: %v\n", err)
		}
		return
	}
	loadedConfig = cfg
}

// requireConfig returns the loaded configuration or a descriptive
// error if it never loaded (e.g. because the config file was invalid).
func requireConfig() (*config.Config, error) {
	if loadedConfig == nil {
		cfg, err := config.LoadConfig(config.Paths{Main: configFile})
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		loadedConfig = cfg
	}
	return loadedConfig, nil
}
