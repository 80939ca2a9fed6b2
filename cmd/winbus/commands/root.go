// Package commands provides the CLI commands for winbus.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/telnet2/winbus/internal/bus"
	"github.com/telnet2/winbus/internal/config"
	"github.com/telnet2/winbus/internal/kvstore"
	"github.com/telnet2/winbus/internal/logging"
)

var (
	// Version information set at build time
	Version = "0.1.0"
)

// Global flags
var (
	flagStore    string
	flagPrefix   string
	flagLogLevel string
	flagPretty   bool
)

var rootCmd = &cobra.Command{
	Use:   "winbus",
	Short: "winbus - cross-process event bus over a shared key-value store",
	Long: `winbus lets every window process of the same installation observe
state-change events fired by any one of them, using a shared store
directory as the only channel between processes.

Run 'winbus watch' in one terminal and 'winbus fire <name>' in another
to see events cross process boundaries.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "Store directory (default: XDG data dir)")
	rootCmd.PersistentFlags().StringVar(&flagPrefix, "prefix", "", "Event key namespace prefix")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&flagPretty, "pretty", false, "Human-readable log output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("winbus %s\n", Version))

	rootCmd.AddCommand(fireCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and applies flag overrides, then
// initializes logging.
func loadConfig() (*config.Config, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}

	if flagStore != "" {
		cfg.Store = flagStore
	}
	if flagPrefix != "" {
		cfg.Prefix = flagPrefix
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagPretty {
		cfg.Log.Pretty = true
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})
	return cfg, nil
}

// openBus opens the shared store and constructs a bus over it. The returned
// cleanup closes both.
func openBus(cfg *config.Config) (*bus.Bus, func(), error) {
	store, err := kvstore.NewFileStore(cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	b := bus.New(store, bus.WithPrefix(cfg.Prefix))
	cleanup := func() {
		b.Close()
		store.Close()
	}
	return b, cleanup, nil
}
