package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/blockkit/config"
)

var (
	cfgFile  string
	logLevel string
	logger   = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "blockkit",
	Short: "Compliance gate and authorization ledger for composable blocks",
	Long: `Blockkit validates block manifests, binds blocks to policy settings and
checks every proposal and operation against those settings before it can
take effect.

It provides tools for:
  - Serving the compliance gate over HTTP
  - Validating manifests and fee structures
  - Inspecting and renewing authorization ledgers
  - Generating configuration files

Complete documentation is available at https://github.com/rustyeddy/blockkit`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, format := logSettings(cmd.Flags().Changed("log-level"))
		return setupLogging(level, format)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// logSettings picks the log level and format. The config file supplies
// both when --config is set; an explicit --log-level still wins. A config
// that fails to load is left for the command itself to report.
func logSettings(levelFlagSet bool) (level, format string) {
	level, format = logLevel, "text"
	if cfgFile == "" {
		return level, format
	}
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return level, format
	}
	if cfg.Log.Format != "" {
		format = cfg.Log.Format
	}
	if !levelFlagSet && cfg.Log.Level != "" {
		level = cfg.Log.Level
	}
	return level, format
}

func setupLogging(level, format string) error {
	lvl, err := config.LogConfig{Level: level}.SlogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "", "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	logger = slog.New(h)
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads --config, or returns the defaults when it is unset.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(cfgFile)
}
