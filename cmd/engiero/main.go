package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"engiero/config"
	"engiero/internal/logging"
)

const defaultConfigPath = "config.json"

var (
	cfgFile string
	useEnv  bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "engiero",
	Short: "ENGIE Romania account poller",
	Long: `engiero polls the ENGIE Romania consumer API for billing, consumption
and meter index data and serves the normalized results over a local API.

Example usage:
  engiero serve --config config.yaml   # Poll every entry and serve the API
  engiero refresh --entry home         # Run one cycle and print the snapshot
  engiero login --entry home           # Force a fresh mobile login
  engiero hash-key                     # Hash an API key for api_key_hash`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "Path to configuration file (.json, .yaml)")
	rootCmd.PersistentFlags().BoolVar(&useEnv, "env", false, "Load configuration from environment variables")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// loadConfig reads the configuration selected by the global flags
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(cfgFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Logging.Format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
	})
}
