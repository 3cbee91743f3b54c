// Package main provides the entry point for the pipeline monitor CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/pipeline-monitor/internal/config"
	"github.com/jonathan/pipeline-monitor/internal/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pipeline_monitor",
	Short: "Live progress monitor for the hedge fund pipeline",
	Long: `pipeline_monitor starts analysis runs on the pipeline backend and turns their
progress stream into a step graph: in the terminal (watch, replay) or over HTTP (serve).

Configuration can be loaded from a JSON or YAML file using --config. Command-line
flags override config file values.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the --config file (if any), fills defaults and applies
// environment overrides. Callers apply their flags and then Validate.
func loadConfig(path string) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}
	cfg = cfg.MergeWithDefaults(config.Defaults())
	cfg.ApplyEnv()
	return cfg, nil
}

// newLogger builds the CLI logger from the config.
func newLogger(cfg config.Config) (*slog.Logger, error) {
	log, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	return log, nil
}
