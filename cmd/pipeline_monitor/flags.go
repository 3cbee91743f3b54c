package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/pipeline-monitor/internal/config"
	"github.com/jonathan/pipeline-monitor/internal/monitor"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// shapeFlags are the flags that fix the pipeline shape of a run.
type shapeFlags struct {
	mode    string
	execute bool
	dryRun  bool
}

func (f *shapeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.mode, "mode", "m", "", "Workflow mode: signal, research, pre-research, post-research or full")
	cmd.Flags().BoolVar(&f.execute, "execute", false, "Include trade execution")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Include trade execution as a dry run")
}

// apply copies the flags the user set onto cfg.
func (f *shapeFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("mode") {
		mode, err := steps.ParseMode(f.mode)
		if err != nil {
			return err
		}
		cfg.Mode = mode
	}
	if cmd.Flags().Changed("execute") {
		cfg.ExecuteTrades = f.execute
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	return nil
}

// monitorConfig returns the run shape described by cfg.
func monitorConfig(cfg config.Config) monitor.Config {
	return monitor.Config{Mode: cfg.Mode, ExecuteTrades: cfg.ExecuteTrades, DryRun: cfg.DryRun}
}

// splitTickers accepts both repeated flags and comma separated lists.
func splitTickers(values []string) []string {
	var out []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// validateConfig runs config validation with a CLI friendly prefix.
func validateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
