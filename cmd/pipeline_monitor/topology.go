package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonathan/pipeline-monitor/internal/monitor"
	"github.com/jonathan/pipeline-monitor/internal/observability"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print the steps and edges of a pipeline configuration",
	RunE:  runTopology,
}

var (
	topologyShape shapeFlags
	topologyJSON  bool
)

func init() {
	topologyShape.register(topologyCmd)
	topologyCmd.Flags().BoolVar(&topologyJSON, "json", false, "Print the topology as JSON")
	rootCmd.AddCommand(topologyCmd)
}

func runTopology(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := topologyShape.apply(cmd, &cfg); err != nil {
		return err
	}
	if err := validateConfig(&cfg); err != nil {
		return err
	}
	return printTopology(cmd.OutOrStdout(), monitorConfig(cfg), topologyJSON)
}

func printTopology(w io.Writer, cfg monitor.Config, asJSON bool) error {
	topo := steps.Build(cfg.Mode, cfg.ExecuteOrDryRun())
	if !asJSON {
		observability.NewPrinter(w).PrintTopology(topo)
		return nil
	}

	data, err := json.MarshalIndent(topo, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal topology: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
