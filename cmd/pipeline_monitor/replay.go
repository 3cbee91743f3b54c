package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/pipeline-monitor/internal/monitor"
	"github.com/jonathan/pipeline-monitor/internal/observability"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded progress stream through the monitor",
	Long: `Feeds a recorded event stream file (data: frames, as sent by the backend) through
the same engine used for live runs and prints the final step table. Exits non-zero
when the recorded run failed.`,
	RunE: runReplay,
}

var (
	replayShape   shapeFlags
	replayFile    string
	replayDetails bool
)

func init() {
	replayShape.register(replayCmd)
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "Path to the recorded stream")
	replayCmd.Flags().BoolVar(&replayDetails, "details", false, "Print the detail payload of every step")

	_ = replayCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := replayShape.apply(cmd, &cfg); err != nil {
		return err
	}
	if err := validateConfig(&cfg); err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	out, err := replay(cmd.Context(), cmd.OutOrStdout(), replayFile, monitorConfig(cfg), replayDetails, log)
	if err != nil {
		return err
	}
	if out.Kind == monitor.OutcomeFailed {
		return errRunFailed
	}
	return nil
}

// replay runs the stream recorded at path and prints the final state to w.
func replay(ctx context.Context, w io.Writer, path string, cfg monitor.Config, details bool, log *slog.Logger) (monitor.Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return monitor.Outcome{}, fmt.Errorf("failed to open stream file: %w", err)
	}
	defer func() { _ = f.Close() }()

	session, err := monitor.NewSession(monitor.Options{Config: cfg, Logger: log})
	if err != nil {
		return monitor.Outcome{}, fmt.Errorf("invalid run config: %w", err)
	}

	out := session.Run(ctx, f)
	snap := session.Snapshot()

	printer := observability.NewPrinter(w)
	printer.PrintSnapshot(snap)
	if details {
		for _, rec := range snap.Records {
			printer.PrintDetail(rec)
		}
	}
	printer.PrintOutcome(out)
	return out, nil
}
