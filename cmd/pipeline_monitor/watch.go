package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/pipeline-monitor/internal/backend"
	"github.com/jonathan/pipeline-monitor/internal/monitor"
	"github.com/jonathan/pipeline-monitor/internal/observability"
	"github.com/jonathan/pipeline-monitor/internal/progress"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// errRunFailed is returned when a run ends with a failed outcome.
var errRunFailed = errors.New("run failed")

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start a run on the backend and follow its progress",
	Long: `Starts a pipeline run on the backend and prints every step transition as it
streams in (each one, even when several arrive back to back), followed by the
final step table. Ctrl-C cancels the run and keeps the
state reached so far.`,
	RunE: runWatch,
}

var (
	watchShape   shapeFlags
	watchTickers []string
	watchBackend string
	watchStart   string
	watchEnd     string
	watchModel   string
)

func init() {
	watchShape.register(watchCmd)
	watchCmd.Flags().StringSliceVarP(&watchTickers, "tickers", "t", nil, "Tickers to analyze (comma separated or repeated)")
	watchCmd.Flags().StringVar(&watchBackend, "backend", "", "Backend base URL (overrides config and PIPELINE_BACKEND_URL)")
	watchCmd.Flags().StringVar(&watchStart, "start-date", "", "Analysis start date (YYYY-MM-DD)")
	watchCmd.Flags().StringVar(&watchEnd, "end-date", "", "Analysis end date (YYYY-MM-DD)")
	watchCmd.Flags().StringVar(&watchModel, "model", "", "Model name passed to the backend")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := watchShape.apply(cmd, &cfg); err != nil {
		return err
	}
	if cmd.Flags().Changed("tickers") {
		cfg.Tickers = splitTickers(watchTickers)
	}
	if watchBackend != "" {
		cfg.BackendURL = watchBackend
	}
	if watchStart != "" {
		cfg.StartDate = watchStart
	}
	if watchEnd != "" {
		cfg.EndDate = watchEnd
	}
	if watchModel != "" {
		cfg.ModelName = watchModel
	}
	if err := validateConfig(&cfg); err != nil {
		return err
	}
	if len(cfg.Tickers) == 0 {
		return fmt.Errorf("at least one ticker is required (--tickers or config tickers)")
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	client, err := backend.NewClient(cfg.BackendURL, cfg.ClientOptions())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := watchRun(ctx, cmd.OutOrStdout(), client, cfg.RunRequest(), log)
	if err != nil {
		return err
	}
	if out.Kind == monitor.OutcomeFailed {
		return errRunFailed
	}
	return nil
}

// runStarter opens the progress stream of a new backend run.
type runStarter interface {
	StartRun(ctx context.Context, req backend.RunRequest) (io.ReadCloser, error)
}

// watchRun starts a run through starter and renders it to w until it ends.
// Step changes are printed from every published snapshot on the run
// goroutine, so transitions between two frames are never merged. Cancelling
// ctx cancels the run.
func watchRun(ctx context.Context, w io.Writer, starter runStarter, req backend.RunRequest, log *slog.Logger) (monitor.Outcome, error) {
	printer := observability.NewPrinter(w)

	var (
		seen = make(map[steps.StepID]progress.Status)
		last monitor.Snapshot
	)
	session, err := monitor.NewSession(monitor.Options{
		Config: monitor.Config{Mode: req.Mode, ExecuteTrades: req.ExecuteTrades, DryRun: req.DryRun},
		Logger: log,
		OnSnapshot: func(snap monitor.Snapshot) {
			for _, n := range snap.Graph.Nodes {
				if seen[n.Step] != n.Status {
					seen[n.Step] = n.Status
					printer.PrintStepChange(n)
				}
			}
			last = snap
		},
	})
	if err != nil {
		return monitor.Outcome{}, fmt.Errorf("invalid run config: %w", err)
	}

	printer.PrintTopology(session.Topology())
	last = session.Snapshot()
	for _, n := range last.Graph.Nodes {
		seen[n.Step] = n.Status
	}

	outcome := session.Start(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		return starter.StartRun(ctx, req)
	})

	printer.PrintSnapshot(last)
	printer.PrintOutcome(outcome)
	return outcome, nil
}
