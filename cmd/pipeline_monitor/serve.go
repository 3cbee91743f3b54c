package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/pipeline-monitor/internal/backend"
	"github.com/jonathan/pipeline-monitor/internal/server"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

var (
	servePort    int
	serveBackend string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that starts runs on the backend and relays their progress as snapshots and SSE streams.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "Backend base URL (overrides config and PIPELINE_BACKEND_URL)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if serveBackend != "" {
		cfg.BackendURL = serveBackend
	}
	if err := validateConfig(&cfg); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	client, err := backend.NewClient(cfg.BackendURL, cfg.ClientOptions())
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:          cfg.Port,
		RegistryLimit: cfg.RegistryLimit,
		Backend:       client,
		Resolver:      steps.DefaultResolver(),
		Logger:        log,
		RateLimit:     cfg.RateLimitConfig(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("relaying backend runs", "backend", client.RunURL())
	return srv.Start(ctx)
}
