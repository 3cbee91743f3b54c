package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/pipeline-monitor/internal/backend"
	"github.com/jonathan/pipeline-monitor/internal/monitor"
	"github.com/jonathan/pipeline-monitor/internal/server/ratelimit"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 30 * time.Second

// RunStarter opens the progress stream of a new backend run.
type RunStarter interface {
	StartRun(ctx context.Context, req backend.RunRequest) (io.ReadCloser, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	registry    *monitor.Registry
	backend     RunStarter
	resolver    *steps.Resolver
	log         *slog.Logger
	rateLimiter *ratelimit.Limiter

	// runs tracks session goroutines; runCtx is cancelled on shutdown.
	runs       errgroup.Group
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// Config holds server configuration
type Config struct {
	Port          int
	RegistryLimit int
	Backend       RunStarter
	Resolver      *steps.Resolver
	Logger        *slog.Logger
	RateLimit     *ratelimit.Config
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("server requires a backend")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	rateCfg := cfg.RateLimit
	if rateCfg == nil {
		rateCfg = ratelimit.DefaultConfig()
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())
	s := &Server{
		registry:   monitor.NewRegistry(cfg.RegistryLimit),
		backend:    cfg.Backend,
		resolver:   cfg.Resolver,
		log:        log,
		runCtx:     runCtx,
		cancelRuns: cancelRuns,
	}

	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /health", s.handleHealth},
		{"GET /topology", s.handleTopology},

		{"POST /runs", s.handleCreateRun},
		{"GET /runs", s.handleListRuns},
		{"GET /runs/{id}", s.handleGetRun},
		{"GET /runs/{id}/stream", s.handleRunStream},
		{"GET /runs/{id}/view", s.handleRunView},
		{"POST /runs/{id}/cancel", s.handleCancelRun},
		{"DELETE /runs/{id}", s.handleDeleteRun},
	}
	mux := http.NewServeMux()
	registered := make(map[string]bool, len(routes))
	for _, rt := range routes {
		mux.HandleFunc(rt.pattern, rt.handler)
		registered[rt.pattern] = true
	}

	// Rate limit rules name routes of this server.
	for _, rule := range rateCfg.Rules {
		if !registered[rule.Pattern] {
			cancelRuns()
			return nil, fmt.Errorf("rate limit rule for unknown route %q", rule.Pattern)
		}
	}
	limiter, err := ratelimit.NewLimiter(rateCfg)
	if err != nil {
		cancelRuns()
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	s.rateLimiter = limiter

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.withLogging(s.withRateLimit(s.withCORS(mux))),
		ReadTimeout: 30 * time.Second,
		// No write timeout: run streams stay open for the whole run.
		IdleTimeout: 60 * time.Second,
	}

	return s, nil
}

// Handler returns the server's HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Registry returns the registry of live runs.
func (s *Server) Registry() *monitor.Registry {
	return s.registry
}

// Start listens until ctx is cancelled, then shuts down gracefully: the
// listener stops, live runs are cancelled, and their goroutines are awaited.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down server")
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown stops the HTTP server and every live run.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.cancelRuns()
	s.registry.CancelAll()
	err := s.httpServer.Shutdown(ctx)
	_ = s.runs.Wait()
	s.rateLimiter.Stop()

	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)
		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)

		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, clientID, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("error encoding JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// writeError writes err with the status HTTPStatus maps it to.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr; X-Forwarded-For is not trusted.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, clientID string, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		retry := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = retry
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
	}

	s.log.Warn("rate limit exceeded", "client", clientID, "limit", info.Limit,
		"reset", info.ResetTime.Format(time.RFC3339))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
