// Package monitor runs one progress stream through the step state machine and
// publishes a fresh snapshot of the records and graph after every applied
// event.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/pipeline-monitor/internal/graph"
	"github.com/jonathan/pipeline-monitor/internal/progress"
	"github.com/jonathan/pipeline-monitor/internal/steps"
	"github.com/jonathan/pipeline-monitor/internal/stream"
)

// OutcomeKind is how a run ended.
type OutcomeKind string

// Outcome kinds
const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the terminal notification of a run.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Message string      `json:"message,omitempty"`
}

// Config fixes the shape of a run. It must not change once the run starts.
type Config struct {
	Mode          steps.Mode `json:"mode" validate:"required,oneof=signal research pre-research post-research full"`
	ExecuteTrades bool       `json:"execute_trades"`
	DryRun        bool       `json:"dry_run"`
}

// ExecuteOrDryRun reports whether the trade execution stage is present.
func (c Config) ExecuteOrDryRun() bool {
	return c.ExecuteTrades || c.DryRun
}

// Validate validates the Config using the validator.
func (c Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// Snapshot is the read-only view published after every applied event.
type Snapshot struct {
	RunID     string            `json:"run_id"`
	Config    Config            `json:"config"`
	Sequence  int               `json:"sequence"`
	Records   []progress.Record `json:"records"`
	Graph     graph.Graph       `json:"graph"`
	Events    progress.Stats    `json:"events"`
	Frames    stream.Stats      `json:"frames"`
	Outcome   *Outcome          `json:"outcome,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SnapshotCallback is called on the run goroutine after each publish.
type SnapshotCallback func(snap Snapshot)

// Opener opens the event stream for a run.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Options configures a Session.
type Options struct {
	Config
	Resolver   *steps.Resolver
	Clock      func() time.Time
	Logger     *slog.Logger
	OnSnapshot SnapshotCallback
}

// Session owns the state of exactly one run. A new run needs a new Session.
type Session struct {
	id         uuid.UUID
	cfg        Config
	topo       steps.Topology
	store      *progress.Store
	ingestor   *stream.Ingestor
	clock      func() time.Time
	log        *slog.Logger
	onSnapshot SnapshotCallback
	createdAt  time.Time

	mu              sync.RWMutex
	latest          Snapshot
	sequence        int
	subs            map[int]chan Snapshot
	nextSub         int
	outcome         *Outcome
	started         bool
	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

// NewSession validates the run configuration and seeds a fresh store.
func NewSession(opts Options) (*Session, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	id := uuid.New()
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("run_id", id.String())

	topo := steps.Build(opts.Mode, opts.ExecuteOrDryRun())
	s := &Session{
		id:   id,
		cfg:  opts.Config,
		topo: topo,
		store: progress.NewStore(topo, progress.StoreOptions{
			Resolver: opts.Resolver,
			Clock:    clock,
			Logger:   log,
		}),
		ingestor:   stream.NewIngestor(log),
		clock:      clock,
		log:        log,
		onSnapshot: opts.OnSnapshot,
		createdAt:  clock(),
		subs:       make(map[int]chan Snapshot),
		done:       make(chan struct{}),
	}
	s.latest = s.buildSnapshot(nil)
	return s, nil
}

// ID returns the run id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Config returns the run configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Topology returns the pipeline topology for the run.
func (s *Session) Topology() steps.Topology {
	return s.topo
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Snapshot returns the latest published snapshot.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Done is closed once the run has an outcome.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the terminal outcome, if the run has ended.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// Subscribe returns a channel carrying the latest snapshot. Unread snapshots
// are replaced by newer ones. The channel is closed after the final snapshot.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- s.latest
	if s.outcome != nil {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Cancel stops the run. The run ends with a cancelled outcome and keeps the
// state reached so far.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRequested = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Start opens the stream and runs it. Failing to open the stream is a
// transport failure.
func (s *Session) Start(ctx context.Context, open Opener) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.begin(cancel) {
		return s.alreadyStarted()
	}
	if s.cancelled() {
		return s.finish(Outcome{Kind: OutcomeCancelled})
	}

	body, err := open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return s.finish(Outcome{Kind: OutcomeCancelled})
		}
		s.log.Error("failed to open progress stream", "error", err)
		return s.finish(Outcome{Kind: OutcomeFailed, Message: err.Error()})
	}
	defer func() { _ = body.Close() }()

	return s.consume(ctx, body)
}

// Run consumes r until the stream ends, a terminal event arrives, or ctx is
// cancelled.
func (s *Session) Run(ctx context.Context, r io.Reader) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.begin(cancel) {
		return s.alreadyStarted()
	}
	return s.consume(ctx, r)
}

func (s *Session) begin(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true
	s.cancel = cancel
	if s.cancelRequested {
		cancel()
	}
	return true
}

func (s *Session) cancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelRequested
}

func (s *Session) alreadyStarted() Outcome {
	return Outcome{Kind: OutcomeFailed, Message: "session already started"}
}

func (s *Session) consume(ctx context.Context, r io.Reader) Outcome {
	s.log.Info("run started", "mode", s.cfg.Mode, "execute_trades", s.cfg.ExecuteTrades, "dry_run", s.cfg.DryRun)

	var terminal, stepFailure *Outcome
	err := s.ingestor.Ingest(ctx, r, func(ev progress.Event) bool {
		res := s.store.Apply(ev)
		if res.Effect != progress.EffectApplied {
			return true
		}
		s.publish(nil)

		stepFailure = nil
		if ev.Kind == progress.KindError {
			stepFailure = &Outcome{Kind: OutcomeFailed, Message: res.Message}
		}

		switch res.Terminal {
		case progress.TerminalCompleted:
			terminal = &Outcome{Kind: OutcomeCompleted}
			return false
		case progress.TerminalFailed:
			terminal = &Outcome{Kind: OutcomeFailed, Message: res.Message}
			return false
		}
		return true
	})

	switch {
	case errors.Is(err, stream.ErrCancelled):
		return s.finish(Outcome{Kind: OutcomeCancelled})
	case err != nil:
		s.log.Error("progress stream failed", "error", err)
		return s.finish(Outcome{Kind: OutcomeFailed, Message: err.Error()})
	case terminal != nil:
		return s.finish(*terminal)
	case stepFailure != nil:
		// the stream ended on a step error nothing recovered from
		return s.finish(*stepFailure)
	default:
		// the producer closed the stream without a terminal event
		return s.finish(Outcome{Kind: OutcomeCompleted})
	}
}

func (s *Session) buildSnapshot(outcome *Outcome) Snapshot {
	now := s.clock()
	records := s.store.Records()
	return Snapshot{
		RunID:     s.id.String(),
		Config:    s.cfg,
		Sequence:  s.sequence,
		Records:   records,
		Graph:     graph.Project(s.topo, records, now),
		Events:    s.store.Stats(),
		Frames:    s.ingestor.Stats(),
		Outcome:   outcome,
		UpdatedAt: now,
	}
}

func (s *Session) publish(outcome *Outcome) Snapshot {
	s.mu.Lock()
	s.sequence++
	snap := s.buildSnapshot(outcome)
	s.latest = snap
	for _, ch := range s.subs {
		offer(ch, snap)
	}
	s.mu.Unlock()

	if s.onSnapshot != nil {
		s.onSnapshot(snap)
	}
	return snap
}

func (s *Session) finish(out Outcome) Outcome {
	final := out
	s.publish(&final)

	s.mu.Lock()
	s.outcome = &final
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	close(s.done)

	stats := s.store.Stats()
	s.log.Info("run finished", "outcome", out.Kind, "message", out.Message,
		"applied", stats.Applied, "dropped", stats.Dropped, "ignored", stats.Ignored,
		"malformed", s.ingestor.Stats().Malformed)
	return out
}

// offer replaces any unread snapshot in ch with snap.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
