package progress

import (
	"log/slog"
	"time"

	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// Stats counts how events were handled. Dropped and Ignored events never
// change state, so the counters are the only trace they leave.
type Stats struct {
	Applied int `json:"applied"`
	Dropped int `json:"dropped"`
	Ignored int `json:"ignored"`
}

// StoreOptions configures a Store. Zero values select defaults.
type StoreOptions struct {
	Resolver *steps.Resolver
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Store owns the step records of exactly one run. It is not safe for
// concurrent use; a run applies events from a single goroutine.
type Store struct {
	mode     steps.Mode
	resolver *steps.Resolver
	clock    func() time.Time
	log      *slog.Logger

	records []Record
	stats   Stats
}

// NewStore creates a store seeded with a Pending record for every node of topo.
func NewStore(topo steps.Topology, opts StoreOptions) *Store {
	s := &Store{
		mode:     topo.Mode,
		resolver: opts.Resolver,
		clock:    opts.Clock,
		log:      opts.Logger,
		records:  Seed(topo),
	}
	if s.resolver == nil {
		s.resolver = steps.DefaultResolver()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Apply reduces one event into the store.
func (s *Store) Apply(ev Event) Result {
	res := Reduce(s.records, ev, s.mode, s.clock(), s.resolver)

	switch res.Effect {
	case EffectApplied:
		s.stats.Applied++
		s.records = res.Records
	case EffectDropped:
		s.stats.Dropped++
		s.log.Debug("dropped progress event with unresolved step",
			"raw_step", ev.RawStepID, "kind", ev.Kind, "rule", res.Rule)
	case EffectIgnored:
		s.stats.Ignored++
		s.log.Debug("ignored progress event of unknown kind", "kind", ev.Kind)
	}

	// Hand out a copy so callers cannot mutate store state.
	res.Records = CloneRecords(s.records)
	return res
}

// Records returns a copy of the current records.
func (s *Store) Records() []Record {
	return CloneRecords(s.records)
}

// Stats returns the event counters.
func (s *Store) Stats() Stats {
	return s.stats
}

// Mode returns the workflow mode the store was seeded for.
func (s *Store) Mode() steps.Mode {
	return s.mode
}
