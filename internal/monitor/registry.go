package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRegistryLimit is how many sessions a registry keeps before evicting
// finished ones.
const DefaultRegistryLimit = 32

// Summary describes a session in listings.
type Summary struct {
	RunID     string    `json:"run_id"`
	Config    Config    `json:"config"`
	CreatedAt time.Time `json:"created_at"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
}

// Registry keeps the sessions of the current process in memory. Nothing is
// persisted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	limit    int
}

// NewRegistry creates a registry. A limit <= 0 uses DefaultRegistryLimit.
func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = DefaultRegistryLimit
	}
	return &Registry{sessions: make(map[uuid.UUID]*Session), limit: limit}
}

// Add registers a session, evicting the oldest finished sessions when the
// registry is over its limit. Running sessions are never evicted.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s

	if len(r.sessions) <= r.limit {
		return
	}
	finished := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if _, ok := sess.Outcome(); ok {
			finished = append(finished, sess)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt().Before(finished[j].CreatedAt())
	})
	for _, sess := range finished {
		if len(r.sessions) <= r.limit {
			break
		}
		delete(r.sessions, sess.ID())
	}
}

// Get returns the session with the given id.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove cancels and forgets a session.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Cancel()
	}
	return ok
}

// List returns summaries ordered by creation time, newest first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		sum := Summary{RunID: s.ID().String(), Config: s.Config(), CreatedAt: s.CreatedAt()}
		if o, ok := s.Outcome(); ok {
			sum.Outcome = &o
		}
		out = append(out, sum)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CancelAll cancels every session. Used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.Cancel()
	}
}
