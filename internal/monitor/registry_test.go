package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/pipeline-monitor/internal/steps"
)

func newTestSession(t *testing.T, created time.Time) *Session {
	t.Helper()
	s, err := NewSession(Options{
		Config: Config{Mode: steps.ModeSignal},
		Clock:  func() time.Time { return created },
	})
	require.NoError(t, err)
	return s
}

func finishSession(s *Session) {
	s.Run(context.Background(), strings.NewReader(""))
}

func TestRegistry_AddGetRemove(t *testing.T) {
	reg := NewRegistry(0)
	s := newTestSession(t, time.Now())
	reg.Add(s)

	got, ok := reg.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = reg.Get(uuid.New())
	assert.False(t, ok)

	assert.True(t, reg.Remove(s.ID()))
	assert.False(t, reg.Remove(s.ID()))
	_, ok = reg.Get(s.ID())
	assert.False(t, ok)
}

func TestRegistry_RemoveCancelsRun(t *testing.T) {
	reg := NewRegistry(0)
	s := newTestSession(t, time.Now())
	reg.Add(s)
	reg.Remove(s.ID())

	out := s.Run(context.Background(), strings.NewReader(frame(`{"type":"start"}`)))
	assert.Equal(t, OutcomeCancelled, out.Kind)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	reg := NewRegistry(0)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	older := newTestSession(t, base)
	newer := newTestSession(t, base.Add(time.Minute))
	reg.Add(older)
	reg.Add(newer)
	finishSession(older)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID().String(), list[0].RunID)
	assert.Nil(t, list[0].Outcome)
	assert.Equal(t, older.ID().String(), list[1].RunID)
	require.NotNil(t, list[1].Outcome)
	assert.Equal(t, OutcomeCompleted, list[1].Outcome.Kind)
}

func TestRegistry_EvictsOldestFinished(t *testing.T) {
	reg := NewRegistry(2)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	running := newTestSession(t, base)
	finishedOld := newTestSession(t, base.Add(time.Minute))
	finishedNew := newTestSession(t, base.Add(2*time.Minute))
	finishSession(finishedOld)
	finishSession(finishedNew)

	reg.Add(running)
	reg.Add(finishedOld)
	reg.Add(finishedNew)

	_, ok := reg.Get(running.ID())
	assert.True(t, ok, "running sessions are kept")
	_, ok = reg.Get(finishedOld.ID())
	assert.False(t, ok)
	_, ok = reg.Get(finishedNew.ID())
	assert.True(t, ok)
}

func TestRegistry_CancelAll(t *testing.T) {
	reg := NewRegistry(0)
	a := newTestSession(t, time.Now())
	b := newTestSession(t, time.Now())
	reg.Add(a)
	reg.Add(b)

	reg.CancelAll()

	for _, s := range []*Session{a, b} {
		out := s.Run(context.Background(), strings.NewReader(""))
		assert.Equal(t, OutcomeCancelled, out.Kind)
	}
}
