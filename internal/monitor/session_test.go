package monitor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/pipeline-monitor/internal/graph"
	"github.com/jonathan/pipeline-monitor/internal/progress"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(100 * time.Millisecond)
		return t
	}
}

func frame(body string) string {
	return "data: " + body + "\n\n"
}

const fullScenario = `{"type":"start"}
{"type":"progress","agent":"data_aggregation","status":"running"}
{"type":"progress","agent":"data_aggregation","status":"completed"}
{"type":"progress","agent":"mazo_initial_research","status":"running"}
{"type":"progress","agent":"mazo_initial_research","status":"completed"}
{"type":"progress","agent":"ai_hedge_fund","status":"running"}
{"type":"complete","data":{"decisions":{"AAPL":{"action":"buy"}}}}`

func scenarioStream(lines string) string {
	var sb strings.Builder
	for _, l := range strings.Split(lines, "\n") {
		sb.WriteString(frame(l))
	}
	return sb.String()
}

func statusOf(t *testing.T, snap Snapshot, id steps.StepID) progress.Status {
	t.Helper()
	rec, ok := progress.Find(snap.Records, id)
	require.True(t, ok, "record %s missing", id)
	return rec.Status
}

func TestNewSession_ValidatesConfig(t *testing.T) {
	_, err := NewSession(Options{Config: Config{Mode: "bogus"}})
	assert.Error(t, err)

	_, err = NewSession(Options{})
	assert.Error(t, err)
}

func TestSession_EndToEndFull(t *testing.T) {
	for _, execute := range []bool{false, true} {
		s, err := NewSession(Options{Config: Config{Mode: steps.ModeFull, ExecuteTrades: execute}, Clock: fixedClock()})
		require.NoError(t, err)

		var published []Snapshot
		ch, unsubscribe := s.Subscribe()
		defer unsubscribe()

		out := s.Run(context.Background(), strings.NewReader(scenarioStream(fullScenario)))
		assert.Equal(t, Outcome{Kind: OutcomeCompleted}, out)

		for snap := range ch {
			published = append(published, snap)
		}
		require.NotEmpty(t, published)
		final := published[len(published)-1]
		assert.Equal(t, s.Snapshot(), final)
		require.NotNil(t, final.Outcome)
		assert.Equal(t, OutcomeCompleted, final.Outcome.Kind)

		for _, id := range []steps.StepID{steps.WorkflowStart, steps.DataAggregation, steps.MazoInitial, steps.AIHedgeFund, steps.Agents} {
			assert.Equal(t, progress.StatusCompleted, statusOf(t, final, id), "%s", id)
		}
		assert.Equal(t, progress.StatusPending, statusOf(t, final, steps.PortfolioManager))
		assert.Equal(t, progress.StatusPending, statusOf(t, final, steps.MazoDeepDive))

		_, hasTrade := progress.Find(final.Records, steps.TradeExecution)
		assert.Equal(t, execute, hasTrade)

		node, ok := final.Graph.Node(steps.DataAggregation)
		require.True(t, ok)
		require.NotNil(t, node.DurationMs)
		assert.Positive(t, *node.DurationMs)

		assert.Equal(t, 7, final.Events.Applied)
		assert.Equal(t, 8, final.Sequence, "one publish per applied event plus the final one")

		select {
		case <-s.Done():
		default:
			t.Fatal("done not closed")
		}
	}
}

func TestSession_MalformedFrameKeepsRunning(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	input := frame(`{"type":"progress","agent":"data_aggregation","status":"running"}`) +
		"data: {oops\n\n" +
		frame(`{"type":"progress","agent":"data_aggregation","status":"completed"}`)

	out := s.Run(context.Background(), strings.NewReader(input))

	assert.Equal(t, OutcomeCompleted, out.Kind)
	snap := s.Snapshot()
	assert.Len(t, snap.Records, len(steps.Build(steps.ModeSignal, false).Nodes))
	assert.Equal(t, 1, snap.Frames.Malformed)
	assert.Equal(t, progress.StatusCompleted, statusOf(t, snap, steps.DataAggregation))
}

func TestSession_DroppedEventsCounted(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	input := frame(`{"type":"progress","agent":"sentiment_agent","status":"running"}`) +
		frame(`{"type":"heartbeat"}`) +
		frame(`{"type":"progress","agent":"analysis_NVDA","status":"running"}`)

	s.Run(context.Background(), strings.NewReader(input))

	snap := s.Snapshot()
	assert.Equal(t, progress.Stats{Applied: 1, Dropped: 1, Ignored: 1}, snap.Events)
	assert.Equal(t, progress.StatusRunning, statusOf(t, snap, steps.Agents))
}

func TestSession_ProducerErrorEndsRun(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	input := frame(`{"type":"progress","agent":"analysis_AAPL","status":"running"}`) +
		frame(`{"type":"error","message":"rate limited by data vendor"}`) +
		frame(`{"type":"progress","agent":"portfolio_manager","status":"running"}`)

	out := s.Run(context.Background(), strings.NewReader(input))

	assert.Equal(t, Outcome{Kind: OutcomeFailed, Message: "rate limited by data vendor"}, out)
	snap := s.Snapshot()
	assert.Equal(t, progress.StatusError, statusOf(t, snap, steps.Error))
	assert.Equal(t, progress.StatusPending, statusOf(t, snap, steps.PortfolioManager), "nothing is read after a terminal event")
}

func TestSession_StepErrorDoesNotEndRun(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	input := frame(`{"type":"error","agent":"portfolio_manager","message":"retrying"}`) +
		frame(`{"type":"progress","agent":"portfolio_manager","status":"completed"}`)

	out := s.Run(context.Background(), strings.NewReader(input))

	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, progress.StatusCompleted, statusOf(t, s.Snapshot(), steps.PortfolioManager))
}

func TestSession_StepErrorAtEndOfStreamFailsRun(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	input := frame(`{"type":"start"}`) +
		frame(`{"type":"progress","agent":"ai_hedge_fund","status":"running"}`) +
		frame(`{"type":"error","agent":"ai_hedge_fund","message":"agent crashed"}`)

	out := s.Run(context.Background(), strings.NewReader(input))

	assert.Equal(t, Outcome{Kind: OutcomeFailed, Message: "agent crashed"}, out)
	snap := s.Snapshot()
	assert.Equal(t, progress.StatusError, statusOf(t, snap, steps.AIHedgeFund))
	assert.Equal(t, progress.StatusError, statusOf(t, snap, steps.Agents))
}

func TestSession_DroppedEventAfterStepErrorStillFails(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	input := frame(`{"type":"error","agent":"portfolio_manager"}`) +
		frame(`{"type":"progress","agent":"sentiment_agent","status":"running"}`)

	out := s.Run(context.Background(), strings.NewReader(input))

	assert.Equal(t, Outcome{Kind: OutcomeFailed, Message: progress.DefaultErrorMessage}, out)
}

func TestSession_TransportFailure(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	r := io.MultiReader(strings.NewReader(frame(`{"type":"start"}`)), iotest.ErrReader(errors.New("unexpected EOF from proxy")))
	out := s.Run(context.Background(), r)

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Contains(t, out.Message, "unexpected EOF from proxy")
	assert.Equal(t, progress.StatusRunning, statusOf(t, s.Snapshot(), steps.WorkflowStart))
}

func TestSession_CancelMidStream(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeFull}})
	require.NoError(t, err)

	applied := make(chan Snapshot, 16)
	s.onSnapshot = func(snap Snapshot) { applied <- snap }

	pr, pw := io.Pipe()
	outCh := make(chan Outcome, 1)
	go func() { outCh <- s.Run(context.Background(), pr) }()

	_, err = pw.Write([]byte(frame(`{"type":"start"}`) +
		frame(`{"type":"progress","agent":"data_aggregation","status":"running"}`)))
	require.NoError(t, err)
	<-applied
	last := <-applied

	s.Cancel()

	select {
	case out := <-outCh:
		assert.Equal(t, Outcome{Kind: OutcomeCancelled}, out)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	final := s.Snapshot()
	assert.Equal(t, last.Records, final.Records, "state is exactly that of the last applied event")
	require.NotNil(t, final.Outcome)
	assert.Equal(t, OutcomeCancelled, final.Outcome.Kind)
}

func TestSession_CancelBeforeStart(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)
	s.Cancel()

	opened := false
	out := s.Start(context.Background(), func(context.Context) (io.ReadCloser, error) {
		opened = true
		return io.NopCloser(strings.NewReader("")), nil
	})

	assert.Equal(t, OutcomeCancelled, out.Kind)
	assert.False(t, opened)
}

func TestSession_StartOpenFailure(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	out := s.Start(context.Background(), func(context.Context) (io.ReadCloser, error) {
		return nil, errors.New("backend error: HTTP 503")
	})

	assert.Equal(t, Outcome{Kind: OutcomeFailed, Message: "backend error: HTTP 503"}, out)
	got, ok := s.Outcome()
	assert.True(t, ok)
	assert.Equal(t, out, got)
}

func TestSession_RunOnce(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	s.Run(context.Background(), strings.NewReader(""))
	out := s.Run(context.Background(), strings.NewReader(frame(`{"type":"start"}`)))

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, progress.StatusPending, statusOf(t, s.Snapshot(), steps.WorkflowStart))
}

func TestSession_SubscribeAfterFinish(t *testing.T) {
	s, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)
	s.Run(context.Background(), strings.NewReader(frame(`{"type":"complete"}`)))

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	snap, ok := <-ch
	require.True(t, ok)
	require.NotNil(t, snap.Outcome)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestSession_FreshStorePerRun(t *testing.T) {
	first, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)
	first.Run(context.Background(), strings.NewReader(scenarioStream(fullScenario)))

	second, err := NewSession(Options{Config: Config{Mode: steps.ModeSignal}})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	for _, r := range second.Snapshot().Records {
		assert.Equal(t, progress.StatusPending, r.Status)
	}
	for _, e := range second.Snapshot().Graph.Edges {
		assert.Equal(t, graph.EdgePending, e.Status)
	}
}

func TestOffer_ReplacesUnread(t *testing.T) {
	ch := make(chan Snapshot, 1)
	offer(ch, Snapshot{Sequence: 1})
	offer(ch, Snapshot{Sequence: 2})

	assert.Equal(t, 2, (<-ch).Sequence)
}
