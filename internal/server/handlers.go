package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/pipeline-monitor/internal/backend"
	"github.com/jonathan/pipeline-monitor/internal/graph"
	"github.com/jonathan/pipeline-monitor/internal/monitor"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// RunResponse represents the response for POST /runs
type RunResponse struct {
	RunID     string         `json:"run_id"`
	Status    string         `json:"status"`
	Config    monitor.Config `json:"config"`
	StreamURL string         `json:"stream_url"`
}

// TopologyResponse represents the response for GET /topology
type TopologyResponse struct {
	steps.Topology
	Labels map[steps.StepID]string      `json:"labels"`
	Layout map[steps.StepID]graph.Point `json:"layout"`
}

// handleTopology previews the pipeline shape for a configuration
func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := steps.ModeSignal
	if raw := q.Get("mode"); raw != "" {
		m, err := steps.ParseMode(raw)
		if err != nil {
			s.writeError(w, &ErrValidation{Field: "mode", Message: err.Error()})
			return
		}
		mode = m
	}
	execute, err := parseBool(q, "execute")
	if err != nil {
		s.writeError(w, err)
		return
	}
	dryRun, err := parseBool(q, "dry_run")
	if err != nil {
		s.writeError(w, err)
		return
	}

	topo := steps.Build(mode, execute || dryRun)
	labels := make(map[steps.StepID]string, len(topo.Nodes))
	for _, id := range topo.Nodes {
		labels[id] = steps.Label(id)
	}
	s.jsonResponse(w, http.StatusOK, TopologyResponse{Topology: topo, Labels: labels, Layout: graph.Layout(topo)})
}

// handleCreateRun starts a run on the backend and begins monitoring it
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req backend.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &ErrValidation{Field: "body", Message: "invalid request body: " + err.Error()})
		return
	}
	if mode, err := steps.ParseMode(string(req.Mode)); err == nil {
		req.Mode = mode
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, validationError(err))
		return
	}

	cfg := monitor.Config{Mode: req.Mode, ExecuteTrades: req.ExecuteTrades, DryRun: req.DryRun}
	session, err := monitor.NewSession(monitor.Options{
		Config:   cfg,
		Resolver: s.resolver,
		Logger:   s.log,
	})
	if err != nil {
		s.writeError(w, validationError(err))
		return
	}

	// The stream outlives this request; it is bound to the server's run context.
	runCtx, cancel := context.WithCancel(s.runCtx)
	body, err := s.backend.StartRun(runCtx, req)
	if err != nil {
		cancel()
		s.writeError(w, err)
		return
	}

	s.registry.Add(session)
	s.runs.Go(func() error {
		defer cancel()
		session.Start(runCtx, func(context.Context) (io.ReadCloser, error) { return body, nil })
		return nil
	})

	id := session.ID().String()
	s.jsonResponse(w, http.StatusAccepted, RunResponse{
		RunID:     id,
		Status:    "running",
		Config:    cfg,
		StreamURL: "/runs/" + id + "/stream",
	})
}

// handleListRuns lists live runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": s.registry.List()})
}

// handleGetRun returns the latest snapshot of a run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	session, err := s.lookup(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, session.Snapshot())
}

// handleRunStream streams snapshots via SSE until the run ends or the client leaves
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	session, err := s.lookup(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.writeError(w, err)
		return
	}

	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	runID := session.ID().String()
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := sse.WriteEvent("snapshot", snap); err != nil {
				s.log.Debug("stream client gone", "run_id", runID, "error", err)
				return
			}
			if snap.Outcome == nil {
				continue
			}
			switch snap.Outcome.Kind {
			case monitor.OutcomeCompleted:
				sse.WriteComplete(runID, string(monitor.OutcomeCompleted))
			case monitor.OutcomeCancelled:
				sse.WriteCancelled(runID)
			default:
				sse.WriteError(runID, snap.Outcome.Message)
			}
			return
		}
	}
}

// handleRunView projects the latest graph through a viewport
func (s *Server) handleRunView(w http.ResponseWriter, r *http.Request) {
	session, err := s.lookup(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	q := r.URL.Query()
	vp := graph.NewViewport()
	panX, err := parseFloat(q, "pan_x", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	panY, err := parseFloat(q, "pan_y", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	zoom, err := parseFloat(q, "zoom", 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	vp = vp.Pan(panX, panY).ZoomBy(zoom)
	if sel := q.Get("selected"); sel != "" {
		id := steps.StepID(sel)
		if !id.Valid() {
			s.writeError(w, &ErrValidation{Field: "selected", Message: "unknown step " + sel})
			return
		}
		vp = vp.Select(id)
	}

	s.jsonResponse(w, http.StatusOK, vp.Project(session.Snapshot().Graph))
}

// handleCancelRun requests cancellation of a run
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	session, err := s.lookup(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	session.Cancel()

	status := "cancelling"
	if out, done := session.Outcome(); done {
		status = string(out.Kind)
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"run_id": session.ID().String(), "status": status})
}

// handleDeleteRun cancels a run and forgets it
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !s.registry.Remove(id) {
		s.writeError(w, &ErrRunNotFound{RunID: id.String()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookup(r *http.Request) (*monitor.Session, error) {
	id, err := parseRunID(r)
	if err != nil {
		return nil, err
	}
	session, ok := s.registry.Get(id)
	if !ok {
		return nil, &ErrRunNotFound{RunID: id.String()}
	}
	return session, nil
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: "id", Message: "invalid run id"}
	}
	return id, nil
}

func parseBool(q map[string][]string, key string) (bool, error) {
	vals := q[key]
	if len(vals) == 0 || vals[0] == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(vals[0])
	if err != nil {
		return false, &ErrValidation{Field: key, Message: "must be a boolean"}
	}
	return v, nil
}

func parseFloat(q map[string][]string, key string, def float64) (float64, error) {
	vals := q[key]
	if len(vals) == 0 || vals[0] == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(vals[0], 64)
	if err != nil {
		return 0, &ErrValidation{Field: key, Message: "must be a number"}
	}
	return v, nil
}

// validationError converts validator failures to ErrValidation.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ErrValidation{Field: fe.Field(), Message: "failed '" + fe.Tag() + "' validation"}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}
