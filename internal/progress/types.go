// Package progress holds the per-step state machine driven by pipeline
// progress events.
package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// Status is the lifecycle state of a single step.
type Status string

// Status constants
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether s is Completed or Error.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Kind is the type of a progress event.
type Kind string

// Event kinds
const (
	KindStart    Kind = "start"
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Known reports whether k is one of the event kinds the reducer understands.
func (k Kind) Known() bool {
	switch k {
	case KindStart, KindProgress, KindComplete, KindError:
		return true
	}
	return false
}

// Event is one progress update received from the pipeline.
type Event struct {
	Kind           Kind            `json:"type"`
	RawStepID      string          `json:"agent,omitempty"`
	ReportedStatus string          `json:"status,omitempty"`
	Payload        json.RawMessage `json:"data,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// HasPayload reports whether the event carries a non-null payload.
func (e Event) HasPayload() bool {
	trimmed := bytes.TrimSpace(e.Payload)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// PayloadStatus returns the payload's "status" field, lower-cased, or "" when
// the payload is absent or not an object.
func (e Event) PayloadStatus() string {
	if !e.HasPayload() {
		return ""
	}
	var probe struct {
		Status any `json:"status"`
	}
	if err := json.Unmarshal(e.Payload, &probe); err != nil {
		return ""
	}
	s, ok := probe.Status.(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Record is the state of one canonical step for the current run.
type Record struct {
	ID        steps.StepID    `json:"id"`
	Status    Status          `json:"status"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	if r.Detail != nil {
		out.Detail = append(json.RawMessage(nil), r.Detail...)
	}
	return out
}

// CloneRecords deep-copies a record slice.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// Find returns the record for id.
func Find(records []Record, id steps.StepID) (Record, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Seed creates Pending records for every node of the topology.
func Seed(topo steps.Topology) []Record {
	records := make([]Record, 0, len(topo.Nodes))
	for _, id := range topo.Nodes {
		records = append(records, Record{ID: id, Status: StatusPending})
	}
	return records
}
