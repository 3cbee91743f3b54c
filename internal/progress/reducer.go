package progress

import (
	"sort"
	"strings"
	"time"

	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// Effect describes what a single event did to the record set.
type Effect string

// Effect constants
const (
	// EffectApplied means the event was routed to a step (it may still have
	// left the record unchanged, e.g. a stale running update).
	EffectApplied Effect = "applied"
	// EffectDropped means the event's step id could not be resolved.
	EffectDropped Effect = "dropped"
	// EffectIgnored means the event kind is not one the reducer understands.
	EffectIgnored Effect = "ignored"
)

// Terminal reports whether an event ends the run.
type Terminal string

// Terminal constants
const (
	TerminalNone      Terminal = ""
	TerminalCompleted Terminal = "completed"
	TerminalFailed    Terminal = "failed"
)

// DefaultErrorMessage is used when the producer fails a run without a message.
const DefaultErrorMessage = "pipeline reported an error"

// Result is the outcome of reducing one event.
type Result struct {
	Records  []Record
	Effect   Effect
	Target   steps.StepID
	Rule     string
	Terminal Terminal
	Message  string
}

// DeriveStatus maps an event onto a step status. The checks are ordered and
// the first match wins; StatusPending means "leave the status alone".
func DeriveStatus(ev Event) Status {
	reported := strings.ToLower(strings.TrimSpace(ev.ReportedStatus))
	payload := ev.PayloadStatus()

	switch {
	case ev.Kind == KindComplete || reported == "completed" || payload == "complete":
		return StatusCompleted
	case reported == "running" || payload == "running":
		return StatusRunning
	case ev.Kind == KindError || reported == "error" || payload == "error":
		return StatusError
	default:
		return StatusPending
	}
}

// Reduce applies ev to records and returns the next record set. The input
// slice is never modified.
func Reduce(records []Record, ev Event, mode steps.Mode, now time.Time, resolver *steps.Resolver) Result {
	if !ev.Kind.Known() {
		return Result{Records: records, Effect: EffectIgnored}
	}
	if resolver == nil {
		resolver = steps.DefaultResolver()
	}

	next := CloneRecords(records)

	if ev.Kind == KindStart {
		status := DeriveStatus(ev)
		if status == StatusPending {
			status = StatusRunning
		}
		next = update(next, steps.WorkflowStart, ev, status, now)
		return Result{Records: next, Effect: EffectApplied, Target: steps.WorkflowStart, Rule: "start"}
	}

	target, rule, ok := resolver.ResolveRule(ev.RawStepID, mode)
	if !ok {
		// Ids claimed by a rule without a target are never run level.
		runLevel := rule == ""
		switch {
		case runLevel && ev.Kind == KindComplete:
			next = closeRunning(next, now)
			if ev.HasPayload() {
				next = update(next, steps.WorkflowStart, Event{Payload: ev.Payload}, StatusPending, now)
			}
			return Result{Records: next, Effect: EffectApplied, Rule: "barrier", Terminal: TerminalCompleted}
		case runLevel && ev.Kind == KindError:
			next = update(next, steps.Error, ev, StatusError, now)
			return Result{
				Records:  next,
				Effect:   EffectApplied,
				Target:   steps.Error,
				Rule:     "run_error",
				Terminal: TerminalFailed,
				Message:  errorMessage(ev),
			}
		}
		return Result{Records: records, Effect: EffectDropped, Rule: rule}
	}

	next = update(next, target, ev, DeriveStatus(ev), now)
	if target == steps.AIHedgeFund {
		next = mirror(next, steps.AIHedgeFund, steps.Agents)
	}

	res := Result{Records: next, Effect: EffectApplied, Target: target, Rule: rule}
	if ev.Kind == KindError {
		res.Message = errorMessage(ev)
	}
	return res
}

// update applies a derived status and the event payload to one record,
// creating the record when the step is not part of the seeded set.
func update(records []Record, id steps.StepID, ev Event, status Status, now time.Time) []Record {
	idx := indexOf(records, id)
	if idx < 0 {
		records = append(records, Record{ID: id, Status: StatusPending})
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].ID.Order() < records[j].ID.Order()
		})
		idx = indexOf(records, id)
	}
	rec := &records[idx]

	switch status {
	case StatusRunning:
		if rec.Status == StatusPending {
			rec.Status = StatusRunning
			if rec.StartedAt == nil {
				t := now
				rec.StartedAt = &t
			}
		}
	case StatusCompleted:
		if rec.Status != StatusCompleted {
			rec.Status = StatusCompleted
			t := now
			rec.EndedAt = &t
		}
	case StatusError:
		// Only an explicit error event may reopen a completed step.
		if rec.Status == StatusCompleted && ev.Kind != KindError {
			break
		}
		if rec.Status != StatusError {
			rec.Status = StatusError
			t := now
			rec.EndedAt = &t
		}
	}

	if ev.HasPayload() {
		rec.Detail = append([]byte(nil), ev.Payload...)
	}
	return records
}

// closeRunning completes every running step.
func closeRunning(records []Record, now time.Time) []Record {
	for i := range records {
		if records[i].Status == StatusRunning {
			records[i].Status = StatusCompleted
			t := now
			records[i].EndedAt = &t
		}
	}
	return records
}

// mirror copies the state of src onto dst, creating dst if needed.
func mirror(records []Record, src, dst steps.StepID) []Record {
	si := indexOf(records, src)
	if si < 0 {
		return records
	}
	copied := records[si].Clone()
	copied.ID = dst

	di := indexOf(records, dst)
	if di < 0 {
		records = append(records, copied)
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].ID.Order() < records[j].ID.Order()
		})
		return records
	}
	records[di] = copied
	return records
}

func indexOf(records []Record, id steps.StepID) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

func errorMessage(ev Event) string {
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		return msg
	}
	return DefaultErrorMessage
}
