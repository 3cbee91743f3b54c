package stream

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/jonathan/pipeline-monitor/internal/progress"
)

// Frame is one dispatched event-stream message.
type Frame struct {
	Event string
	Data  string
}

// errEmptyFrame marks frames that carry no data at all.
var errEmptyFrame = errors.New("empty frame")

// wireEvent is the JSON body the pipeline backend sends in each frame.
type wireEvent struct {
	Type    string          `json:"type"`
	Agent   string          `json:"agent"`
	Step    string          `json:"step"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// Decode parses a frame into a progress event. Missing fields are treated as
// absent; the frame's event name stands in for a missing "type".
func Decode(f Frame) (progress.Event, error) {
	data := strings.TrimSpace(f.Data)
	if data == "" {
		return progress.Event{}, errEmptyFrame
	}

	var w wireEvent
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return progress.Event{}, err
	}

	kind := w.Type
	if kind == "" {
		kind = f.Event
	}

	raw := w.Agent
	if raw == "" {
		raw = w.Step
	}

	msg := w.Message
	if msg == "" {
		msg = w.Error
	}

	return progress.Event{
		Kind:           progress.Kind(strings.ToLower(strings.TrimSpace(kind))),
		RawStepID:      raw,
		ReportedStatus: w.Status,
		Payload:        w.Data,
		Message:        msg,
	}, nil
}

// frameBuilder accumulates event-stream lines into frames. It tracks the
// bracket depth of the pending data so a complete JSON document is recognised
// without re-parsing the whole buffer on every line.
type frameBuilder struct {
	event string
	data  []string

	depth     int
	inString  bool
	escaped   bool
	complete  bool // pending data is one valid JSON document
	malformed bool // pending data can no longer become one
}

func (b *frameBuilder) empty() bool {
	return len(b.data) == 0
}

func (b *frameBuilder) take() Frame {
	f := Frame{Event: b.event, Data: strings.Join(b.data, "\n")}
	b.event = ""
	b.data = b.data[:0]
	b.depth, b.inString, b.escaped = 0, false, false
	b.complete, b.malformed = false, false
	return f
}

// line feeds one line (without its terminator) and returns any frames that
// became complete.
func (b *frameBuilder) line(line string) []Frame {
	if line == "" {
		if b.empty() {
			b.event = ""
			return nil
		}
		return []Frame{b.take()}
	}
	if strings.HasPrefix(line, ":") {
		return nil
	}

	// Producers that skip the "data:" prefix send bare JSON lines.
	if strings.HasPrefix(line, "{") {
		return b.appendData(line)
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		b.event = value
	case "data":
		return b.appendData(value)
	}
	return nil
}

// appendData appends a data line. Producers that put one JSON document per
// "data:" line without blank separators get each document dispatched on its
// own.
func (b *frameBuilder) appendData(value string) []Frame {
	var out []Frame
	if !b.empty() && b.complete {
		event := b.event
		out = append(out, b.take())
		b.event = event
	}
	b.data = append(b.data, value)
	b.scan(value)

	if strings.TrimSpace(value) == "" {
		return out
	}
	b.complete = false
	if b.malformed || b.inString || b.depth != 0 {
		return out
	}
	// Only validated when the brackets balance, so once per document.
	if json.Valid([]byte(strings.Join(b.data, "\n"))) {
		b.complete = true
	} else {
		b.malformed = true
	}
	return out
}

// scan advances the bracket and string state over one data line.
func (b *frameBuilder) scan(line string) {
	b.escaped = false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if b.inString {
			switch {
			case b.escaped:
				b.escaped = false
			case c == '\\':
				b.escaped = true
			case c == '"':
				b.inString = false
			}
			continue
		}
		switch c {
		case '"':
			b.inString = true
		case '{', '[':
			b.depth++
		case '}', ']':
			b.depth--
		}
	}
	if b.depth < 0 {
		b.malformed = true
	}
}
