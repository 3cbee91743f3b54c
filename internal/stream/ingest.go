// Package stream reads the pipeline's progress event stream and turns it into
// progress events, one at a time and in arrival order.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jonathan/pipeline-monitor/internal/progress"
)

// ErrCancelled is returned by Ingest when its context is cancelled. It marks a
// normal, caller-requested stop, not a failure.
var ErrCancelled = errors.New("stream cancelled")

// readBufferSize is the initial read buffer; long lines grow it as needed.
const readBufferSize = 64 * 1024

// Handler receives each decoded event. Returning false stops ingestion.
type Handler func(ev progress.Event) bool

// Stats counts frames seen by an Ingestor.
type Stats struct {
	Frames    int `json:"frames"`
	Malformed int `json:"malformed"`
}

// TransportError wraps a failure reading the underlying stream.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream read failed: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Ingestor splits a byte stream into frames and decodes them.
type Ingestor struct {
	log   *slog.Logger
	stats Stats
}

// NewIngestor creates an ingestor. A nil logger uses slog.Default.
func NewIngestor(log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{log: log}
}

// Stats returns the frame counters.
func (in *Ingestor) Stats() Stats {
	return in.stats
}

type readResult struct {
	line string
	err  error
}

// Ingest reads r until EOF, cancellation, or until handle returns false.
// Frames may span reads. Malformed frames are counted and skipped. When ctx is
// cancelled Ingest closes r (if it is an io.Closer) so a blocked read returns,
// and reports ErrCancelled. Read failures are returned as *TransportError.
func (in *Ingestor) Ingest(ctx context.Context, r io.Reader, handle Handler) error {
	done := make(chan struct{})
	defer close(done)

	lines := make(chan readResult)
	go func() {
		br := bufio.NewReaderSize(r, readBufferSize)
		for {
			line, err := br.ReadString('\n')
			select {
			case lines <- readResult{line: line, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var fb frameBuilder
	dispatch := func(frames []Frame) bool {
		for _, f := range frames {
			if !in.handleFrame(f, handle) {
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			in.closeReader(r)
			return ErrCancelled
		case res := <-lines:
			// A line may arrive together with the cancellation; cancellation wins.
			if ctx.Err() != nil {
				in.closeReader(r)
				return ErrCancelled
			}

			if res.line != "" {
				line := strings.TrimRight(res.line, "\r\n")
				if !dispatch(fb.line(line)) {
					return nil
				}
			}

			if res.err == nil {
				continue
			}
			if errors.Is(res.err, io.EOF) {
				if !fb.empty() {
					dispatch([]Frame{fb.take()})
				}
				return nil
			}
			if ctx.Err() != nil {
				return ErrCancelled
			}
			return &TransportError{Cause: res.err}
		}
	}
}

func (in *Ingestor) handleFrame(f Frame, handle Handler) bool {
	in.stats.Frames++
	ev, err := Decode(f)
	if err != nil {
		in.stats.Malformed++
		in.log.Debug("skipping malformed frame", "event", f.Event, "error", err)
		return true
	}
	return handle(ev)
}

func (in *Ingestor) closeReader(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		if err := c.Close(); err != nil {
			in.log.Debug("closing stream after cancel", "error", err)
		}
	}
}

// Ingest is a convenience wrapper using a fresh Ingestor with the default
// logger.
func Ingest(ctx context.Context, r io.Reader, handle Handler) error {
	return NewIngestor(nil).Ingest(ctx, r, handle)
}
