// Package observability provides logging setup and formatted terminal output
// for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/jonathan/pipeline-monitor/internal/graph"
	"github.com/jonathan/pipeline-monitor/internal/monitor"
	"github.com/jonathan/pipeline-monitor/internal/progress"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
)

var (
	accent = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")

	pendingStyle   = lipgloss.NewStyle().Foreground(dim)
	runningStyle   = lipgloss.NewStyle().Foreground(yellow).Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle     = lipgloss.NewStyle().Foreground(red).Bold(true)
	headerStyle    = lipgloss.NewStyle().Foreground(accent).Bold(true).Padding(0, 1)
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
)

// StatusGlyph returns the marker shown next to a step status.
func StatusGlyph(s progress.Status) string {
	switch s {
	case progress.StatusRunning:
		return "●"
	case progress.StatusCompleted:
		return "✓"
	case progress.StatusError:
		return "✗"
	default:
		return "○"
	}
}

// RenderStatus renders a status with its glyph and color.
func RenderStatus(s progress.Status) string {
	text := StatusGlyph(s) + " " + string(s)
	switch s {
	case progress.StatusRunning:
		return runningStyle.Render(text)
	case progress.StatusCompleted:
		return completedStyle.Render(text)
	case progress.StatusError:
		return errorStyle.Render(text)
	default:
		return pendingStyle.Render(text)
	}
}

// FormatDuration renders a millisecond duration, or "-" when unknown.
func FormatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	d := time.Duration(*ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintTopology outputs the nodes and edges of a pipeline topology.
func (p *Printer) PrintTopology(topo steps.Topology) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Mode:  %s\n", topo.Mode))
	sb.WriteString("\n")
	sb.WriteString("Steps:\n")
	for _, id := range topo.Nodes {
		sb.WriteString(fmt.Sprintf("  • %-18s %s\n", id, steps.Label(id)))
	}
	sb.WriteString("\n")
	sb.WriteString("Edges:\n")
	for _, e := range topo.Edges {
		sb.WriteString(fmt.Sprintf("  %s → %s\n", e.From, e.To))
	}

	p.printBox("PIPELINE TOPOLOGY", strings.TrimRight(sb.String(), "\n"))
}

// StepTable renders the graph nodes as a table of step, status and duration.
func StepTable(g graph.Graph) string {
	rows := make([][]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		rows = append(rows, []string{n.Label, RenderStatus(n.Status), FormatDuration(n.DurationMs)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("STEP", "STATUS", "DURATION").
		Rows(rows...)

	return t.String()
}

// Summary returns a one-line progress summary of a snapshot.
func Summary(snap monitor.Snapshot) string {
	done := 0
	for _, r := range snap.Records {
		if r.Status.Terminal() {
			done++
		}
	}
	line := fmt.Sprintf("%d/%d steps finished · %d events applied · %d dropped",
		done, len(snap.Records), snap.Events.Applied, snap.Events.Dropped)
	if snap.Frames.Malformed > 0 {
		line += fmt.Sprintf(" · %d malformed", snap.Frames.Malformed)
	}
	return lipgloss.NewStyle().Foreground(dim).Render(line)
}

// PrintSnapshot outputs the step table and summary for a snapshot.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintSnapshot(snap monitor.Snapshot) {
	fmt.Fprintln(p.out, StepTable(snap.Graph))
	fmt.Fprintln(p.out, Summary(snap))
}

// PrintStepChange outputs a single line for a step whose status changed.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintStepChange(n graph.Node) {
	fmt.Fprintf(p.out, "%s  %s\n", RenderStatus(n.Status), n.Label)
}

// PrintOutcome outputs how the run ended.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintOutcome(out monitor.Outcome) {
	switch out.Kind {
	case monitor.OutcomeCompleted:
		fmt.Fprintln(p.out, completedStyle.Render("✓")+" run completed")
	case monitor.OutcomeCancelled:
		fmt.Fprintln(p.out, pendingStyle.Render("!")+" run cancelled")
	default:
		msg := out.Message
		if msg == "" {
			msg = "unknown error"
		}
		fmt.Fprintln(p.out, errorStyle.Render("✗")+" run failed: "+msg)
	}
}

// PrintDetail outputs the detail payload of a record, if any.
func (p *Printer) PrintDetail(rec progress.Record) {
	if len(rec.Detail) == 0 || string(rec.Detail) == "null" {
		return
	}
	p.printBox(strings.ToUpper(steps.Label(rec.ID)), string(rec.Detail))
}
