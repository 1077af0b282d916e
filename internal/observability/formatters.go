// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/places-scraper/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
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

// PrintJobSpec outputs a human-readable summary of the submitted job.
func (p *Printer) PrintJobSpec(jobID string, spec types.JobSpec) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Job:      %s\n", jobID))
	sb.WriteString(fmt.Sprintf("Search:   %s\n", spec.BusinessType))
	sb.WriteString(fmt.Sprintf("Target:   %d per area (%d total)\n", spec.ResultsPerArea, spec.TotalTarget()))
	sb.WriteString(fmt.Sprintf("Output:   %s", spec.OutputFile))
	if spec.Append {
		sb.WriteString(" (append)")
	}
	sb.WriteString("\n\n")

	sb.WriteString("Areas:\n")
	count := min(len(spec.Areas), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", spec.Areas[i]))
	}
	if len(spec.Areas) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(spec.Areas)-maxItemsToShow))
	}

	p.printBox("SCRAPING JOB", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintProgress outputs one progress event as a compact line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(ev types.ProgressEvent) {
	if ev.Area == "" {
		fmt.Fprintf(p.out, "[%s] job %s: %d accepted, %d duplicates\n",
			ev.JobStatus, ev.JobID, ev.Accepted, ev.Duplicates)
		return
	}
	line := fmt.Sprintf("[%s] %s: %d accepted, %d duplicates",
		ev.AreaStatus, ev.Area, ev.Accepted, ev.Duplicates)
	if ev.Error != "" {
		line += " (" + ev.Error + ")"
	}
	fmt.Fprintln(p.out, line)
}

// PrintRecord outputs one accepted listing in verbose mode.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintRecord(area string, rec *types.Record) {
	if rec == nil {
		return
	}
	fmt.Fprintf(p.out, "  + %s", rec.Name)
	if rec.Address != "" {
		addr := rec.Address
		if len(addr) > 40 {
			addr = addr[:37] + "..."
		}
		fmt.Fprintf(p.out, " | %s", addr)
	}
	fmt.Fprintf(p.out, " [%s]\n", area)
}

// PrintAggregate outputs the final result of a finished job.
func (p *Printer) PrintAggregate(agg types.Aggregate) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Status:      %s\n", agg.Status))
	sb.WriteString(fmt.Sprintf("Accepted:    %d / %d target\n", agg.Accepted, agg.TotalTarget))
	sb.WriteString(fmt.Sprintf("Duplicates:  %d\n", agg.Duplicates))
	sb.WriteString(fmt.Sprintf("Elapsed:     %s\n", formatElapsed(agg.ElapsedSeconds)))
	if agg.Error != "" {
		detail := agg.Error
		if len(detail) > 45 {
			detail = detail[:42] + "..."
		}
		sb.WriteString(fmt.Sprintf("Error:       %s\n", detail))
	}
	sb.WriteString("\n")

	sb.WriteString("Areas:\n")
	count := min(len(agg.Areas), maxItemsToShow)
	for i := 0; i < count; i++ {
		area := agg.Areas[i]
		marker := "✓"
		if area.Status == types.AreaFailed {
			marker = "✗"
		}
		sb.WriteString(fmt.Sprintf("  %s %s: %d accepted, %d duplicates\n",
			marker, area.Area, area.Accepted, area.Duplicates))
	}
	if len(agg.Areas) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(agg.Areas)-maxItemsToShow))
	}

	title := "JOB COMPLETED"
	if agg.Status == types.JobFailed {
		title = "JOB FAILED"
	}
	p.printBox(title, strings.TrimSuffix(sb.String(), "\n"))
}

func formatElapsed(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	return d.Round(time.Second).String()
}
