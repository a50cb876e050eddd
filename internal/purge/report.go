package purge

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// Status is what happened to a candidate.
type Status string

const (
	StatusRemoved Status = "removed"
	StatusPending Status = "would remove"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Entry is one row of a purge report.
type Entry struct {
	Candidate
	Status Status
	Err    error
}

// Report lists what a purge did, or would do in dry-run mode.
type Report struct {
	DryRun  bool
	Entries []Entry
}

// Count returns the number of entries with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, e := range r.Entries {
		if e.Status == s {
			n++
		}
	}
	return n
}

// Render writes the report as a table to w.
func (r *Report) Render(w io.Writer) error {
	if len(r.Entries) == 0 {
		_, err := fmt.Fprintln(w, "Nothing to purge.")
		return err
	}
	table := newTable([]string{"Kind", "Name", "Status", "Details"}, w)
	for _, e := range r.Entries {
		if err := table.Append([]string{string(e.Kind), e.Name, string(e.Status), details(e)}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	if r.DryRun {
		_, err := fmt.Fprintf(w, "\nDry run: %d artifact(s) would be removed, nothing was changed.\n", r.Count(StatusPending))
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d removed, %d skipped, %d failed.\n",
		r.Count(StatusRemoved), r.Count(StatusSkipped), r.Count(StatusFailed))
	return err
}

func details(e Entry) string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.InUse:
		return e.Reason
	default:
		return e.Path
	}
}

func newTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleLight),
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}
