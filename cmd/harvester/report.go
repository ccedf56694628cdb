package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"mp_harvester/internal/domain"
	"mp_harvester/internal/service"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func printSyncReports(w io.Writer, reports []*domain.SyncReport) {
	if len(reports) == 0 {
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Source", "State", "Remaining", "Coverage", "Discovered", "Added", "Duration", "Notes"})
	for _, r := range reports {
		remaining := "-"
		if r.Remaining != nil {
			remaining = r.Remaining.String()
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		} else if r.Stop == domain.WalkCapped {
			errText = "capped by max_items, coverage kept"
		}
		t.AppendRow(table.Row{
			r.Source,
			r.Phase,
			remaining,
			coverageText(r.CoverageAfter),
			r.Discovered,
			r.Added,
			r.Duration.Round(time.Millisecond),
			errText,
		})
	}
	t.Render()
}

func printRetrievalSummary(w io.Writer, s domain.RetrievalSummary) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Total", "Succeeded", "Fetched", "Failed", "Skipped", "Published", "Duration"})
	t.AppendRow(table.Row{s.Total, s.Succeeded, s.Fetched, s.Failed, s.Skipped, s.Published, s.Duration.Round(time.Millisecond)})
	t.Render()

	if len(s.Failures) == 0 {
		return
	}

	f := newTable(w)
	f.SetTitle("Failed items")
	f.AppendHeader(table.Row{"Source", "Title", "Attempts", "Error"})
	for _, r := range s.Failures {
		f.AppendRow(table.Row{r.Task.Source, r.Task.Title, r.Attempts, fmt.Sprint(r.Err)})
	}
	f.Render()
}

func printStatus(w io.Writer, statuses []service.SourceStatus, loc *time.Location) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Source", "Coverage", "Items", "Newest", "Oldest"})
	for _, s := range statuses {
		t.AppendRow(table.Row{s.Source, coverageText(s.Covered), s.Items, dateText(s.Newest, loc), dateText(s.Oldest, loc)})
	}
	t.Render()
}

func coverageText(iv domain.Interval) string {
	if iv.IsZero() {
		return "none"
	}
	return iv.String()
}

func dateText(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04")
}
