package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/chararch/trajingest"
	"github.com/chararch/trajingest/checkpoint"
	"github.com/chararch/trajingest/file"
)

// maxListedFailures bounds the failed unit rows printed under a report.
const maxListedFailures = 50

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	return tbl
}

// renderReport prints the summary, the per lane breakdown and the failed units.
func renderReport(w io.Writer, r *trajingest.Report) {
	summary := newTable(w)
	summary.SetTitle(fmt.Sprintf("%s  %s", r.Name, r.Status))
	summary.AppendRows([]table.Row{
		{"run", r.Run},
		{"units", fmt.Sprintf("%s total, %s resumed, %s attempted", humanize.Comma(r.Total), humanize.Comma(r.Resumed), humanize.Comma(r.Attempted))},
		{"succeeded", humanize.Comma(r.Succeeded)},
		{"failed", humanize.Comma(r.Failed)},
		{"incomplete", humanize.Comma(r.Incomplete)},
		{"rows", humanize.Comma(r.TotalRows)},
		{"skipped rows", humanize.Comma(r.SkippedRows)},
		{"batches", fmt.Sprintf("%s committed, %s rolled back", humanize.Comma(r.Commits), humanize.Comma(r.Rollbacks))},
		{"duration", r.Duration.Round(time.Millisecond).String()},
		{"throughput", fmt.Sprintf("%s rows/s (peak %s, trough %s)", humanize.CommafWithDigits(r.Throughput, 1), humanize.CommafWithDigits(r.PeakThroughput, 1), humanize.CommafWithDigits(r.TroughThroughput, 1))},
		{"final batch size", r.FinalBatchSize},
		{"checkpoint", fmt.Sprintf("index %s, %s above", humanize.Comma(r.Checkpoint.Index), humanize.Comma(r.Checkpoint.Count()-r.Checkpoint.Index))},
	})
	if r.Err != nil {
		summary.AppendRow(table.Row{"error", r.Err.Error()})
	}
	summary.Render()

	if len(r.Lanes) > 0 {
		lanes := newTable(w)
		lanes.AppendHeader(table.Row{"lane", "status", "units", "succeeded", "failed", "incomplete", "rows", "commits", "rollbacks", "reconnects", "duration"})
		for _, l := range r.Lanes {
			lanes.AppendRow(table.Row{
				l.Name, l.LaneStatus, l.Units, l.SucceededUnits, l.FailedUnits, l.IncompleteUnits,
				humanize.Comma(l.WriteCount), l.CommitCount, l.RollbackCount, l.Reconnects,
				l.Duration().Round(time.Millisecond).String(),
			})
		}
		lanes.Render()
	}

	if len(r.FailedUnits) > 0 {
		failed := newTable(w)
		failed.AppendHeader(table.Row{"index", "unit", "reason"})
		for i, u := range r.FailedUnits {
			if i == maxListedFailures {
				break
			}
			failed.AppendRow(table.Row{u.Index, u.Name, u.Reason})
		}
		failed.AppendFooter(table.Row{"", fmt.Sprintf("Total: %d failed", len(r.FailedUnits)), ""})
		failed.Render()
	}
}

// renderStatus prints a stored checkpoint and its failed log.
func renderStatus(w io.Writer, cp checkpoint.Checkpoint, items []checkpoint.FailedItem) {
	summary := newTable(w)
	summary.SetTitle("checkpoint")
	updated := "never"
	if !cp.Updated.IsZero() {
		updated = fmt.Sprintf("%s (%s)", cp.Updated.Format(time.RFC3339), humanize.Time(cp.Updated))
	}
	progress := "unknown"
	if cp.Total > 0 {
		progress = fmt.Sprintf("%s / %s (%.1f%%)", humanize.Comma(cp.Count()), humanize.Comma(cp.Total), float64(cp.Count())*100/float64(cp.Total))
	}
	summary.AppendRows([]table.Row{
		{"index", humanize.Comma(cp.Index)},
		{"settled above index", humanize.Comma(cp.Count() - cp.Index)},
		{"progress", progress},
		{"updated", updated},
		{"failed log entries", len(items)},
	})
	summary.Render()

	if len(items) == 0 {
		return
	}
	failed := newTable(w)
	failed.AppendHeader(table.Row{"time", "index", "unit", "reason"})
	for _, item := range items {
		failed.AppendRow(table.Row{item.Time.Format(time.RFC3339), item.Index, item.Name, item.Reason})
	}
	failed.Render()
}

// progressPrinter prints a progress line for every progress event of a run.
type progressPrinter struct {
	w     io.Writer
	start time.Time
}

func (p *progressPrinter) OnProgress(done, total int64, last file.SourceUnit) {
	pct := 0.0
	if total > 0 {
		pct = float64(done) * 100 / float64(total)
	}
	fmt.Fprintf(p.w, "progress: %s/%s (%.1f%%), last:%s, elapsed:%s\n",
		humanize.Comma(done), humanize.Comma(total), pct, last.Name, time.Since(p.start).Round(time.Second))
}
