package cli

// This file contains the list command for displaying previous runs.

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/hiltest/history"
)

func (a *App) list(ctx *cli.Context) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	root := history.Root(wd)

	entries, err := history.LoadEntries(a.logger, root)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	module := ctx.String("module")
	entries = filterByModule(entries, module)
	if len(entries) == 0 {
		if module != "" {
			fmt.Fprintf(a.out, "No runs found for module: %s\n", module)
		} else {
			fmt.Fprintln(a.out, "No runs found")
			fmt.Fprintf(a.out, "Runs are saved to %s/history/<timestamp>-<id>/\n", root)
		}
		return nil
	}

	display := entries
	if limit := ctx.Int("limit"); limit > 0 && limit < len(display) {
		display = display[:limit]
	}
	renderRuns(a.out, display, len(entries))

	fmt.Fprintln(a.out, "\nView a run: hiltest view <ID>")
	return nil
}

func filterByModule(entries []history.Entry, module string) []history.Entry {
	if module == "" {
		return entries
	}
	var out []history.Entry
	for _, e := range entries {
		for _, s := range e.History.Suites {
			if s.Module == module {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func renderRuns(w io.Writer, entries []history.Entry, total int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Runs (%d total)", total))
	t.AppendHeader(table.Row{"", "ID", "TIME", "DURATION", "SUITES", "PASSED", "FAILED", "PATH"})

	for _, entry := range entries {
		h := entry.History

		status := text.FgGreen.Sprint("✓")
		if h.ExitCode != 0 {
			status = text.FgRed.Sprint("✗")
		}

		// Show short ID (first 8 chars)
		shortID := h.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		passed := fmt.Sprintf("%d/%d", h.Totals.Passed, h.Totals.Planned)
		failed := fmt.Sprint(h.Totals.Failed)
		if m := h.Totals.Missing(); m > 0 {
			failed = fmt.Sprintf("%d (+%d missing)", h.Totals.Failed, m)
		}

		t.AppendRow(table.Row{
			status,
			shortID,
			h.Timestamp.Format("2006-01-02 15:04:05"),
			h.Duration.Round(time.Millisecond),
			len(h.Suites),
			passed,
			failed,
			h.WorkDir,
		})
	}
	t.Render()
}
