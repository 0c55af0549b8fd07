package cli

// This file contains the view command for displaying the results of a
// recorded run.

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/hiltest/history"
	"github.com/perfgo/hiltest/model"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

// parseViewArgs splits the arguments of view into the run to show and the
// modules to show logs of. A leading argument that is neither an index
// nor "--" is taken as a run ID prefix.
func parseViewArgs(in []string) (idArg string, modules []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are modules
	if in[0] == "--" {
		return "0", in[1:]
	}

	// An argument starting with "-" that is not a negative index is not a
	// run selector
	if len(in[0]) > 1 && in[0][0] == '-' {
		if _, err := strconv.ParseInt(in[0], 10, 64); err != nil {
			return "0", removeFirstDashDash(in)
		}
	}

	return in[0], removeFirstDashDash(in[1:])
}

func (a *App) view(ctx *cli.Context) error {
	arg, modules := parseViewArgs(ctx.Args().Slice())

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	entries, err := history.LoadEntries(a.logger, history.Root(wd))
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	entry, err := history.Find(entries, arg)
	if err != nil {
		return err
	}
	return displayHistoryEntry(a.out, entry, modules)
}

func displayHistoryEntry(w io.Writer, entry *history.Entry, modules []string) error {
	h := entry.History

	// Print header
	shortID := h.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	fmt.Fprintf(w, "=== Run: %s ===\n", shortID)
	fmt.Fprintf(w, "Time: %s\n", h.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", h.Duration)
	fmt.Fprintf(w, "Exit Code: %d\n", h.ExitCode)
	if h.WorkDir != "" {
		fmt.Fprintf(w, "Working Dir: %s\n", h.WorkDir)
	}
	if h.Git != nil && h.Git.Commit != "" {
		commit := h.Git.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		fmt.Fprintf(w, "Git Commit: %s", commit)
		if h.Git.Branch != "" {
			fmt.Fprintf(w, " (%s)", h.Git.Branch)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Cases: %d passed, %d failed, %d missing of %d\n",
		h.Totals.Passed, h.Totals.Failed, h.Totals.Missing(), h.Totals.Planned)
	fmt.Fprintln(w)

	renderSuites(w, h.Suites, modules)

	// The summary log holds every result stream; suite logs are the
	// fallback when it was not collected or logs of a module are wanted.
	var summary *model.Artifact
	var logs []model.Artifact
	for _, artifact := range h.Artifacts {
		switch artifact.Type {
		case model.ArtifactTypeSummaryLog:
			a := artifact
			summary = &a
		case model.ArtifactTypeSuiteLog:
			if len(modules) == 0 || slices.Contains(modules, artifact.Module) {
				logs = append(logs, artifact)
			}
		}
	}

	if summary != nil && len(modules) == 0 {
		return printArtifact(w, entry.FullPath, *summary)
	}
	if len(logs) > 0 {
		for _, l := range logs {
			if err := printArtifact(w, entry.FullPath, l); err != nil {
				return err
			}
		}
		return nil
	}

	fmt.Fprintln(w, "No logs were saved with this run")
	fmt.Fprintf(w, "History directory: %s\n", entry.FullPath)
	return nil
}

func renderSuites(w io.Writer, suites []model.SuiteRun, modules []string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"MODULE", "SUITE", "EXIT", "DURATION", "ERROR"})
	for _, s := range suites {
		if len(modules) > 0 && !slices.Contains(modules, s.Module) {
			continue
		}
		t.AppendRow(table.Row{s.Module, s.Suite, s.ExitCode, s.Duration, s.Error})
	}
	t.Render()
	fmt.Fprintln(w)
}

func printArtifact(w io.Writer, runDir string, artifact model.Artifact) error {
	path := filepath.Join(runDir, artifact.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", artifact.Type, err)
	}
	fmt.Fprintf(w, "=== %s: %s (%.1f KB) ===\n", artifact.Type, artifact.File, float64(artifact.Size)/1024)
	_, err = w.Write(data)
	return err
}
