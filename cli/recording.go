package cli

// This file contains run recording functionality for saving run metadata
// and the logs and reports of its suites to the history directory.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/perfgo/hiltest/history"
	"github.com/perfgo/hiltest/model"
	"github.com/perfgo/hiltest/scheduler"
)

func (a *App) recordRun(h *model.History, cfg scheduler.Config, report *scheduler.Report) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	root := history.Root(wd)

	h.WorkDir = "."
	if rel, err := filepath.Rel(filepath.Dir(root), wd); err == nil {
		h.WorkDir = rel
	}
	h.Git = history.GitInfo(wd)
	h.Config = &model.RunConfig{
		SearchDir: cfg.SearchDir,
		Module:    cfg.Module,
		Target:    cfg.Target,
		Cases:     cfg.Cases,
		Processes: cfg.Processes,
	}
	h.Totals = model.Totals{
		Planned: report.Total.Planned,
		Passed:  report.Total.Passed,
		Failed:  report.Total.Failed,
	}
	for _, c := range report.Commands {
		h.Suites = append(h.Suites, model.SuiteRun{
			Module:   c.Command.Module,
			Suite:    c.Command.Suite,
			Command:  c.Command.String(),
			ExitCode: c.ExitCode,
			Error:    c.Error,
			TimedOut: c.TimedOut,
			Duration: c.Duration,
		})
	}

	runDir := history.RunDir(root, *h)
	if err := a.saveArtifacts(runDir, h, cfg, report); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to save some artifacts")
		// Don't fail the run on artifact errors
	}

	if _, err := history.Save(root, *h); err != nil {
		return err
	}
	a.logger.Debug().Str("dir", runDir).Str("id", h.ID).Msg("Recorded run")
	return nil
}

func (a *App) saveArtifacts(runDir string, h *model.History, cfg scheduler.Config, report *scheduler.Report) error {
	var errs []error
	save := func(typ model.ArtifactType, module, src, name string) {
		if _, err := os.Stat(src); err != nil {
			return
		}
		artifact, err := history.CopyArtifact(runDir, typ, module, src, name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		h.Artifacts = append(h.Artifacts, artifact)
	}

	if cfg.SummaryLog != "" {
		save(model.ArtifactTypeSummaryLog, "", cfg.SummaryLog, "summary.log")
	}
	for _, c := range report.Commands {
		module := c.Command.Module
		if module == "" {
			continue
		}
		if c.Command.Log != "" {
			save(model.ArtifactTypeSuiteLog, module, c.Command.Log, filepath.Join(module, filepath.Base(c.Command.Log)))
		}
		if c.Command.Report != "" {
			save(model.ArtifactTypeJUnitReport, module, c.Command.Report, filepath.Join(module, filepath.Base(c.Command.Report)))
		}
	}
	return errors.Join(errs...)
}
