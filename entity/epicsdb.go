package entity

import (
	"context"
	"fmt"
	"time"
)

// DatabaseCoverage tracks which record transitions of an EPICS database the
// tests caused.
type DatabaseCoverage interface {
	CreateMonitors(ctx context.Context) error
	ClearCoverage()
	// CoverageReport returns the report body, or "" when there is nothing
	// to report.
	CoverageReport() string
}

// EpicsDB monitors an EPICS database for coverage reporting.
type EpicsDB struct {
	Base
	db   DatabaseCoverage
	opts options
}

// NewEpicsDB returns an entity that starts monitoring db in the early phase.
func NewEpicsDB(name string, db DatabaseCoverage, opts ...Option) *EpicsDB {
	o := buildOptions(options{settle: 3 * time.Second}, opts)
	return &EpicsDB{Base: NewBase(name), db: db, opts: o}
}

func (e *EpicsDB) Run(ctx context.Context, phase Phase, _ Flags, env Env) error {
	if phase != Early {
		return nil
	}
	logger := env.Logger()
	logger.Info().Str("entity", e.Name()).Msg("Creating database monitors")
	if err := e.db.CreateMonitors(ctx); err != nil {
		return fmt.Errorf("failed to monitor database %s: %w", e.Name(), err)
	}
	// Monitors fire once on connection; let that settle before counting.
	if err := pause(ctx, e.opts.settle); err != nil {
		return err
	}
	e.db.ClearCoverage()
	return nil
}

func (e *EpicsDB) CoverageReport(context.Context) string {
	report := e.db.CoverageReport()
	if report == "" {
		return ""
	}
	return "==============================\n" +
		fmt.Sprintf("EPICS database %s coverage report:\n", e.Name()) +
		report
}
