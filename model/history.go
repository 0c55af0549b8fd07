package model

import "time"

// HistoryType represents the type of history entry
type HistoryType string

const (
	HistoryTypeRun HistoryType = "run"
)

// History represents a single hiltest scheduler run.
type History struct {
	// Unique ID for this run (UUID)
	ID string `json:"id"`
	// Type of execution
	Type HistoryType `json:"type"`
	// Timestamp when the run started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Working directory where the scheduler ran (relative to the history root)
	WorkDir string `json:"workdir"`
	// Exit code of the scheduler
	ExitCode int `json:"exit_code"`
	// Duration of the run
	Duration time.Duration `json:"duration"`
	// Git information
	Git *Git `json:"git,omitempty"`
	// Selection and parallelism of the run
	Config *RunConfig `json:"config,omitempty"`
	// One entry per suite process, in discovery order
	Suites []SuiteRun `json:"suites,omitempty"`
	// TAP totals across all result streams
	Totals Totals `json:"totals"`
	// Artifacts saved with this run
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Git contains git repository information
type Git struct {
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
	// Repository name
	Repo string `json:"repo,omitempty"`
}

// RunConfig records what a run selected.
type RunConfig struct {
	SearchDir string   `json:"search_dir"`
	Module    string   `json:"module,omitempty"`
	Target    string   `json:"target,omitempty"`
	Cases     []string `json:"cases,omitempty"`
	Processes int      `json:"processes"`
}

// SuiteRun is the outcome of one suite process.
type SuiteRun struct {
	Module   string        `json:"module"`
	Suite    string        `json:"suite"`
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Error    string        `json:"error,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Totals counts test cases.
type Totals struct {
	Planned int `json:"planned"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
}

// Missing returns the number of planned cases that never reported.
func (t Totals) Missing() int {
	if m := t.Planned - t.Passed - t.Failed; m > 0 {
		return m
	}
	return 0
}

// ArtifactType identifies the type of artifact
type ArtifactType uint8

const (
	ArtifactTypeSummaryLog ArtifactType = iota
	ArtifactTypeSuiteLog
	ArtifactTypeJUnitReport
)

func (t ArtifactType) String() string {
	switch t {
	case ArtifactTypeSummaryLog:
		return "summary"
	case ArtifactTypeSuiteLog:
		return "log"
	case ArtifactTypeJUnitReport:
		return "junit"
	}
	return "unknown"
}

// Artifact represents a file saved with a run
type Artifact struct {
	Type ArtifactType `json:"type"`
	Size uint64       `json:"size"`
	File string       `json:"file"` // relative to run dir
	// Module the artifact belongs to, empty for run-wide artifacts
	Module string `json:"module,omitempty"`
}
