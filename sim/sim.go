// Package sim talks to device simulators through their back doors: a line
// oriented diagnostic socket or a JSON-RPC simulation object.
package sim

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoResponse is returned when the simulator did not answer a query.
var ErrNoResponse = errors.New("no response from simulation")

// Backend is the coverage and diagnostics surface shared by both back doors.
type Backend interface {
	Branches() ([]string, error)
	Coverage() ([]string, error)
	ClearCoverage() error
	SetDiagLevel(level int) error
	Close() error
}

// CoverageReport compares the branches a simulation declares with the ones
// it has covered. An empty string means neither list was available.
func CoverageReport(name string, b Backend) string {
	branches, berr := b.Branches()
	coverage, cerr := b.Coverage()
	if berr != nil && cerr != nil {
		return ""
	}

	covered := make(map[string]bool, len(coverage))
	for _, c := range coverage {
		covered[c] = true
	}

	var sb strings.Builder
	sb.WriteString("==============================\n")
	fmt.Fprintf(&sb, "Sim device %s coverage report:\n", name)
	for _, item := range branches {
		if covered[item] {
			fmt.Fprintf(&sb, "    %s: ok\n", item)
			delete(covered, item)
		} else {
			fmt.Fprintf(&sb, "    %s: not covered\n", item)
		}
	}
	extra := make([]string, 0, len(covered))
	for item := range covered {
		extra = append(extra, item)
	}
	sort.Strings(extra)
	for _, item := range extra {
		fmt.Fprintf(&sb, "    %s: ok but not declared\n", item)
	}
	return sb.String()
}
