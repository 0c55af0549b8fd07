// Package scheduler discovers the test suites of a tree of modules, runs them
// as separate processes on a bounded pool of workers and aggregates the TAP
// streams they send back over a Unix socket.
package scheduler

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// SocketName is the name of the aggregation socket in the working
// directory of the scheduler.
const SocketName = "resultServer"

// Config selects which suites run and how.
type Config struct {
	SearchDir       string
	Module          string
	Target          string
	Cases           []string
	Processes       int
	DiagnosticLevel int
	Build           bool
	IOC             bool
	GUI             bool
	Simulation      bool
	Hudson          bool
	// XML makes every suite write a JUnit report next to itself.
	XML bool
	// LogOutput sends the output of every suite to a log file next to it.
	LogOutput bool
	// SummaryLog collects the TAP streams of all suites, one after another.
	SummaryLog string
	// Echo prints every received TAP line to the console tagged with its
	// client number.
	Echo bool
	// SuiteTimeout kills a suite that runs for longer. Zero means no limit.
	SuiteTimeout time.Duration
	// SocketPath overrides the aggregation socket, which is otherwise
	// SocketName in the working directory.
	SocketPath string
	// Env is added to the environment of every suite as KEY=VALUE pairs.
	Env []string
}

// DefaultConfig returns the configuration of a run without flags.
func DefaultConfig() Config {
	return Config{
		SearchDir: ".",
		Processes: 1,
	}
}

// FileConfig is the content of a scheduler configuration file.
type FileConfig struct {
	// Exports are KEY=VALUE pairs.
	Exports   []string
	SearchDir string
	Processes int
}

// ReadConfigFile parses the configuration file at path.
func ReadConfigFile(path string) (FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	fc, err := ParseConfig(f)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return fc, nil
}

// ParseConfig reads lines of the form "export KEY VALUE", "export
// KEY=VALUE", "search DIR" and "processes N". Blank lines, comments and
// unknown keywords are skipped.
func ParseConfig(r io.Reader) (FileConfig, error) {
	var fc FileConfig
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keyword, rest := cutSpace(line)
		switch keyword {
		case "export":
			kv, err := parseExport(rest)
			if err != nil {
				return FileConfig{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			fc.Exports = append(fc.Exports, kv)
		case "search":
			if rest == "" {
				return FileConfig{}, fmt.Errorf("line %d: search needs a directory", lineNo)
			}
			fc.SearchDir = rest
		case "processes":
			n, err := strconv.Atoi(rest)
			if err != nil || n < 1 {
				return FileConfig{}, fmt.Errorf("line %d: invalid process count %q", lineNo, rest)
			}
			fc.Processes = n
		}
	}
	if err := scanner.Err(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

func parseExport(rest string) (string, error) {
	if key, value, ok := strings.Cut(rest, "="); ok && !strings.ContainsAny(key, " \t") {
		return key + "=" + value, nil
	}
	key, value := cutSpace(rest)
	if key == "" {
		return "", fmt.Errorf("export needs a variable")
	}
	return key + "=" + value, nil
}

// cutSpace splits s around its first run of white space.
func cutSpace(s string) (before, after string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// Apply fills the settings of c that were not set on the command line from
// the file. isSet reports whether a flag was given.
func (fc FileConfig) Apply(c *Config, isSet func(flag string) bool) {
	c.Env = slices.Concat(fc.Exports, c.Env)
	if fc.SearchDir != "" && !isSet("search") {
		c.SearchDir = fc.SearchDir
	}
	if fc.Processes > 0 && !isSet("processes") {
		c.Processes = fc.Processes
	}
}
