package scheduler

// This file contains the discovery of suite executables and the command
// lines they are run with.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// TestDirs are the subdirectories of a module that hold its suites, in the
// order they are looked for.
var TestDirs = []string{"etc/test", "dls/test"}

// Command is one suite to run.
type Command struct {
	Module string
	// Suite is the path of the executable relative to Dir.
	Suite string
	// Dir is the module directory the suite runs in.
	Dir  string
	Args []string
	// Log receives the output of the suite when output logging is on.
	Log string
	// Report is where the suite writes its JUnit report, if it does.
	Report string
	Env    []string
}

// String renders the command as a shell command line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Env)+1)
	for _, kv := range c.Env {
		key, value, _ := strings.Cut(kv, "=")
		parts = append(parts, key+"="+shellescape.Quote(value))
	}
	parts = append(parts, shellescape.QuoteCommand(c.Args))
	return strings.Join(parts, " ")
}

// Discover looks through the immediate subdirectories of cfg.SearchDir for
// modules with a test directory and returns a command for every executable
// in it, sorted by module and suite.
func Discover(cfg Config) ([]Command, error) {
	entries, err := os.ReadDir(cfg.SearchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read search directory: %w", err)
	}
	var cmds []Command
	for _, e := range entries {
		if !e.IsDir() || (cfg.Module != "" && cfg.Module != e.Name()) {
			continue
		}
		moduleDir := filepath.Join(cfg.SearchDir, e.Name())
		testDir, ok := findTestDir(moduleDir)
		if !ok {
			continue
		}
		suites, err := suiteFiles(filepath.Join(moduleDir, testDir))
		if err != nil {
			return nil, err
		}
		for _, name := range suites {
			cmds = append(cmds, newCommand(cfg, e.Name(), moduleDir, testDir, name))
		}
	}
	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Module != cmds[j].Module {
			return cmds[i].Module < cmds[j].Module
		}
		return cmds[i].Suite < cmds[j].Suite
	})
	return cmds, nil
}

func findTestDir(moduleDir string) (string, bool) {
	for _, d := range TestDirs {
		if fi, err := os.Stat(filepath.Join(moduleDir, d)); err == nil && fi.IsDir() {
			return d, true
		}
	}
	return "", false
}

// suiteFiles lists the executable regular files of dir, leaving out the
// logs and reports earlier runs wrote there.
func suiteFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read test directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".log", ".xml":
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

func newCommand(cfg Config, module, moduleDir, testDir, name string) Command {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	rel := "./" + filepath.ToSlash(filepath.Join(testDir, name))
	args := []string{rel, "-d", strconv.Itoa(cfg.DiagnosticLevel)}
	if cfg.Build {
		args = append(args, "-b")
	}
	if cfg.IOC {
		args = append(args, "-i")
	}
	if cfg.GUI {
		args = append(args, "-g")
	}
	if cfg.Simulation {
		args = append(args, "-e")
	}
	if cfg.Target != "" {
		args = append(args, "-t", cfg.Target)
	}
	for _, c := range cfg.Cases {
		args = append(args, "-c", c)
	}
	if cfg.SocketPath != "" {
		args = append(args, "-r", cfg.SocketPath)
	}
	if cfg.XML {
		args = append(args, "-x", "./"+filepath.ToSlash(filepath.Join(testDir, base+".xml")))
	}
	if cfg.Hudson {
		args = append(args, "--hudson")
	}

	cmd := Command{
		Module: module,
		Suite:  rel,
		Dir:    moduleDir,
		Args:   args,
		Env:    cfg.Env,
	}
	if cfg.LogOutput {
		cmd.Log = filepath.Join(moduleDir, testDir, base+".log")
	}
	if cfg.XML {
		cmd.Report = filepath.Join(moduleDir, testDir, base+".xml")
	}
	return cmd
}
