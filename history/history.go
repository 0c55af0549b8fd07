package history

// This file contains shared history utilities for saving, loading and
// selecting recorded scheduler runs.

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/perfgo/hiltest/model"
	"github.com/rs/zerolog"
)

// DirName is the name of the history directory below the root.
const DirName = ".hiltest"

type Entry struct {
	History  model.History
	FullPath string
}

// Root returns the .hiltest directory of the git repository containing dir,
// or of dir itself outside a repository.
func Root(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	if output, err := cmd.Output(); err == nil {
		return filepath.Join(strings.TrimSpace(string(output)), DirName)
	}
	return filepath.Join(dir, DirName)
}

// GitInfo describes the repository containing dir, or returns nil outside
// a repository.
func GitInfo(dir string) *model.Git {
	git := func(args ...string) (string, error) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		output, err := cmd.Output()
		return strings.TrimSpace(string(output)), err
	}
	top, err := git("rev-parse", "--show-toplevel")
	if err != nil {
		return nil
	}
	info := &model.Git{Repo: filepath.Base(top)}
	info.Commit, _ = git("rev-parse", "HEAD")
	info.Branch, _ = git("rev-parse", "--abbrev-ref", "HEAD")
	return info
}

// RunDir returns the directory a run is saved in below root.
func RunDir(root string, h model.History) string {
	id := h.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return filepath.Join(root, "history", fmt.Sprintf("%s-%s", h.Timestamp.Format("20060102-150405"), id))
}

// Save writes h to its run directory below root, creating it.
func Save(root string, h model.History) (string, error) {
	runDir := RunDir(root, h)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "history.json"), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write history: %w", err)
	}
	return runDir, nil
}

// CopyArtifact copies src into runDir as name and describes the copy.
func CopyArtifact(runDir string, typ model.ArtifactType, module, src, name string) (model.Artifact, error) {
	in, err := os.Open(src)
	if err != nil {
		return model.Artifact{}, err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(runDir, name)), 0755); err != nil {
		return model.Artifact{}, err
	}
	out, err := os.Create(filepath.Join(runDir, name))
	if err != nil {
		return model.Artifact{}, err
	}
	defer out.Close()
	n, err := io.Copy(out, in)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return model.Artifact{Type: typ, Size: uint64(n), File: name, Module: module}, nil
}

// LoadEntries loads all history entries below root, newest first.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	var entries []Entry

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			historyPath := filepath.Join(path, "history.json")
			if _, err := os.Stat(historyPath); err == nil {
				history, err := parseHistoryJSON(historyPath)
				if err != nil {
					logger.Warn().Err(err).Str("path", historyPath).Msg("Failed to parse history.json")
					return nil
				}

				entries = append(entries, Entry{
					History:  history,
					FullPath: path,
				})
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk %s directory: %w", DirName, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].History.Timestamp.After(entries[j].History.Timestamp)
	})
	return entries, nil
}

// Find selects an entry from entries sorted newest first. arg is 0 for the
// newest, -n for the n-th before it, or a prefix of the run ID.
func Find(entries []Entry, arg string) (*Entry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no history entries found")
	}
	if parsed, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if parsed > 0 {
			return nil, fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", arg)
		}
		index := int(-parsed)
		if index >= len(entries) {
			return nil, fmt.Errorf("index %s out of range (only %d history entries)", arg, len(entries))
		}
		return &entries[index], nil
	}

	prefix := strings.ToLower(arg)
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].History.ID), prefix) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no history entry found matching ID: %s", arg)
}

// parseHistoryJSON parses a history.json file.
func parseHistoryJSON(historyPath string) (model.History, error) {
	data, err := os.ReadFile(historyPath)
	if err != nil {
		return model.History{}, err
	}

	var history model.History
	if err := json.Unmarshal(data, &history); err != nil {
		return model.History{}, err
	}

	return history, nil
}
