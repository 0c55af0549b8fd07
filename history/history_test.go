package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/hiltest/model"
)

func saveRuns(t *testing.T, root string) {
	t.Helper()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"aaaa1111-0000", "bbbb2222-0000", "cccc3333-0000"} {
		_, err := Save(root, model.History{
			ID:        id,
			Type:      model.HistoryTypeRun,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Totals:    model.Totals{Planned: 3, Passed: i},
		})
		require.NoError(t, err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	saveRuns(t, root)

	// Broken records are skipped.
	broken := filepath.Join(root, "history", "broken")
	require.NoError(t, os.MkdirAll(broken, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "history.json"), []byte("{"), 0644))

	entries, err := LoadEntries(zerolog.Nop(), root)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "cccc3333-0000", entries[0].History.ID)
	assert.Equal(t, 2, entries[0].History.Totals.Passed)
	assert.Equal(t, filepath.Join(root, "history", "20240501-120200-cccc3333"), entries[0].FullPath)

	entries, err = LoadEntries(zerolog.Nop(), filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFind(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	saveRuns(t, root)
	entries, err := LoadEntries(zerolog.Nop(), root)
	require.NoError(t, err)

	tests := []struct {
		arg     string
		wantID  string
		wantErr bool
	}{
		{arg: "0", wantID: "cccc3333-0000"},
		{arg: "-1", wantID: "bbbb2222-0000"},
		{arg: "-2", wantID: "aaaa1111-0000"},
		{arg: "-3", wantErr: true},
		{arg: "1", wantErr: true},
		{arg: "AAAA", wantID: "aaaa1111-0000"},
		{arg: "dddd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			e, err := Find(entries, tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, e.History.ID)
		})
	}

	_, err = Find(nil, "0")
	assert.Error(t, err)
}

func TestCopyArtifact(t *testing.T) {
	src := filepath.Join(t.TempDir(), "motortest.log")
	require.NoError(t, os.WriteFile(src, []byte("1..1\nok 1 - c : d\n"), 0644))
	runDir := t.TempDir()

	a, err := CopyArtifact(runDir, model.ArtifactTypeSuiteLog, "motor", src, "motor/motortest.log")
	require.NoError(t, err)
	assert.Equal(t, model.Artifact{Type: model.ArtifactTypeSuiteLog, Size: 18, File: "motor/motortest.log", Module: "motor"}, a)
	data, err := os.ReadFile(filepath.Join(runDir, "motor", "motortest.log"))
	require.NoError(t, err)
	assert.Equal(t, "1..1\nok 1 - c : d\n", string(data))

	_, err = CopyArtifact(runDir, model.ArtifactTypeSuiteLog, "", filepath.Join(runDir, "missing"), "x")
	assert.Error(t, err)
}

func TestRoot_OutsideRepository(t *testing.T) {
	dir := t.TempDir()
	if GitInfo(dir) != nil {
		t.Skip("temp dir is inside a git repository")
	}
	assert.Equal(t, filepath.Join(dir, DirName), Root(dir))
}
