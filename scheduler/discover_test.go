package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSuite creates an executable script at path.
func writeSuite(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeSuite(t, filepath.Join(root, "motor", "etc", "test", "motortest"), "exit 0")
	writeSuite(t, filepath.Join(root, "motor", "etc", "test", "axes"), "exit 0")
	// Reports and logs from an earlier run are not suites, nor is data.
	writeSuite(t, filepath.Join(root, "motor", "etc", "test", "motortest.log"), "")
	require.NoError(t, os.WriteFile(filepath.Join(root, "motor", "etc", "test", "README"), nil, 0o644))
	writeSuite(t, filepath.Join(root, "vacuum", "dls", "test", "gauges"), "exit 0")
	writeSuite(t, filepath.Join(root, "camera", "src", "main"), "exit 0")
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), nil, 0o644))

	cfg := DefaultConfig()
	cfg.SearchDir = root
	cmds, err := Discover(cfg)
	require.NoError(t, err)

	var got []string
	for _, c := range cmds {
		got = append(got, c.Module+" "+c.Suite)
	}
	want := []string{
		"motor ./etc/test/axes",
		"motor ./etc/test/motortest",
		"vacuum ./dls/test/gauges",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, filepath.Join(root, "vacuum"), cmds[2].Dir)

	cfg.Module = "vacuum"
	cmds, err = Discover(cfg)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "vacuum", cmds[0].Module)

	cfg.SearchDir = filepath.Join(root, "missing")
	_, err = Discover(cfg)
	assert.Error(t, err)
}

func TestDiscover_CommandLine(t *testing.T) {
	root := t.TempDir()
	writeSuite(t, filepath.Join(root, "motor", "etc", "test", "motortest"), "exit 0")

	cfg := Config{
		SearchDir:       root,
		Processes:       1,
		DiagnosticLevel: 3,
		Build:           true,
		IOC:             true,
		GUI:             true,
		Simulation:      true,
		Hudson:          true,
		XML:             true,
		LogOutput:       true,
		Target:          "simulation",
		Cases:           []string{"home", "move"},
		SocketPath:      "/tmp/work dir/resultServer",
		Env:             []string{"EPICS_CA_ADDR_LIST=172.23.0.255 localhost", "MODE=sim"},
	}
	cmds, err := Discover(cfg)
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	wantArgs := []string{
		"./etc/test/motortest", "-d", "3", "-b", "-i", "-g", "-e",
		"-t", "simulation", "-c", "home", "-c", "move",
		"-r", "/tmp/work dir/resultServer",
		"-x", "./etc/test/motortest.xml", "--hudson",
	}
	if diff := cmp.Diff(wantArgs, cmds[0].Args); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, filepath.Join(root, "motor", "etc", "test", "motortest.log"), cmds[0].Log)
	assert.Equal(t, filepath.Join(root, "motor", "etc", "test", "motortest.xml"), cmds[0].Report)
	assert.Equal(t,
		"EPICS_CA_ADDR_LIST='172.23.0.255 localhost' MODE=sim ./etc/test/motortest -d 3 -b -i -g -e "+
			"-t simulation -c home -c move -r '/tmp/work dir/resultServer' -x ./etc/test/motortest.xml --hudson",
		cmds[0].String())
}
