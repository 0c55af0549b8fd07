package commlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForDescendants polls until pid has at least n descendants.
func waitForDescendants(t *testing.T, pid, n int) []int {
	t.Helper()
	var tree []int
	require.Eventually(t, func() bool {
		var err error
		tree, err = Descendants(pid)
		return err == nil && len(tree) >= n
	}, 5*time.Second, 20*time.Millisecond)
	return tree
}

func TestKill_RemovesWholeTree(t *testing.T) {
	p, err := Spawn("tree", "sh -c 'sleep 300 & wait' & wait", t.TempDir(), WithStdout(&discardWriter{}))
	require.NoError(t, err)

	tree := waitForDescendants(t, p.Pid(), 2)

	require.NoError(t, p.Kill())
	assert.True(t, p.Exited())
	for _, pid := range tree {
		assert.Eventually(t, func() bool { return !Alive(pid) }, 5*time.Second, 20*time.Millisecond,
			"descendant %d still alive", pid)
	}
}

func TestKillProcessAndChildren_DirectCall(t *testing.T) {
	// parent sh -> child sh -> grandchild sleep
	p, err := Spawn("tree", "sh -c 'sleep 300 & wait' & wait", t.TempDir(), WithStdout(&discardWriter{}))
	require.NoError(t, err)

	tree := waitForDescendants(t, p.Pid(), 2)

	require.NoError(t, KillProcessAndChildren(p.Pid()))
	for _, pid := range append([]int{p.Pid()}, tree...) {
		assert.Eventually(t, func() bool { return !Alive(pid) }, 5*time.Second, 20*time.Millisecond,
			"process %d still alive", pid)
	}
	assert.Eventually(t, p.Exited, 5*time.Second, 20*time.Millisecond)
}

func TestKillTree_InvalidPid(t *testing.T) {
	assert.Error(t, KillTree(0))
	assert.Error(t, KillTree(-5))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
