package commlink

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// maxKillPasses bounds how often the process table is re-read while a tree
// refuses to die.
const maxKillPasses = 3

// setProcessGroup makes cmd the leader of its own process group so that the
// whole tree it spawns can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillTree sends SIGKILL to the process group led by pid and then walks the
// process table for descendants that left the group (e.g. via setsid).
func KillTree(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	// The group may still contain children whose leader has already exited,
	// so collect the stragglers first.
	stragglers, _ := Descendants(pid)
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to kill process group %d: %w", pid, err)
	}
	for _, child := range stragglers {
		if Alive(child) {
			if err := KillProcessAndChildren(child); err != nil {
				return err
			}
		}
	}
	return KillProcessAndChildren(pid)
}

// KillProcessAndChildren kills pid and all of its descendants found by
// walking the process table, children before parents. The walk is repeated
// while pid or one of its direct children survive.
func KillProcessAndChildren(pid int) error {
	for pass := 0; pass < maxKillPasses; pass++ {
		tree, err := Descendants(pid)
		if err != nil {
			return err
		}
		for _, p := range tree {
			signal(p)
		}
		if Alive(pid) {
			signal(pid)
		}

		survivors := false
		for _, p := range append(children(tree, pid), pid) {
			if Alive(p) {
				survivors = true
			}
		}
		if !survivors {
			return nil
		}
	}
	if Alive(pid) {
		return fmt.Errorf("process %d survived %d kill passes", pid, maxKillPasses)
	}
	return nil
}

// Descendants lists every process below pid, deepest first.
func Descendants(pid int) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	byParent := make(map[int][]int)
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		byParent[int(ppid)] = append(byParent[int(ppid)], int(p.Pid))
	}

	var out []int
	var walk func(int)
	walk = func(parent int) {
		for _, child := range byParent[parent] {
			walk(child)
			out = append(out, child)
		}
	}
	walk(pid)
	return out, nil
}

// children returns the members of tree whose parent is pid.
func children(tree []int, pid int) []int {
	var out []int
	for _, p := range tree {
		proc, err := process.NewProcess(int32(p))
		if err != nil {
			continue
		}
		if ppid, err := proc.Ppid(); err == nil && int(ppid) == pid {
			out = append(out, p)
		}
	}
	return out
}

// Alive reports whether pid exists and is not a zombie.
func Alive(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := proc.Status()
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

func signal(pid int) {
	unix.Kill(pid, unix.SIGKILL)
}
