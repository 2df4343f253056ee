// Package procfs reads process relationships from the proc filesystem.
package procfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS reads process information rooted at a proc mount point.
// The zero value is not usable; use New.
type FS struct {
	root string
}

// New returns an FS rooted at the given proc mount point.
// Pass "/proc" outside of tests.
func New(root string) *FS {
	return &FS{root: root}
}

// ParentPID returns the parent pid of the given process.
func (fs *FS) ParentPID(pid int) (int, error) {
	statPath := filepath.Join(fs.root, fmt.Sprintf("%d", pid), "stat")
	data, err := os.ReadFile(statPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", statPath, err)
	}
	ppid := parseStatPPID(string(data))
	if ppid <= 0 {
		return 0, fmt.Errorf("no parent recorded for pid %d", pid)
	}
	return ppid, nil
}

// Ancestors returns the ancestor pid chain of pid, starting with pid
// itself and walking up to (and excluding) pid 0. A process that
// disappears mid-walk truncates the chain rather than failing; the
// caller only needs the ancestors that still exist.
func (fs *FS) Ancestors(pid int) ([]int, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	// Bounded to guard against /proc cycles from pid reuse.
	const maxDepth = 64
	chain := make([]int, 0, 8)
	for depth := 0; pid > 0 && depth < maxDepth; depth++ {
		chain = append(chain, pid)
		ppid, err := fs.ParentPID(pid)
		if err != nil {
			break
		}
		pid = ppid
	}
	return chain, nil
}

// parseStatPPID extracts the ppid (field 4) from /proc/<pid>/stat.
// Format: pid (comm) state ppid ...
func parseStatPPID(stat string) int {
	// Find closing paren of comm field (handles spaces/parens in name).
	idx := strings.LastIndex(stat, ") ")
	if idx < 0 {
		return 0
	}
	fields := strings.Fields(stat[idx+2:])
	if len(fields) < 2 {
		return 0
	}
	// fields[0] = state, fields[1] = ppid
	var ppid int
	fmt.Sscanf(fields[1], "%d", &ppid)
	return ppid
}
