// Package tmux queries the terminal multiplexer hosting this process.
package tmux

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrTmuxNotAvailable is returned when tmux is not installed.
var ErrTmuxNotAvailable = errors.New("tmux is not available in PATH")

// Available returns true if tmux is installed.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// IsInside reports whether this process runs inside a tmux session.
func IsInside() bool {
	return os.Getenv("TMUX") != ""
}

// ClientPIDs returns the pids of every tmux client attached to the
// session containing this process. Returns (nil, nil) when not running
// under tmux: absence of a multiplexer is not an error.
func ClientPIDs() ([]int, error) {
	if !IsInside() {
		return nil, nil
	}
	if !Available() {
		return nil, ErrTmuxNotAvailable
	}

	// TMUX_PANE resolves to the session that owns this pane, which also
	// covers panes reattached to a different client.
	args := []string{"list-clients", "-F", "#{client_pid}"}
	if pane := os.Getenv("TMUX_PANE"); pane != "" {
		args = append(args, "-t", pane)
	}
	out, err := exec.Command("tmux", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("tmux list-clients failed: %s: %w",
				strings.TrimSpace(string(exitErr.Stderr)), err)
		}
		return nil, fmt.Errorf("tmux list-clients failed: %w", err)
	}
	return parsePIDs(string(out)), nil
}

// parsePIDs parses one pid per line, skipping blanks and garbage.
func parsePIDs(out string) []int {
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
