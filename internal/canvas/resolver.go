package canvas

import (
	"log/slog"

	"github.com/BurntSushi/xgb/xproto"

	"github.com/termpix/termpix/internal/procfs"
	"github.com/termpix/termpix/internal/tmux"
	"github.com/termpix/termpix/internal/x11"
)

// PaneResolver discovers every native window that may be displaying
// the current terminal content. A tmux pane can be shown by a client
// attached from a different terminal emulator window, so targets are
// found through OS process ancestry: each tmux client pid is walked up
// its parent chain and matched against the pid behind each top-level
// window.
type PaneResolver struct {
	ClientPIDs func() ([]int, error)
	Ancestors  func(pid int) ([]int, error)
	PidWindows func() (map[int]xproto.Window, error)
	Logger     *slog.Logger
}

// NewPaneResolver wires a resolver to tmux, /proc and the X server.
func NewPaneResolver(conn *x11.Connection, logger *slog.Logger) *PaneResolver {
	fs := procfs.New("/proc")
	return &PaneResolver{
		ClientPIDs: tmux.ClientPIDs,
		Ancestors:  fs.Ancestors,
		PidWindows: conn.PidWindowMap,
		Logger:     logger,
	}
}

// Resolve returns the target window set for terminalWindow. The
// terminal's own window is always included. Multiplexer discovery is
// best-effort: on failure the overlay still draws into the terminal
// window itself.
func (r *PaneResolver) Resolve(terminalWindow xproto.Window) (map[xproto.Window]struct{}, error) {
	targets := map[xproto.Window]struct{}{terminalWindow: {}}

	pids, err := r.ClientPIDs()
	if err != nil {
		r.Logger.Warn("multiplexer client discovery failed", "error", err)
		return targets, nil
	}
	if len(pids) == 0 {
		return targets, nil
	}

	pidWindows, err := r.PidWindows()
	if err != nil {
		r.Logger.Warn("pid to window mapping failed", "error", err)
		return targets, nil
	}

	for _, pid := range pids {
		ancestors, err := r.Ancestors(pid)
		if err != nil {
			r.Logger.Debug("no ancestry for client", "pid", pid, "error", err)
			continue
		}
		for _, ancestor := range ancestors {
			if win, ok := pidWindows[ancestor]; ok {
				targets[win] = struct{}{}
			}
		}
	}
	return targets, nil
}
