package x11

import (
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
)

// Depth limit for the query-tree fallback; top-level windows sit one or
// two levels under the root even with reparenting window managers.
const pidWalkMaxDepth = 4

// PidWindowMap maps the process id behind each top-level window to its
// window id, using _NET_WM_PID. The EWMH client list is authoritative
// when the window manager maintains one; otherwise the window tree is
// walked from the root.
func (c *Connection) PidWindowMap() (map[int]xproto.Window, error) {
	m := make(map[int]xproto.Window)

	clients, err := ewmh.ClientListGet(c.XUtil)
	if err == nil && len(clients) > 0 {
		for _, win := range clients {
			pid, err := ewmh.WmPidGet(c.XUtil, win)
			if err != nil || pid == 0 {
				continue
			}
			if _, seen := m[int(pid)]; !seen {
				m[int(pid)] = win
			}
		}
		return m, nil
	}

	if err := c.collectPids(c.Root, m, 0); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Connection) collectPids(win xproto.Window, m map[int]xproto.Window, depth int) error {
	if depth > pidWalkMaxDepth {
		return nil
	}
	if pid, err := ewmh.WmPidGet(c.XUtil, win); err == nil && pid > 0 {
		if _, seen := m[int(pid)]; !seen {
			m[int(pid)] = win
		}
	}
	tree, err := xproto.QueryTree(c.Conn(), win).Reply()
	if err != nil {
		// A window destroyed mid-walk is a benign race; skip it.
		return nil
	}
	for _, child := range tree.Children {
		if err := c.collectPids(child, m, depth+1); err != nil {
			return err
		}
	}
	return nil
}
