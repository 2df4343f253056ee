// Package x11 owns the connection to the X server and the native
// windows used to overlay images on a terminal.
package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
)

// Depth required for the overlay windows. 32-bit true color gives the
// alpha channel needed to composite over the terminal.
const visualDepth = 32

// Connection manages the X11 connection and the resources shared by
// every overlay window: screen, root and the 32-bit true-color visual.
type Connection struct {
	XUtil  *xgbutil.XUtil
	Root   xproto.Window
	Screen *xproto.ScreenInfo
	Visual xproto.Visualid
}

// NewConnection establishes a connection to the X11 server and selects
// the default screen and a 32-bit true-color visual. Every failure here
// is fatal: without the connection or the visual nothing can render.
func NewConnection() (*Connection, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	screen := xu.Screen()
	visual, err := findTrueColorVisual(screen, visualDepth)
	if err != nil {
		xu.Conn().Close()
		return nil, err
	}

	return &Connection{
		XUtil:  xu,
		Root:   xu.RootWin(),
		Screen: screen,
		Visual: visual,
	}, nil
}

// Conn returns the low-level protocol connection.
func (c *Connection) Conn() *xgb.Conn {
	return c.XUtil.Conn()
}

// WaitForEvent blocks until the next event or protocol error arrives.
// Both results are nil once the connection is closed.
func (c *Connection) WaitForEvent() (xgb.Event, xgb.Error) {
	return c.Conn().WaitForEvent()
}

// MaxRequestBytes returns the server's maximum request size in bytes.
func (c *Connection) MaxRequestBytes() int {
	return int(xproto.Setup(c.Conn()).MaximumRequestLength) * 4
}

// Close disconnects from the X11 server. Callers must stop the event
// and animation loops first; an in-flight request on a closed
// connection is a use-after-close.
func (c *Connection) Close() {
	c.Conn().Close()
}

// findTrueColorVisual walks the screen's depth list for a true-color
// visual at the requested depth.
func findTrueColorVisual(screen *xproto.ScreenInfo, depth byte) (xproto.Visualid, error) {
	for _, d := range screen.AllowedDepths {
		if d.Depth != depth {
			continue
		}
		for _, v := range d.Visuals {
			if v.Class == xproto.VisualClassTrueColor {
				return v.VisualId, nil
			}
		}
	}
	return 0, fmt.Errorf("no %d-bit true-color visual on screen", depth)
}
