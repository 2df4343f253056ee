package canvas

import (
	"context"
	"log/slog"

	"github.com/BurntSushi/xgb/xproto"

	"github.com/termpix/termpix/internal/img"
	"github.com/termpix/termpix/internal/terminal"
	"github.com/termpix/termpix/internal/x11"
)

// Open connects to the X server and returns a canvas wired to it.
// Construction fails outright when the server is unreachable or no
// 32-bit true-color visual exists; there is no degraded mode.
func Open(ctx context.Context, terminalWindow xproto.Window, accelerator string, logger *slog.Logger) (*Canvas, error) {
	conn, err := x11.NewConnection()
	if err != nil {
		return nil, err
	}

	accel, err := x11.NewAccelerator(accelerator)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := accel.Init(conn); err != nil {
		logger.Warn("accelerator unavailable, rendering in software",
			"accelerator", accel.Name(), "error", err)
		accel = x11.NewSoftwareAccelerator()
	}

	resolver := NewPaneResolver(conn, logger)
	factory := func(parent xproto.Window, dims terminal.Dimensions, src img.Image) (Renderer, xproto.Window, error) {
		w, err := x11.NewWindow(conn, parent, dims, src)
		if err != nil {
			return nil, 0, err
		}
		return w, w.ID(), nil
	}

	c := New(ctx, Options{
		Events:         conn,
		Resolve:        resolver.Resolve,
		NewWindow:      factory,
		TerminalWindow: terminalWindow,
		Logger:         logger,
		CloseConn: func() {
			accel.Close()
			conn.Close()
		},
	})
	logger.Info("canvas created", "terminal_window", uint32(terminalWindow),
		"accelerator", accel.Name())
	return c, nil
}
