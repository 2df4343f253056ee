package main

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/termpix/termpix/internal/canvas"
	"github.com/termpix/termpix/internal/config"
	"github.com/termpix/termpix/internal/img"
	"github.com/termpix/termpix/internal/terminal"
)

type stubSource struct {
	closed chan struct{}
}

func (s *stubSource) WaitForEvent() (xgb.Event, xgb.Error) {
	<-s.closed
	return nil, nil
}

type nopRenderer struct{}

func (nopRenderer) GenerateFrame() error { return nil }
func (nopRenderer) Draw() error          { return nil }
func (nopRenderer) Show() error          { return nil }
func (nopRenderer) Hide() error          { return nil }
func (nopRenderer) Destroy()             {}

// newStubCanvas builds a canvas whose connection close is observable
// through connClosed.
func newStubCanvas(t *testing.T, connClosed *atomic.Bool) *canvas.Canvas {
	t.Helper()
	src := &stubSource{closed: make(chan struct{})}
	return canvas.New(context.Background(), canvas.Options{
		Events: src,
		Resolve: func(xproto.Window) (map[xproto.Window]struct{}, error) {
			return map[xproto.Window]struct{}{1: {}}, nil
		},
		NewWindow: func(parent xproto.Window, d terminal.Dimensions, m img.Image) (canvas.Renderer, xproto.Window, error) {
			return nopRenderer{}, 1000, nil
		},
		TerminalWindow: 1,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		CloseConn: func() {
			connClosed.Store(true)
			close(src.closed)
		},
	})
}

func testGeometry() terminal.Geometry {
	return terminal.Geometry{Cols: 80, Rows: 24, CellWidth: 8, CellHeight: 16}
}

func TestApplyRemoveClosesCanvas(t *testing.T) {
	var connClosed atomic.Bool
	overlays := map[string]*canvas.Canvas{
		"preview": newStubCanvas(t, &connClosed),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := apply(context.Background(), command{Action: "remove", Identifier: "preview"},
		config.Default(), testGeometry(), 1, overlays, logger)
	if err != nil {
		t.Fatalf("apply(remove) err=%v", err)
	}
	if !connClosed.Load() {
		t.Fatal("remove left the X connection open")
	}
	if _, ok := overlays["preview"]; ok {
		t.Fatal("remove left the canvas registered")
	}
}

func TestApplyRemoveUnknownIdentifier(t *testing.T) {
	overlays := map[string]*canvas.Canvas{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := apply(context.Background(), command{Action: "remove", Identifier: "nope"},
		config.Default(), testGeometry(), 1, overlays, logger)
	if err != nil {
		t.Fatalf("apply(remove) of unknown identifier err=%v", err)
	}
}

func TestApplyUnknownAction(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := apply(context.Background(), command{Action: "resize", Identifier: "preview"},
		config.Default(), testGeometry(), 1, map[string]*canvas.Canvas{}, logger)
	if err == nil {
		t.Fatal("apply() of unknown action succeeded")
	}
}
