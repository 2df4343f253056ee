package canvas

import (
	"bytes"
	"context"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	imgpkg "github.com/termpix/termpix/internal/img"
	"github.com/termpix/termpix/internal/terminal"
)

type fakeRenderer struct {
	generates atomic.Int64
	draws     atomic.Int64
	shows     atomic.Int64
	hides     atomic.Int64
	destroyed atomic.Bool
}

func (f *fakeRenderer) GenerateFrame() error { f.generates.Add(1); return nil }
func (f *fakeRenderer) Draw() error          { f.draws.Add(1); return nil }
func (f *fakeRenderer) Show() error          { f.shows.Add(1); return nil }
func (f *fakeRenderer) Hide() error          { f.hides.Add(1); return nil }
func (f *fakeRenderer) Destroy()             { f.destroyed.Store(true) }

type fakeImage struct {
	animated bool
	delay    time.Duration
	advances atomic.Int64
	frame    image.Image
}

func newFakeImage(animated bool, delay time.Duration) *fakeImage {
	return &fakeImage{
		animated: animated,
		delay:    delay,
		frame:    image.NewRGBA(image.Rect(0, 0, 1, 1)),
	}
}

func (f *fakeImage) Animated() bool            { return f.animated }
func (f *fakeImage) Frame() image.Image        { return f.frame }
func (f *fakeImage) NextFrame()                { f.advances.Add(1) }
func (f *fakeImage) FrameDelay() time.Duration { return f.delay }

type fakeSource struct {
	events chan eventPair
	closed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan eventPair, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSource) WaitForEvent() (xgb.Event, xgb.Error) {
	select {
	case p := <-s.events:
		return p.event, p.err
	case <-s.closed:
		return nil, nil
	}
}

func (s *fakeSource) emit(ev xgb.Event, err xgb.Error) {
	s.events <- eventPair{event: ev, err: err}
}

func (s *fakeSource) Close() {
	close(s.closed)
}

// testHarness wires a canvas to fakes: a resolver returning the given
// targets and a factory that records every renderer it creates.
type testHarness struct {
	canvas    *Canvas
	source    *fakeSource
	renderers map[xproto.Window]*fakeRenderer
}

func newHarness(t *testing.T, logger *slog.Logger, targets ...xproto.Window) *testHarness {
	t.Helper()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &testHarness{
		source:    newFakeSource(),
		renderers: make(map[xproto.Window]*fakeRenderer),
	}

	targetSet := make(map[xproto.Window]struct{}, len(targets))
	for _, w := range targets {
		targetSet[w] = struct{}{}
	}

	nextID := xproto.Window(1000)
	factory := func(parent xproto.Window, dims terminal.Dimensions, src imgpkg.Image) (Renderer, xproto.Window, error) {
		r := &fakeRenderer{}
		wid := nextID
		nextID++
		h.renderers[wid] = r
		return r, wid, nil
	}

	h.canvas = New(context.Background(), Options{
		Events: h.source,
		Resolve: func(xproto.Window) (map[xproto.Window]struct{}, error) {
			return targetSet, nil
		},
		NewWindow:      factory,
		TerminalWindow: targets[0],
		Logger:         logger,
		CloseConn:      h.source.Close,
	})
	t.Cleanup(h.canvas.Close)
	return h
}

func dims() terminal.Dimensions {
	return terminal.NewDimensions(
		terminal.Geometry{Cols: 80, Rows: 24, CellWidth: 8, CellHeight: 16},
		0, 0, 10, 5)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDrawStaticRendersEveryWindowOnce(t *testing.T) {
	h := newHarness(t, nil, 1, 2)
	if err := h.canvas.Init(dims(), newFakeImage(false, 0)); err != nil {
		t.Fatalf("Init() err=%v", err)
	}
	if len(h.renderers) != 2 {
		t.Fatalf("created %d windows, want 2", len(h.renderers))
	}

	if err := h.canvas.Draw(); err != nil {
		t.Fatalf("Draw() err=%v", err)
	}
	for wid, r := range h.renderers {
		if got := r.generates.Load(); got != 1 {
			t.Errorf("window %d rendered %d times, want 1", wid, got)
		}
	}

	// Static draw must not leave an animation loop behind.
	h.canvas.animMu.Lock()
	running := h.canvas.animStop != nil
	h.canvas.animMu.Unlock()
	if running {
		t.Fatal("animation loop running after static draw")
	}
}

func TestDrawAnimatedPacesFramesUntilClear(t *testing.T) {
	h := newHarness(t, nil, 1)
	src := newFakeImage(true, 5*time.Millisecond)
	if err := h.canvas.Init(dims(), src); err != nil {
		t.Fatalf("Init() err=%v", err)
	}
	if err := h.canvas.Draw(); err != nil {
		t.Fatalf("Draw() err=%v", err)
	}

	var r *fakeRenderer
	for _, r = range h.renderers {
	}
	waitFor(t, "repeated renders", func() bool { return r.generates.Load() >= 3 })
	if src.advances.Load() < 2 {
		t.Fatalf("frame advanced %d times, want >= 2", src.advances.Load())
	}

	h.canvas.Clear()
	after := r.generates.Load()
	time.Sleep(25 * time.Millisecond)
	if got := r.generates.Load(); got != after {
		t.Fatalf("renders continued after Clear: %d -> %d", after, got)
	}
	if !r.destroyed.Load() {
		t.Fatal("Clear did not destroy the window")
	}
}

func TestDrawAnimatedStartsSingleLoop(t *testing.T) {
	h := newHarness(t, nil, 1)
	src := newFakeImage(true, 5*time.Millisecond)
	if err := h.canvas.Init(dims(), src); err != nil {
		t.Fatalf("Init() err=%v", err)
	}
	// A second Draw while animating must not spawn a second loop.
	h.canvas.Draw()
	h.canvas.Draw()

	h.canvas.animMu.Lock()
	stop := h.canvas.animStop
	h.canvas.animMu.Unlock()
	if stop == nil {
		t.Fatal("no animation loop running")
	}
	h.canvas.Clear()
}

func TestClearIdempotent(t *testing.T) {
	h := newHarness(t, nil, 1)

	// Clear before any Init.
	h.canvas.Clear()

	if err := h.canvas.Init(dims(), newFakeImage(true, time.Millisecond)); err != nil {
		t.Fatalf("Init() err=%v", err)
	}
	h.canvas.Draw()
	h.canvas.Clear()
	h.canvas.Clear()

	h.canvas.mu.RLock()
	n := len(h.canvas.windows)
	img := h.canvas.image
	h.canvas.mu.RUnlock()
	if n != 0 || img != nil {
		t.Fatalf("registry not empty after Clear: %d windows, image=%v", n, img)
	}
}

func TestExposeRedrawsKnownWindow(t *testing.T) {
	h := newHarness(t, nil, 1)
	if err := h.canvas.Init(dims(), newFakeImage(false, 0)); err != nil {
		t.Fatalf("Init() err=%v", err)
	}

	var wid xproto.Window
	var r *fakeRenderer
	for wid, r = range h.renderers {
	}

	h.source.emit(xproto.ExposeEvent{Window: wid}, nil)
	waitFor(t, "expose redraw", func() bool { return r.draws.Load() == 1 })
}

func TestExposeForUnknownWindowIgnored(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarness(t, logger, 1)
	if err := h.canvas.Init(dims(), newFakeImage(false, 0)); err != nil {
		t.Fatalf("Init() err=%v", err)
	}

	h.source.emit(xproto.ExposeEvent{Window: 424242}, nil)
	// Follow with a known-window expose as a fence.
	var wid xproto.Window
	var r *fakeRenderer
	for wid, r = range h.renderers {
	}
	h.source.emit(xproto.ExposeEvent{Window: wid}, nil)
	waitFor(t, "fence redraw", func() bool { return r.draws.Load() == 1 })

	if s := buf.String(); strings.Contains(s, "level=ERROR") || strings.Contains(s, "level=WARN") {
		t.Fatalf("unknown-window expose logged as a problem: %s", s)
	}
}

func TestProtocolErrorDecodedAndLogged(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := newHarness(t, logger, 1)

	h.source.emit(nil, xproto.WindowError{
		Sequence:    99,
		NiceName:    "Window",
		BadValue:    777,
		MinorOpcode: 2,
		MajorOpcode: 72,
	})

	waitFor(t, "error log", func() bool {
		return strings.Contains(buf.String(), "BadWindow")
	})
	s := buf.String()
	for _, want := range []string{"BadWindow", "PutImage", "minor=2", "resource=777", "sequence=99"} {
		if !strings.Contains(s, want) {
			t.Errorf("log %q missing %q", s, want)
		}
	}
}

func TestCloseJoinsLoopsBeforeConnection(t *testing.T) {
	var dispatcherDoneFirst atomic.Bool

	source := newFakeSource()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var c *Canvas
	c = New(context.Background(), Options{
		Events: source,
		Resolve: func(xproto.Window) (map[xproto.Window]struct{}, error) {
			return map[xproto.Window]struct{}{1: {}}, nil
		},
		NewWindow: func(parent xproto.Window, d terminal.Dimensions, src imgpkg.Image) (Renderer, xproto.Window, error) {
			return &fakeRenderer{}, 1000, nil
		},
		TerminalWindow: 1,
		Logger:         logger,
		CloseConn: func() {
			select {
			case <-c.dispatchDone:
				dispatcherDoneFirst.Store(true)
			default:
			}
			source.Close()
		},
	})

	if err := c.Init(dims(), newFakeImage(true, time.Millisecond)); err != nil {
		t.Fatalf("Init() err=%v", err)
	}
	c.Draw()
	c.Close()

	if !dispatcherDoneFirst.Load() {
		t.Fatal("connection released before the dispatcher was joined")
	}

	// Animation loop is gone too.
	c.animMu.Lock()
	running := c.animStop != nil
	c.animMu.Unlock()
	if running {
		t.Fatal("animation loop survived Close")
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
