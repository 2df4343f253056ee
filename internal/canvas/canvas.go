// Package canvas orchestrates the overlay windows drawn on top of a
// terminal: it owns the window registry, the protocol event loop and
// the animation loop.
package canvas

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/termpix/termpix/internal/img"
	"github.com/termpix/termpix/internal/terminal"
	"github.com/termpix/termpix/internal/x11"
)

// Renderer is one overlay render target. Implemented by x11.Window;
// faked in tests.
type Renderer interface {
	GenerateFrame() error
	Draw() error
	Show() error
	Hide() error
	Destroy()
}

// EventSource yields protocol events and errors. Implemented by
// x11.Connection. Both results are nil once the source is closed.
type EventSource interface {
	WaitForEvent() (xgb.Event, xgb.Error)
}

// WindowFactory creates a render target parented to the given native
// window and returns it with its freshly generated window id.
type WindowFactory func(parent xproto.Window, dims terminal.Dimensions, src img.Image) (Renderer, xproto.Window, error)

// Resolver computes the set of native windows that must host the
// overlay for a given terminal window.
type Resolver func(terminalWindow xproto.Window) (map[xproto.Window]struct{}, error)

// Options wires a Canvas to its collaborators.
type Options struct {
	Events         EventSource
	Resolve        Resolver
	NewWindow      WindowFactory
	TerminalWindow xproto.Window
	Logger         *slog.Logger

	// CloseConn releases the underlying connection. Called by Close
	// strictly after the dispatcher has stopped.
	CloseConn func()
}

// Canvas composes the connection, window registry, event dispatcher
// and animation driver behind an init/draw/show/hide/clear lifecycle.
type Canvas struct {
	events         EventSource
	resolve        Resolver
	newWindow      WindowFactory
	terminalWindow xproto.Window
	closeConn      func()
	log            *slog.Logger

	cancel       context.CancelFunc
	dispatchDone chan struct{}
	readerDone   chan struct{}
	ctx          context.Context

	// mu guards the registry and the image reference. The registry is
	// mutated by Init/Clear on the caller's goroutine and read by the
	// dispatcher and the animator.
	mu      sync.RWMutex
	windows map[xproto.Window]Renderer
	image   img.Image

	animMu   sync.Mutex
	animStop chan struct{}
	animDone chan struct{}
}

// New builds a Canvas and starts its event dispatcher. The dispatcher
// runs until ctx is cancelled or Close is called.
func New(ctx context.Context, opts Options) *Canvas {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cctx, cancel := context.WithCancel(ctx)
	c := &Canvas{
		events:         opts.Events,
		resolve:        opts.Resolve,
		newWindow:      opts.NewWindow,
		terminalWindow: opts.TerminalWindow,
		closeConn:      opts.CloseConn,
		log:            logger,
		ctx:            cctx,
		cancel:         cancel,
		dispatchDone:   make(chan struct{}),
		readerDone:     make(chan struct{}),
		windows:        make(map[xproto.Window]Renderer),
	}

	events := make(chan eventPair, 16)
	go c.readEvents(cctx, events)
	go c.dispatch(cctx, events)
	return c
}

// Init takes ownership of the image, resolves every target window the
// terminal content may appear in, and creates one overlay window per
// target. A target that vanished since discovery is skipped, not fatal.
func (c *Canvas) Init(dims terminal.Dimensions, image img.Image) error {
	targets, err := c.resolve(c.terminalWindow)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = image
	for target := range targets {
		r, wid, err := c.newWindow(target, dims, image)
		if err != nil {
			c.log.Warn("failed to create overlay window",
				"parent", uint32(target), "error", err)
			continue
		}
		c.windows[wid] = r
	}
	c.log.Debug("canvas initialized",
		"targets", len(targets), "windows", len(c.windows))
	return nil
}

// Draw renders the image. A still image is rendered into every window
// once, synchronously. An animated image starts the animation loop;
// at most one loop runs at a time.
func (c *Canvas) Draw() error {
	c.mu.RLock()
	image := c.image
	c.mu.RUnlock()
	if image == nil {
		return nil
	}

	if !image.Animated() {
		return c.renderAll()
	}
	c.startAnimation(image)
	return nil
}

// Show maps every overlay window.
func (c *Canvas) Show() error {
	var firstErr error
	for _, w := range c.snapshot() {
		if err := w.Show(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Hide unmaps every overlay window.
func (c *Canvas) Hide() error {
	var firstErr error
	for _, w := range c.snapshot() {
		if err := w.Hide(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear stops the animation loop, destroys every overlay window and
// releases the image. Safe to call twice, or before any Init.
func (c *Canvas) Clear() {
	c.stopAnimation()

	c.mu.Lock()
	for wid, w := range c.windows {
		w.Destroy()
		delete(c.windows, wid)
	}
	c.image = nil
	c.mu.Unlock()
}

// Close tears the canvas down: clear state, stop the animation loop
// and the dispatcher, and only then release the connection. The
// dispatcher is joined strictly before the connection closes so no
// dispatch touches a closed connection.
func (c *Canvas) Close() {
	c.Clear()
	c.cancel()
	<-c.dispatchDone
	if c.closeConn != nil {
		c.closeConn()
	}
	<-c.readerDone
}

// snapshot copies the registry so render calls run without holding the
// registry lock.
func (c *Canvas) snapshot() []Renderer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ws := make([]Renderer, 0, len(c.windows))
	for _, w := range c.windows {
		ws = append(ws, w)
	}
	return ws
}

func (c *Canvas) renderAll() error {
	var firstErr error
	for _, w := range c.snapshot() {
		if err := w.GenerateFrame(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// startAnimation spawns the animation loop unless one is running.
func (c *Canvas) startAnimation(image img.Image) {
	c.animMu.Lock()
	defer c.animMu.Unlock()
	if c.animStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.animStop = stop
	c.animDone = done
	go c.animate(image, stop, done)
}

// stopAnimation signals the animation loop and waits for it to drain.
// A frame render already in flight completes before the loop exits.
func (c *Canvas) stopAnimation() {
	c.animMu.Lock()
	stop := c.animStop
	done := c.animDone
	c.animStop = nil
	c.animDone = nil
	c.animMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// animate renders every window, advances the frame cursor and sleeps
// the image's declared frame delay. It stops when Clear signals it or
// when the canvas context is cancelled, so a shutdown that skips
// Clear cannot leave it running.
func (c *Canvas) animate(image img.Image, stop, done chan struct{}) {
	defer close(done)
	for {
		for _, w := range c.snapshot() {
			if err := w.GenerateFrame(); err != nil {
				c.log.Warn("frame render failed", "error", err)
			}
		}
		image.NextFrame()

		timer := time.NewTimer(image.FrameDelay())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

type eventPair struct {
	event xgb.Event
	err   xgb.Error
}

// readEvents drains the connection into a channel so the dispatcher
// can observe cancellation with bounded latency. It exits when the
// source reports closure (nil, nil) or the context ends.
func (c *Canvas) readEvents(ctx context.Context, events chan<- eventPair) {
	defer close(c.readerDone)
	for {
		ev, err := c.events.WaitForEvent()
		if ev == nil && err == nil {
			close(events)
			return
		}
		select {
		case events <- eventPair{event: ev, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch routes protocol events for the lifetime of the canvas.
// Errors are decoded and logged, never fatal.
func (c *Canvas) dispatch(ctx context.Context, events <-chan eventPair) {
	defer close(c.dispatchDone)
	c.log.Debug("event dispatcher started")
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("event dispatcher stopped")
			return
		case p, ok := <-events:
			if !ok {
				c.log.Debug("event stream closed")
				return
			}
			c.handleEvent(p)
		}
	}
}

func (c *Canvas) handleEvent(p eventPair) {
	if p.err != nil {
		d := x11.DescribeError(p.err)
		c.log.Error("X protocol error",
			"error", d.Name,
			"major", d.Major,
			"minor", d.Minor,
			"resource", d.Resource,
			"sequence", d.Sequence)
		return
	}

	switch ev := p.event.(type) {
	case xproto.ExposeEvent:
		c.mu.RLock()
		w, ok := c.windows[ev.Window]
		c.mu.RUnlock()
		if !ok {
			// Expose for a window already torn down, or one belonging
			// to another canvas. Expected race, not an error.
			return
		}
		if err := w.Draw(); err != nil {
			c.log.Warn("redraw failed", "window", uint32(ev.Window), "error", err)
		}
	default:
		c.log.Debug("unrecognized event", "event", p.event.String())
	}
}
