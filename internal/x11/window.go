package x11

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb/xproto"

	"github.com/termpix/termpix/internal/img"
	"github.com/termpix/termpix/internal/terminal"
)

// Window is one overlay window parented to a terminal window. It owns
// the native window, its colormap and GC, and renders frames of the
// shared image into it.
//
// GenerateFrame and Draw may be called concurrently from the event
// dispatcher and the animation loop; a mutex serializes rendering.
type Window struct {
	conn   *Connection
	id     xproto.Window
	parent xproto.Window
	gc     xproto.Gcontext
	cmap   xproto.Colormap
	dims   terminal.Dimensions
	src    img.Image

	mu    sync.Mutex
	frame *image.RGBA // last rendered frame, redrawn on Expose
}

// NewWindow creates an override-redirect ARGB window inside parent at
// the cell position described by dims, with its own colormap for the
// 32-bit visual.
func NewWindow(conn *Connection, parent xproto.Window, dims terminal.Dimensions, src img.Image) (*Window, error) {
	wid, err := xproto.NewWindowId(conn.Conn())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate window id: %w", err)
	}
	cmap, err := xproto.NewColormapId(conn.Conn())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate colormap id: %w", err)
	}
	if err := xproto.CreateColormapChecked(conn.Conn(),
		xproto.ColormapAllocNone, cmap, parent, conn.Visual).Check(); err != nil {
		return nil, fmt.Errorf("failed to create colormap: %w", err)
	}

	width := dims.PixelWidth()
	height := dims.PixelHeight()
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	// Value order follows the bit order of the mask: back pixel,
	// border pixel, override-redirect, event mask, colormap. Border
	// pixel must be set explicitly or CreateWindow answers BadMatch
	// for a depth differing from the parent's.
	mask := uint32(xproto.CwBackPixel | xproto.CwBorderPixel |
		xproto.CwOverrideRedirect | xproto.CwEventMask | xproto.CwColormap)
	values := []uint32{0, 0, 1, xproto.EventMaskExposure, uint32(cmap)}

	if err := xproto.CreateWindowChecked(conn.Conn(), visualDepth, wid, parent,
		int16(dims.PixelX()), int16(dims.PixelY()),
		uint16(width), uint16(height), 0,
		xproto.WindowClassInputOutput, conn.Visual, mask, values).Check(); err != nil {
		xproto.FreeColormap(conn.Conn(), cmap)
		return nil, fmt.Errorf("failed to create window under %d: %w", parent, err)
	}

	gc, err := xproto.NewGcontextId(conn.Conn())
	if err != nil {
		xproto.DestroyWindow(conn.Conn(), wid)
		xproto.FreeColormap(conn.Conn(), cmap)
		return nil, fmt.Errorf("failed to allocate gc id: %w", err)
	}
	if err := xproto.CreateGCChecked(conn.Conn(), gc, xproto.Drawable(wid),
		xproto.GcGraphicsExposures, []uint32{0}).Check(); err != nil {
		xproto.DestroyWindow(conn.Conn(), wid)
		xproto.FreeColormap(conn.Conn(), cmap)
		return nil, fmt.Errorf("failed to create gc: %w", err)
	}

	return &Window{
		conn:   conn,
		id:     wid,
		parent: parent,
		gc:     gc,
		cmap:   cmap,
		dims:   dims,
		src:    src,
	}, nil
}

// ID returns the native window identifier.
func (w *Window) ID() xproto.Window {
	return w.id
}

// GenerateFrame scales the image's current frame into the cell box and
// uploads it.
func (w *Window) GenerateFrame() error {
	frame := img.Fit(w.src.Frame(), w.dims.PixelWidth(), w.dims.PixelHeight())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.frame = frame
	return w.put(frame)
}

// Draw re-uploads the last rendered frame, typically in response to an
// Expose event. A window that has not rendered yet draws nothing.
func (w *Window) Draw() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.frame == nil {
		return nil
	}
	return w.put(w.frame)
}

// Show maps the window.
func (w *Window) Show() error {
	return xproto.MapWindowChecked(w.conn.Conn(), w.id).Check()
}

// Hide unmaps the window.
func (w *Window) Hide() error {
	return xproto.UnmapWindowChecked(w.conn.Conn(), w.id).Check()
}

// Destroy releases the native window and its resources.
func (w *Window) Destroy() {
	xproto.FreeGC(w.conn.Conn(), w.gc)
	xproto.FreeColormap(w.conn.Conn(), w.cmap)
	xproto.DestroyWindow(w.conn.Conn(), w.id)
}

// put uploads the frame with PutImage, split into row chunks that fit
// the server's maximum request size.
func (w *Window) put(frame *image.RGBA) error {
	bounds := frame.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	data := toBGRA(frame)
	stride := width * 4

	// Leave room for the fixed PutImage header.
	budget := w.conn.MaxRequestBytes() - 64
	rowsPerChunk := budget / stride
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}

	for y := 0; y < height; y += rowsPerChunk {
		rows := rowsPerChunk
		if y+rows > height {
			rows = height - y
		}
		chunk := data[y*stride : (y+rows)*stride]
		err := xproto.PutImageChecked(w.conn.Conn(), xproto.ImageFormatZPixmap,
			xproto.Drawable(w.id), w.gc,
			uint16(width), uint16(rows), 0, int16(y),
			0, visualDepth, chunk).Check()
		if err != nil {
			return fmt.Errorf("put image failed at row %d: %w", y, err)
		}
	}
	return nil
}

// toBGRA converts an RGBA frame to the little-endian ARGB32 layout the
// server expects in ZPixmap format.
func toBGRA(frame *image.RGBA) []byte {
	bounds := frame.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	out := make([]byte, width*height*4)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		off := frame.PixOffset(bounds.Min.X, y)
		row := frame.Pix[off : off+width*4]
		for x := 0; x < width*4; x += 4 {
			out[i] = row[x+2]   // B
			out[i+1] = row[x+1] // G
			out[i+2] = row[x]   // R
			out[i+3] = row[x+3] // A
			i += 4
		}
	}
	return out
}
