// Package terminal discovers terminal cell geometry and the native
// window hosting the terminal.
package terminal

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Fallback cell size when the terminal does not report pixel metrics.
const (
	defaultCellWidth  = 8
	defaultCellHeight = 16
)

// Geometry describes the terminal grid and its cell size in pixels.
type Geometry struct {
	Cols       int
	Rows       int
	CellWidth  int
	CellHeight int
}

// Detect reads the terminal size for the given tty descriptor.
// Cell pixel size comes from the TIOCGWINSZ pixel fields; terminals
// that leave them zero get a conservative fallback.
func Detect(fd int) (Geometry, error) {
	if !term.IsTerminal(fd) {
		return Geometry{}, fmt.Errorf("descriptor %d is not a terminal", fd)
	}
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return Geometry{}, fmt.Errorf("winsize ioctl failed: %w", err)
	}
	g := Geometry{
		Cols:       int(ws.Col),
		Rows:       int(ws.Row),
		CellWidth:  defaultCellWidth,
		CellHeight: defaultCellHeight,
	}
	if g.Cols == 0 || g.Rows == 0 {
		// Some environments report zero through the ioctl but answer
		// the x/term path.
		cols, rows, err := term.GetSize(fd)
		if err != nil {
			return Geometry{}, fmt.Errorf("terminal size unavailable: %w", err)
		}
		g.Cols, g.Rows = cols, rows
	}
	if ws.Xpixel > 0 && g.Cols > 0 {
		g.CellWidth = int(ws.Xpixel) / g.Cols
	}
	if ws.Ypixel > 0 && g.Rows > 0 {
		g.CellHeight = int(ws.Ypixel) / g.Rows
	}
	return g, nil
}

// Dimensions places an image on the terminal grid: origin and maximum
// extent in cells, plus the cell size used to convert to pixels.
type Dimensions struct {
	X         int // column of the top-left corner
	Y         int // row of the top-left corner
	MaxWidth  int // width budget in cells
	MaxHeight int // height budget in cells

	CellWidth  int
	CellHeight int
}

// NewDimensions builds Dimensions from a placement in cells and the
// detected geometry.
func NewDimensions(g Geometry, x, y, maxWidth, maxHeight int) Dimensions {
	return Dimensions{
		X:          x,
		Y:          y,
		MaxWidth:   maxWidth,
		MaxHeight:  maxHeight,
		CellWidth:  g.CellWidth,
		CellHeight: g.CellHeight,
	}
}

// PixelX returns the horizontal pixel origin inside the terminal window.
func (d Dimensions) PixelX() int { return d.X * d.CellWidth }

// PixelY returns the vertical pixel origin inside the terminal window.
func (d Dimensions) PixelY() int { return d.Y * d.CellHeight }

// PixelWidth returns the width budget in pixels.
func (d Dimensions) PixelWidth() int { return d.MaxWidth * d.CellWidth }

// PixelHeight returns the height budget in pixels.
func (d Dimensions) PixelHeight() int { return d.MaxHeight * d.CellHeight }

// WindowID returns the native window id of the hosting terminal from
// the WINDOWID environment variable set by X11 terminal emulators.
func WindowID() (xproto.Window, error) {
	raw := os.Getenv("WINDOWID")
	if raw == "" {
		return 0, fmt.Errorf("WINDOWID is not set; terminal window unknown")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid WINDOWID %q: %w", raw, err)
	}
	return xproto.Window(id), nil
}
