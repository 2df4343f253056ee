// Package img loads still and animated images and exposes them as a
// sequence of frames with declared pacing.
package img

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"os"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded image. Frame returns the current frame; animated
// images advance their frame cursor through NextFrame. Frame may be
// called from several goroutines; NextFrame has a single caller (the
// animation loop).
type Image interface {
	Animated() bool
	Frame() image.Image
	NextFrame()
	FrameDelay() time.Duration
}

// Frame delay used when a GIF declares none.
const defaultFrameDelay = 100 * time.Millisecond

// Open decodes the image at path. GIFs with more than one frame come
// back animated; everything else is a single still frame.
func Open(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return Decode(data)
}

// Decode decodes raw image bytes, see Open.
func Decode(data []byte) (Image, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unrecognized image format: %w", err)
	}
	if format == "gif" {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode gif: %w", err)
		}
		return fromGIF(g), nil
	}
	m, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	return &still{frame: m}, nil
}

// still is a single-frame image.
type still struct {
	frame image.Image
}

func (s *still) Animated() bool            { return false }
func (s *still) Frame() image.Image        { return s.frame }
func (s *still) NextFrame()                {}
func (s *still) FrameDelay() time.Duration { return 0 }

// animation holds precomposed full-size frames and their delays.
type animation struct {
	frames []image.Image
	delays []time.Duration

	mu     sync.RWMutex
	cursor int
}

func (a *animation) Animated() bool { return len(a.frames) > 1 }

func (a *animation) Frame() image.Image {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames[a.cursor]
}

func (a *animation) NextFrame() {
	a.mu.Lock()
	a.cursor = (a.cursor + 1) % len(a.frames)
	a.mu.Unlock()
}

func (a *animation) FrameDelay() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.delays[a.cursor]
}

// fromGIF precomposes GIF frames onto the logical screen, applying
// each frame's disposal method, so every frame comes out full-size
// with partial regions and transparency already resolved.
func fromGIF(g *gif.GIF) Image {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() && len(g.Image) > 0 {
		bounds = g.Image[0].Bounds()
	}

	frames := make([]image.Image, 0, len(g.Image))
	delays := make([]time.Duration, 0, len(g.Image))
	canvas := image.NewRGBA(bounds)
	for i, src := range g.Image {
		var prev *image.RGBA
		if i < len(g.Disposal) && g.Disposal[i] == gif.DisposalPrevious {
			prev = image.NewRGBA(bounds)
			draw.Draw(prev, bounds, canvas, bounds.Min, draw.Src)
		}

		draw.Draw(canvas, src.Bounds(), src, src.Bounds().Min, draw.Over)
		frame := image.NewRGBA(bounds)
		draw.Draw(frame, bounds, canvas, bounds.Min, draw.Src)
		frames = append(frames, frame)

		delay := defaultFrameDelay
		if i < len(g.Delay) && g.Delay[i] > 0 {
			// GIF delays are in hundredths of a second.
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		delays = append(delays, delay)

		if i < len(g.Disposal) {
			switch g.Disposal[i] {
			case gif.DisposalBackground:
				// Overlay frames composite over the terminal, so the
				// background a disposed region reverts to is transparency.
				draw.Draw(canvas, src.Bounds(), image.Transparent, image.Point{}, draw.Src)
			case gif.DisposalPrevious:
				canvas = prev
			}
		}
	}
	if len(frames) == 1 {
		return &still{frame: frames[0]}
	}
	return &animation{frames: frames, delays: delays}
}

// Fit scales src to fill at most maxWidth x maxHeight pixels while
// preserving aspect ratio. Images already inside the box are returned
// at their native size.
func Fit(src image.Image, maxWidth, maxHeight int) *image.RGBA {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	w, h := sw, sh
	if maxWidth > 0 && maxHeight > 0 && (sw > maxWidth || sh > maxHeight) {
		// Scale by the tighter axis.
		wr := float64(maxWidth) / float64(sw)
		hr := float64(maxHeight) / float64(sh)
		r := wr
		if hr < wr {
			r = hr
		}
		w = int(float64(sw) * r)
		h = int(float64(sh) * r)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, sb, xdraw.Src, nil)
	return dst
}
