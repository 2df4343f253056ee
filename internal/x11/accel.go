package x11

import "fmt"

// Accelerator is an optional rendering backend bound to the X
// connection. Initialization failure is reported explicitly so the
// caller can fall back to software rendering instead of running with a
// half-initialized backend.
type Accelerator interface {
	Name() string
	Init(c *Connection) error
	Close()
}

// NewAccelerator selects a rendering backend by configured name.
// Only the software path ships today; the indirection keeps GPU
// backends a configuration choice rather than a build flag.
func NewAccelerator(name string) (Accelerator, error) {
	switch name {
	case "", "software", "none":
		return softwareAccel{}, nil
	default:
		return nil, fmt.Errorf("unknown accelerator %q", name)
	}
}

// NewSoftwareAccelerator returns the CPU rendering backend. It cannot
// fail, which makes it the fallback when a configured backend does not
// initialize.
func NewSoftwareAccelerator() Accelerator {
	return softwareAccel{}
}

// softwareAccel renders on the CPU through core protocol requests.
type softwareAccel struct{}

func (softwareAccel) Name() string           { return "software" }
func (softwareAccel) Init(*Connection) error { return nil }
func (softwareAccel) Close()                 {}
