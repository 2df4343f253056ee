package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// ErrorDetails is a decoded X protocol error, ready for structured
// logging. Protocol errors arrive asynchronously on the event stream
// and are never fatal.
//
// Major carries the request name for core protocol opcodes. Minor is
// the raw minor opcode, always zero for core requests; xgb ships no
// per-extension request name tables, so errors raised by extension
// requests keep numeric opcodes and decode with Name "Unknown".
type ErrorDetails struct {
	Name     string
	Major    string
	Minor    uint16
	Resource uint32
	Sequence uint16
}

func (d ErrorDetails) String() string {
	return fmt.Sprintf("%s: %s:%d, resource %d sequence %d",
		d.Name, d.Major, d.Minor, d.Resource, d.Sequence)
}

// DescribeError decodes an X protocol error into its error name,
// request opcode names, offending resource id and sequence number.
func DescribeError(err xgb.Error) ErrorDetails {
	var v xproto.ValueError
	switch e := err.(type) {
	case xproto.RequestError:
		v = xproto.ValueError(e)
	case xproto.ValueError:
		v = e
	case xproto.WindowError:
		v = xproto.ValueError(e)
	case xproto.PixmapError:
		v = xproto.ValueError(e)
	case xproto.AtomError:
		v = xproto.ValueError(e)
	case xproto.CursorError:
		v = xproto.ValueError(e)
	case xproto.FontError:
		v = xproto.ValueError(e)
	case xproto.MatchError:
		v = xproto.ValueError(e)
	case xproto.DrawableError:
		v = xproto.ValueError(e)
	case xproto.AccessError:
		v = xproto.ValueError(e)
	case xproto.AllocError:
		v = xproto.ValueError(e)
	case xproto.ColormapError:
		v = xproto.ValueError(e)
	case xproto.GContextError:
		v = xproto.ValueError(e)
	case xproto.IDChoiceError:
		v = xproto.ValueError(e)
	case xproto.NameError:
		v = xproto.ValueError(e)
	case xproto.LengthError:
		v = xproto.ValueError(e)
	case xproto.ImplementationError:
		v = xproto.ValueError(e)
	default:
		// Extension errors only expose sequence and resource id.
		return ErrorDetails{
			Name:     "Unknown",
			Major:    "Unknown",
			Resource: err.BadId(),
			Sequence: err.SequenceId(),
		}
	}
	return ErrorDetails{
		Name:     "Bad" + v.NiceName,
		Major:    majorOpcodeName(v.MajorOpcode),
		Minor:    v.MinorOpcode,
		Resource: v.BadValue,
		Sequence: v.Sequence,
	}
}

// Core request names for the opcodes this program can plausibly emit.
var majorOpcodeNames = map[byte]string{
	1:   "CreateWindow",
	2:   "ChangeWindowAttributes",
	3:   "GetWindowAttributes",
	4:   "DestroyWindow",
	8:   "MapWindow",
	10:  "UnmapWindow",
	12:  "ConfigureWindow",
	14:  "GetGeometry",
	15:  "QueryTree",
	16:  "InternAtom",
	17:  "GetAtomName",
	18:  "ChangeProperty",
	20:  "GetProperty",
	25:  "SendEvent",
	38:  "QueryPointer",
	40:  "TranslateCoordinates",
	53:  "CreatePixmap",
	54:  "FreePixmap",
	55:  "CreateGC",
	56:  "ChangeGC",
	60:  "FreeGC",
	61:  "ClearArea",
	62:  "CopyArea",
	70:  "PolyFillRectangle",
	72:  "PutImage",
	73:  "GetImage",
	78:  "CreateColormap",
	79:  "FreeColormap",
	98:  "QueryExtension",
	104: "Bell",
}

func majorOpcodeName(op byte) string {
	if name, ok := majorOpcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode%d", op)
}
