package builder

import "gridbuild.dev/internal/sim/occupancy"

type State int

const (
	Idle State = iota
	SinglePlacing
	MassSelecting
	Destroying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case SinglePlacing:
		return "SINGLE"
	case MassSelecting:
		return "MASS"
	case Destroying:
		return "DESTROY"
	default:
		return "UNKNOWN"
	}
}

// ParseState accepts the names produced by State.String.
func ParseState(s string) (State, bool) {
	switch s {
	case "IDLE":
		return Idle, true
	case "SINGLE":
		return SinglePlacing, true
	case "MASS":
		return MassSelecting, true
	case "DESTROY":
		return Destroying, true
	default:
		return Idle, false
	}
}

// Event is one input applied to a Session.
type Event interface{ isEvent() }

// Start switches mode. BuildingID is required for SinglePlacing and
// MassSelecting and ignored otherwise.
type Start struct {
	Mode       State
	BuildingID string
}

// Hover moves the cursor. A nil Point means the pointer hit nothing usable,
// e.g. it is over UI.
type Hover struct {
	Point *occupancy.Point
}

// Press begins a drag in MassSelecting.
type Press struct{}

// Confirm is the release/click that commits the current action.
type Confirm struct{}

type Cancel struct{}

// Rotate turns the active footprint a quarter turn; Dir < 0 turns left.
type Rotate struct {
	Dir int
}

func (Start) isEvent()   {}
func (Hover) isEvent()   {}
func (Press) isEvent()   {}
func (Confirm) isEvent() {}
func (Cancel) isEvent()  {}
func (Rotate) isEvent()  {}
