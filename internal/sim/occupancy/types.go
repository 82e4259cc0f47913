package occupancy

import (
	"errors"

	"gridbuild.dev/internal/sim/footprint"
)

var (
	ErrBlocked     = errors.New("occupancy: footprint overlaps a blocked cell")
	ErrOutOfBounds = errors.New("occupancy: footprint leaves the grid")
	ErrBadConfig   = errors.New("occupancy: invalid grid config")
)

type Cell struct {
	X int `json:"x"`
	Z int `json:"z"`
}

func (c Cell) Offset(v footprint.Vec2i) Cell { return Cell{X: c.X + v.X, Z: c.Z + v.Y} }

// Point is a world-space position. Y is carried for collaborators but never
// affects the cell mapping.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Handle identifies one placed building. The zero Handle is never issued.
type Handle uint64

// Record is what the grid remembers about a placement. Rotation and Anchor are
// captured at placement time so removal frees exactly the cells that were
// blocked, whatever the caller's view looks like later.
type Record struct {
	Handle     Handle
	Anchor     Cell
	Rotation   int
	Template   *footprint.Template
	BuildingID string
}

func (r Record) View() *footprint.View {
	return footprint.NewView(r.Template, r.Rotation)
}

// Cells returns the grid cells covered by the record.
func (r Record) Cells() []Cell {
	offs := r.View().Cells()
	out := make([]Cell, 0, len(offs))
	for _, o := range offs {
		out = append(out, r.Anchor.Offset(o))
	}
	return out
}

type ChangeKind int

const (
	ChangePlaced ChangeKind = iota + 1
	ChangeRemoved
	ChangeResized
)

func (k ChangeKind) String() string {
	switch k {
	case ChangePlaced:
		return "PLACED"
	case ChangeRemoved:
		return "REMOVED"
	case ChangeResized:
		return "RESIZED"
	default:
		return "UNKNOWN"
	}
}

// Change is delivered to subscribers after the grid has been mutated.
type Change struct {
	Kind       ChangeKind
	Handle     Handle
	Anchor     Cell
	Rotation   int
	BuildingID string
	Cells      []Cell
}

// MaxSize is the largest edge any grid may have.
const MaxSize = 4096

type Config struct {
	Size     int
	CellSize float64
	Origin   Point
	// MaxSize caps Size for New and Resize. 0 means the package MaxSize.
	MaxSize int
}
