// Package massplace tiles a footprint across a dragged rectangle and commits
// the resulting batch to an occupancy grid.
package massplace

import (
	"math"

	"gridbuild.dev/internal/sim/footprint"
	"gridbuild.dev/internal/sim/occupancy"
)

const maxPrealloc = 1024

// Validator post-filters the anchors a drag produced. Implementations receive
// the anchors in enumeration order and return the ones to keep.
type Validator interface {
	Validate(anchors []occupancy.Cell, g *occupancy.Grid, buildingID string) []occupancy.Cell
}

// StartValidator optionally vetoes a drag before any tile is enumerated.
type StartValidator interface {
	CanStart(g *occupancy.Grid, buildingID string) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(anchors []occupancy.Cell, g *occupancy.Grid, buildingID string) []occupancy.Cell

func (f ValidatorFunc) Validate(anchors []occupancy.Cell, g *occupancy.Grid, buildingID string) []occupancy.Cell {
	return f(anchors, g, buildingID)
}

type Options struct {
	Validators []Validator
	// MaxTiles caps how many tiles a single drag enumerates. 0 means no cap.
	MaxTiles int
	DryRun   bool
}

type Plan struct {
	Start      occupancy.Cell
	End        occupancy.Cell
	BuildingID string
	Rotation   int
	TileCount  footprint.Vec2i
	// Anchors holds every enumerated tile; Candidates the ones that passed
	// the grid check and all validators.
	Anchors    []occupancy.Cell
	Candidates []occupancy.Cell
	Truncated  bool
	Epoch      uint64
}

// TileCount is ceil(|end-start| / size) per axis, never less than one.
func TileCount(start, end occupancy.Cell, size footprint.Vec2i) footprint.Vec2i {
	return footprint.Vec2i{
		X: tiles(abs(end.X-start.X), size.X),
		Y: tiles(abs(end.Z-start.Z), size.Y),
	}
}

func tiles(span, size int) int {
	if size <= 0 {
		return 1
	}
	n := span / size
	if span%size != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// reach bounds the steps of length size that can still touch a grid of n
// cells along one axis.
func reach(n, size int) int {
	if size <= 0 {
		size = 1
	}
	return n/size + 2
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func dir(from, to int) int {
	if from <= to {
		return 1
	}
	return -1
}

// CanStart runs every StartValidator among validators.
func CanStart(g *occupancy.Grid, buildingID string, validators []Validator) bool {
	for _, v := range validators {
		if sv, ok := v.(StartValidator); ok && !sv.CanStart(g, buildingID) {
			return false
		}
	}
	return true
}

// PlanDrag enumerates tiles from start toward end in steps of the view's
// rotated size. Tiling always runs forward from start; dragging backward only
// flips the step direction, never the footprint.
func PlanDrag(g *occupancy.Grid, view *footprint.View, buildingID string, start, end occupancy.Cell, opts Options) Plan {
	size := view.Size()
	center := view.Center()
	count := TileCount(start, end, size)
	dx, dz := dir(start.X, end.X), dir(start.Z, end.Z)

	p := Plan{
		Start:      start,
		End:        end,
		BuildingID: buildingID,
		Rotation:   view.Rotation(),
		TileCount:  count,
		Epoch:      g.Epoch(),
	}
	if !CanStart(g, buildingID, opts.Validators) {
		return p
	}

	// From a start inside the grid, every tile past reach() steps lies wholly
	// outside it, so those are never enumerated.
	span := count
	if g.IsInside(start) {
		span.X = min(span.X, reach(g.Size(), size.X))
		span.Y = min(span.Y, reach(g.Size(), size.Y))
		p.Truncated = span != count
	}
	total := math.MaxInt
	if span.X <= math.MaxInt/span.Y {
		total = span.X * span.Y
	}
	if opts.MaxTiles > 0 && total > opts.MaxTiles {
		total = opts.MaxTiles
		p.Truncated = true
	}
	p.Anchors = make([]occupancy.Cell, 0, min(total, maxPrealloc))
	candidates := make([]occupancy.Cell, 0, min(total, maxPrealloc))

enumerate:
	for ix := 0; ix < span.X; ix++ {
		for iz := 0; iz < span.Y; iz++ {
			if len(p.Anchors) == total {
				break enumerate
			}
			anchor := occupancy.Cell{
				X: start.X + dx*ix*size.X + center.X,
				Z: start.Z + dz*iz*size.Y + center.Y,
			}
			p.Anchors = append(p.Anchors, anchor)
			if g.CanPlace(anchor, view) {
				candidates = append(candidates, anchor)
			}
		}
	}

	for _, v := range opts.Validators {
		candidates = v.Validate(candidates, g, buildingID)
	}
	p.Candidates = candidates
	return p
}
