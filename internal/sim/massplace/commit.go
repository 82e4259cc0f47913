package massplace

import (
	"errors"
	"fmt"

	"github.com/zyedidia/generic/mapset"

	"gridbuild.dev/internal/sim/footprint"
	"gridbuild.dev/internal/sim/occupancy"
)

// ErrStalePlan is returned when the grid was resized after the plan was made.
var ErrStalePlan = errors.New("massplace: plan is stale")

type Result struct {
	Placed  []occupancy.Record
	Skipped []occupancy.Cell
}

// Commit places every candidate of p in order. Each anchor is checked again
// right before placing; anchors that no longer fit are skipped and never abort
// the batch. With opts.DryRun the grid is not touched and Placed holds the
// records that would have been created, all with a zero Handle.
func Commit(g *occupancy.Grid, view *footprint.View, p Plan, opts Options) (Result, error) {
	if p.Epoch != g.Epoch() {
		return Result{}, fmt.Errorf("%w: planned at epoch %d, grid at %d", ErrStalePlan, p.Epoch, g.Epoch())
	}
	if view.Rotation() != p.Rotation {
		view = footprint.NewView(view.Template(), p.Rotation)
	}

	var res Result
	seen := mapset.New[occupancy.Cell]()
	for _, anchor := range p.Candidates {
		if seen.Has(anchor) {
			res.Skipped = append(res.Skipped, anchor)
			continue
		}
		seen.Put(anchor)

		if opts.DryRun {
			if g.CanPlace(anchor, view) {
				res.Placed = append(res.Placed, occupancy.Record{
					Anchor:     anchor,
					Rotation:   view.Rotation(),
					Template:   view.Template(),
					BuildingID: p.BuildingID,
				})
			} else {
				res.Skipped = append(res.Skipped, anchor)
			}
			continue
		}

		rec, err := g.Place(anchor, view, p.BuildingID)
		if err != nil {
			res.Skipped = append(res.Skipped, anchor)
			continue
		}
		res.Placed = append(res.Placed, rec)
	}
	return res, nil
}
