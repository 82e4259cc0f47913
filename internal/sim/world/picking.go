package world

import (
	"math"

	"github.com/dhconnelly/rtreego"

	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/occupancy"
)

// pickEntry is the x/z footprint of one building's visual bounds.
type pickEntry struct {
	handle occupancy.Handle
	rect   rtreego.Rect
	area   float64
}

func (e *pickEntry) Bounds() rtreego.Rect { return e.rect }

// boundsIndex resolves a world point to the building whose model covers it.
// Buildings without declared bounds are found through the occupancy grid.
type boundsIndex struct {
	grid     *occupancy.Grid
	cats     *catalogs.Catalogs
	tree     *rtreego.Rtree
	byHandle map[occupancy.Handle]*pickEntry
}

const pickTolerance = 1e-6

func newBoundsIndex(g *occupancy.Grid, cats *catalogs.Catalogs) *boundsIndex {
	b := &boundsIndex{grid: g, cats: cats}
	b.reset()
	for _, rec := range g.Records() {
		b.insert(rec)
	}
	return b
}

func (b *boundsIndex) reset() {
	b.tree = rtreego.NewTree(2, 8, 32)
	b.byHandle = map[occupancy.Handle]*pickEntry{}
}

func (b *boundsIndex) Len() int {
	if b == nil {
		return 0
	}
	return len(b.byHandle)
}

func (b *boundsIndex) apply(ch occupancy.Change) {
	switch ch.Kind {
	case occupancy.ChangePlaced:
		if rec, ok := b.grid.Lookup(ch.Handle); ok {
			b.insert(rec)
		}
	case occupancy.ChangeRemoved:
		b.remove(ch.Handle)
	case occupancy.ChangeResized:
		b.reset()
	}
}

func (b *boundsIndex) insert(rec occupancy.Record) {
	bld, ok := b.cats.Building(rec.BuildingID)
	if !ok || !bld.HasBounds {
		return
	}
	bb := bld.Bounds.At(rec.Rotation)
	base := b.grid.CellWorldPosition(rec.Anchor)
	dx := math.Max(bb.Max[0]-bb.Min[0], pickTolerance)
	dz := math.Max(bb.Max[2]-bb.Min[2], pickTolerance)
	rect, err := rtreego.NewRect(rtreego.Point{base.X + bb.Min[0], base.Z + bb.Min[2]}, []float64{dx, dz})
	if err != nil {
		return
	}
	b.remove(rec.Handle)
	e := &pickEntry{handle: rec.Handle, rect: rect, area: dx * dz}
	b.tree.Insert(e)
	b.byHandle[rec.Handle] = e
}

func (b *boundsIndex) remove(h occupancy.Handle) {
	e, ok := b.byHandle[h]
	if !ok {
		return
	}
	b.tree.Delete(e)
	delete(b.byHandle, h)
}

// Pick prefers the smallest box containing p, then the oldest handle. When no
// box matches it falls back to whatever occupies the cell under p.
func (b *boundsIndex) Pick(p occupancy.Point) (occupancy.Handle, bool) {
	var best *pickEntry
	for _, s := range b.tree.SearchIntersect(rtreego.Point{p.X, p.Z}.ToRect(pickTolerance)) {
		e := s.(*pickEntry)
		if best == nil || e.area < best.area || (e.area == best.area && e.handle < best.handle) {
			best = e
		}
	}
	if best != nil {
		return best.handle, true
	}
	return b.grid.OccupantAt(b.grid.CellOfWorldPoint(p))
}
