package occupancy

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/boljen/go-bitmap"

	"gridbuild.dev/internal/sim/encoding"
	"gridbuild.dev/internal/sim/footprint"
)

// Grid is the authoritative cell occupancy for one square build area.
//
// Grid is not safe for concurrent use; the world loop owns it.
type Grid struct {
	size     int
	maxSize  int
	cellSize float64
	origin   Point

	blocked bitmap.Bitmap
	records map[Handle]*Record
	order   []Handle

	nextHandle Handle
	epoch      uint64

	listeners []listener
	nextSub   int
}

type listener struct {
	id int
	fn func(Change)
}

func New(cfg Config) (*Grid, error) {
	if cfg.MaxSize < 0 || cfg.MaxSize > MaxSize {
		return nil, fmt.Errorf("%w: max size %d outside 0..%d", ErrBadConfig, cfg.MaxSize, MaxSize)
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = MaxSize
	}
	if err := checkSize(cfg.Size, cfg.MaxSize); err != nil {
		return nil, err
	}
	if !(cfg.CellSize > 0) || math.IsInf(cfg.CellSize, 0) {
		return nil, fmt.Errorf("%w: cell size %v", ErrBadConfig, cfg.CellSize)
	}
	if !finite(cfg.Origin) {
		return nil, fmt.Errorf("%w: origin %v", ErrBadConfig, cfg.Origin)
	}
	return &Grid{
		size:       cfg.Size,
		maxSize:    cfg.MaxSize,
		cellSize:   cfg.CellSize,
		origin:     cfg.Origin,
		blocked:    bitmap.New(cfg.Size * cfg.Size),
		records:    map[Handle]*Record{},
		nextHandle: 1,
	}, nil
}

func checkSize(n, limit int) error {
	if n <= 0 || n > limit {
		return fmt.Errorf("%w: size %d outside 1..%d", ErrBadConfig, n, limit)
	}
	return nil
}

func (g *Grid) Size() int         { return g.size }
func (g *Grid) CellSize() float64 { return g.cellSize }
func (g *Grid) Origin() Point     { return g.origin }

// Epoch increases on every Resize. Plans built against an older epoch are
// stale.
func (g *Grid) Epoch() uint64 { return g.epoch }

func (g *Grid) Config() Config {
	return Config{Size: g.size, CellSize: g.cellSize, Origin: g.origin, MaxSize: g.maxSize}
}

func (g *Grid) IsInside(c Cell) bool {
	return c.X >= 0 && c.Z >= 0 && c.X < g.size && c.Z < g.size
}

func (g *Grid) index(c Cell) int { return c.X + c.Z*g.size }

// CellFree reports whether a single cell is inside the grid and unblocked.
func (g *Grid) CellFree(c Cell) bool {
	return g.IsInside(c) && !g.blocked.Get(g.index(c))
}

// Check explains why a footprint cannot be placed at anchor, or returns nil.
// The first failing cell in Min..Max order decides the error.
func (g *Grid) Check(anchor Cell, view *footprint.View) error {
	lo, hi := view.Min(), view.Max()
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			off := footprint.Vec2i{X: x, Y: y}
			if !view.Covers(off) {
				continue
			}
			c := anchor.Offset(off)
			if !g.IsInside(c) {
				return fmt.Errorf("%w: cell (%d,%d)", ErrOutOfBounds, c.X, c.Z)
			}
			if g.blocked.Get(g.index(c)) {
				return fmt.Errorf("%w: cell (%d,%d)", ErrBlocked, c.X, c.Z)
			}
		}
	}
	return nil
}

func (g *Grid) CanPlace(anchor Cell, view *footprint.View) bool {
	return g.Check(anchor, view) == nil
}

func (g *Grid) CanPlaceAt(p Point, view *footprint.View) bool {
	c, ok := g.CellAt(p)
	return ok && g.CanPlace(c, view)
}

// Place blocks every cell the view covers at anchor and records the
// placement. It never overwrites: a failed check leaves the grid unchanged.
func (g *Grid) Place(anchor Cell, view *footprint.View, buildingID string) (Record, error) {
	if err := g.Check(anchor, view); err != nil {
		return Record{}, err
	}
	rec := &Record{
		Handle:     g.nextHandle,
		Anchor:     anchor,
		Rotation:   view.Rotation(),
		Template:   view.Template(),
		BuildingID: buildingID,
	}
	g.nextHandle++
	cells := g.commit(rec)
	g.notify(Change{Kind: ChangePlaced, Handle: rec.Handle, Anchor: anchor, Rotation: rec.Rotation, BuildingID: buildingID, Cells: cells})
	return *rec, nil
}

// TryPlace maps p to a cell and places there when possible.
func (g *Grid) TryPlace(p Point, view *footprint.View, buildingID string) (Record, bool) {
	c, ok := g.CellAt(p)
	if !ok {
		return Record{}, false
	}
	rec, err := g.Place(c, view, buildingID)
	return rec, err == nil
}

func (g *Grid) commit(rec *Record) []Cell {
	cells := rec.Cells()
	for _, c := range cells {
		g.blocked.Set(g.index(c), true)
	}
	g.records[rec.Handle] = rec
	g.order = append(g.order, rec.Handle)
	return cells
}

// Remove frees the cells of a placed building. Unknown handles are ignored
// and report false, so removing twice is the same as removing once.
func (g *Grid) Remove(h Handle) bool {
	rec, ok := g.records[h]
	if !ok {
		return false
	}
	cells := rec.Cells()
	for _, c := range cells {
		if g.IsInside(c) {
			g.blocked.Set(g.index(c), false)
		}
	}
	delete(g.records, h)
	for i, oh := range g.order {
		if oh == h {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.notify(Change{Kind: ChangeRemoved, Handle: h, Anchor: rec.Anchor, Rotation: rec.Rotation, BuildingID: rec.BuildingID, Cells: cells})
	return true
}

// CellOfWorldPoint floors toward negative infinity, so points just left of the
// origin map to cell -1 rather than 0. Points CellAt rejects map to a cell far
// outside the grid.
func (g *Grid) CellOfWorldPoint(p Point) Cell {
	c, ok := g.CellAt(p)
	if !ok {
		return Cell{X: math.MinInt32, Z: math.MinInt32}
	}
	return c
}

// cellLimit keeps float-to-int conversion well inside the int range.
const cellLimit = 1 << 40

// CellAt is CellOfWorldPoint for untrusted input: it reports false for NaN,
// infinite or absurdly distant points instead of mapping them to a cell.
func (g *Grid) CellAt(p Point) (Cell, bool) {
	if !finite(p) {
		return Cell{}, false
	}
	fx := math.Floor((p.X - g.origin.X) / g.cellSize)
	fz := math.Floor((p.Z - g.origin.Z) / g.cellSize)
	if math.Abs(fx) > cellLimit || math.Abs(fz) > cellLimit {
		return Cell{}, false
	}
	return Cell{X: int(fx), Z: int(fz)}, true
}

func finite(p Point) bool {
	for _, v := range [...]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (g *Grid) CellWorldPosition(c Cell) Point {
	return Point{
		X: g.origin.X + float64(c.X)*g.cellSize,
		Y: g.origin.Y,
		Z: g.origin.Z + float64(c.Z)*g.cellSize,
	}
}

// Resize drops every placement and reallocates an all-free n*n grid. Sizes
// above the configured maximum are rejected and leave the grid untouched.
func (g *Grid) Resize(n int) error {
	if err := checkSize(n, g.maxSize); err != nil {
		return err
	}
	g.size = n
	g.blocked = bitmap.New(n * n)
	g.records = map[Handle]*Record{}
	g.order = nil
	g.epoch++
	g.notify(Change{Kind: ChangeResized})
	return nil
}

func (g *Grid) Lookup(h Handle) (Record, bool) {
	rec, ok := g.records[h]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (g *Grid) Len() int { return len(g.order) }

// Records lists live placements in placement order.
func (g *Grid) Records() []Record {
	out := make([]Record, 0, len(g.order))
	for _, h := range g.order {
		out = append(out, *g.records[h])
	}
	return out
}

// OccupantAt finds the placement covering c.
func (g *Grid) OccupantAt(c Cell) (Handle, bool) {
	if g.IsInside(c) && g.blocked.Get(g.index(c)) {
		for _, h := range g.order {
			rec := g.records[h]
			off := footprint.Vec2i{X: c.X - rec.Anchor.X, Y: c.Z - rec.Anchor.Z}
			if rec.View().Covers(off) {
				return h, true
			}
		}
	}
	return 0, false
}

// Subscribe registers fn to run after every mutation, in subscription order.
func (g *Grid) Subscribe(fn func(Change)) (unsubscribe func()) {
	g.nextSub++
	id := g.nextSub
	g.listeners = append(g.listeners, listener{id: id, fn: fn})
	return func() {
		for i, l := range g.listeners {
			if l.id == id {
				g.listeners = append(g.listeners[:i:i], g.listeners[i+1:]...)
				return
			}
		}
	}
}

func (g *Grid) notify(ch Change) {
	for _, l := range g.listeners {
		l.fn(ch)
	}
}

// Restore re-inserts a record with its original handle, as read back from a
// snapshot. Overlapping or duplicate records are rejected.
func (g *Grid) Restore(rec Record) error {
	if rec.Handle == 0 {
		return fmt.Errorf("occupancy: restore with zero handle")
	}
	if rec.Template == nil {
		return fmt.Errorf("occupancy: restore handle %d without template", rec.Handle)
	}
	if _, ok := g.records[rec.Handle]; ok {
		return fmt.Errorf("occupancy: handle %d already present", rec.Handle)
	}
	rec.Rotation = footprint.NormalizeRotation(rec.Rotation)
	if err := g.Check(rec.Anchor, rec.View()); err != nil {
		return fmt.Errorf("restore handle %d: %w", rec.Handle, err)
	}
	r := rec
	cells := g.commit(&r)
	if rec.Handle >= g.nextHandle {
		g.nextHandle = rec.Handle + 1
	}
	g.notify(Change{Kind: ChangePlaced, Handle: r.Handle, Anchor: r.Anchor, Rotation: r.Rotation, BuildingID: r.BuildingID, Cells: cells})
	return nil
}

func (g *Grid) NextHandle() Handle { return g.nextHandle }

// SetCounters is used by snapshot import to carry handle and epoch counters
// across restarts.
func (g *Grid) SetCounters(next Handle, epoch uint64) {
	if next > g.nextHandle {
		g.nextHandle = next
	}
	g.epoch = epoch
}

// BlockedBits returns the blocked flags in x + z*size order.
func (g *Grid) BlockedBits() []bool {
	n := g.size * g.size
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = g.blocked.Get(i)
	}
	return out
}

func (g *Grid) BlockedCount() int {
	n := 0
	for i := 0; i < g.size*g.size; i++ {
		if g.blocked.Get(i) {
			n++
		}
	}
	return n
}

// Digest hashes the grid size, blocked cells and the live records. Two grids
// with the same digest block the same cells for the same placements.
func (g *Grid) Digest() string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(g.size))
	h.Write(buf[:])
	h.Write([]byte(encoding.EncodeBitsRLE(g.BlockedBits())))

	hs := make([]Handle, 0, len(g.records))
	for k := range g.records {
		hs = append(hs, k)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	for _, k := range hs {
		rec := g.records[k]
		fmt.Fprintf(h, "|%d:%s@%d,%d r%d", rec.Handle, rec.BuildingID, rec.Anchor.X, rec.Anchor.Z, rec.Rotation)
	}
	return hex.EncodeToString(h.Sum(nil))
}
