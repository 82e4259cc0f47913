package main

import (
	"fmt"
	"io"
	"strings"

	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/footprint"
	"gridbuild.dev/internal/sim/massplace"
	"gridbuild.dev/internal/sim/occupancy"
	"gridbuild.dev/internal/sim/world"
)

type planOpts struct {
	ConfigDir  string
	Snapshot   string
	GridSize   int
	BuildingID string
	Rotation   int
	From       []int
	To         []int
	MaxTiles   int
	Map        bool
}

// mapLimit keeps --map output readable.
const mapLimit = 96

func runPlan(out io.Writer, o planOpts) error {
	if len(o.From) != 2 || len(o.To) != 2 {
		return fmt.Errorf("--from and --to take two values: x,z")
	}
	cats, err := catalogs.Load(o.ConfigDir)
	if err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}
	tpl, ok := cats.Template(o.BuildingID)
	if !ok {
		return fmt.Errorf("unknown building %q", o.BuildingID)
	}
	g, err := loadGrid(cats, o.Snapshot, o.GridSize)
	if err != nil {
		return err
	}

	view := footprint.NewView(tpl, o.Rotation)
	start := occupancy.Cell{X: o.From[0], Z: o.From[1]}
	end := occupancy.Cell{X: o.To[0], Z: o.To[1]}
	if !g.IsInside(start) {
		return fmt.Errorf("start cell (%d,%d) is outside the %dx%d grid", start.X, start.Z, g.Size(), g.Size())
	}
	p := massplace.PlanDrag(g, view, o.BuildingID, start, end, massplace.Options{MaxTiles: o.MaxTiles})

	size := view.Size()
	fmt.Fprintf(out, "building=%s rotation=%d footprint=%dx%d grid=%d placements=%d\n",
		o.BuildingID, view.Rotation(), size.X, size.Y, g.Size(), g.Len())
	fmt.Fprintf(out, "drag (%d,%d) -> (%d,%d): tiles=%dx%d anchors=%d candidates=%d",
		start.X, start.Z, end.X, end.Z, p.TileCount.X, p.TileCount.Y, len(p.Anchors), len(p.Candidates))
	if p.Truncated {
		fmt.Fprint(out, " (truncated)")
	}
	fmt.Fprintln(out)
	for _, a := range p.Candidates {
		fmt.Fprintf(out, "  anchor (%d,%d)\n", a.X, a.Z)
	}

	if o.Map {
		if g.Size() > mapLimit {
			fmt.Fprintf(out, "grid larger than %d; map skipped\n", mapLimit)
			return nil
		}
		fmt.Fprint(out, renderPlan(g, view, p))
	}
	return nil
}

func loadGrid(cats *catalogs.Catalogs, snapPath string, size int) (*occupancy.Grid, error) {
	if snapPath == "" {
		return occupancy.New(occupancy.Config{Size: size, CellSize: 1})
	}
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	w, err := world.New(world.WorldConfig{ID: snap.Header.WorldID, GridSize: snap.GridSize, CellSize: snap.CellSize, Origin: snap.Origin}, cats)
	if err != nil {
		return nil, err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	return w.Grid(), nil
}

// renderPlan draws the grid with z growing downward: '#' blocked, 'o' a cell
// the plan would fill, '!' an enumerated tile that does not fit, '.' free.
func renderPlan(g *occupancy.Grid, view *footprint.View, p massplace.Plan) string {
	n := g.Size()
	marks := make([]byte, n*n)
	for i := range marks {
		marks[i] = '.'
	}
	set := func(c occupancy.Cell, b byte) {
		if g.IsInside(c) {
			marks[c.X+c.Z*n] = b
		}
	}
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			if c := (occupancy.Cell{X: x, Z: z}); !g.CellFree(c) {
				set(c, '#')
			}
		}
	}
	ok := map[occupancy.Cell]bool{}
	for _, a := range p.Candidates {
		ok[a] = true
	}
	for _, a := range p.Anchors {
		mark := byte('!')
		if ok[a] {
			mark = 'o'
		}
		for _, off := range view.Cells() {
			c := a.Offset(off)
			if mark == '!' && g.IsInside(c) && !g.CellFree(c) {
				continue
			}
			set(c, mark)
		}
	}

	var b strings.Builder
	for z := 0; z < n; z++ {
		b.Write(marks[z*n : (z+1)*n])
		b.WriteByte('\n')
	}
	return b.String()
}
