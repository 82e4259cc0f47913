// Package builder drives interactive placement as an explicit state machine:
// Idle, SinglePlacing, MassSelecting and Destroying. Input arrives as Event
// values; rendering is reached only through the Previewer interface.
package builder

import (
	"errors"
	"fmt"

	"gridbuild.dev/internal/sim/footprint"
	"gridbuild.dev/internal/sim/massplace"
	"gridbuild.dev/internal/sim/occupancy"
)

var (
	ErrUnknownBuilding = errors.New("builder: unknown building")
	ErrNoCursor        = errors.New("builder: cursor is not on the grid")
	ErrStartRejected   = errors.New("builder: drag rejected by validator")
	ErrUnknownEvent    = errors.New("builder: unknown event")
)

// Catalog resolves building ids to their shared templates.
type Catalog interface {
	Template(buildingID string) (*footprint.Template, bool)
}

// Picker finds the building under a world point in Destroying mode.
type Picker interface {
	Pick(p occupancy.Point) (occupancy.Handle, bool)
}

type Preview struct {
	BuildingID string
	Anchor     occupancy.Cell
	World      occupancy.Point
	Rotation   int
	Valid      bool
}

type TilePreview struct {
	BuildingID string
	Rotation   int
	Start      occupancy.Cell
	End        occupancy.Cell
	Anchors    []occupancy.Cell
	Candidates []occupancy.Cell
}

type Previewer interface {
	ShowSingle(p Preview)
	ShowTiles(t TilePreview)
	Highlight(h occupancy.Handle, on bool)
	Clear()
}

type Listener interface {
	OnPlaced(rec occupancy.Record)
	OnRemoved(h occupancy.Handle)
}

// Outcome reports what a single Apply changed on the grid.
type Outcome struct {
	Placed  []occupancy.Record
	Removed []occupancy.Handle
	Skipped []occupancy.Cell
}

type Config struct {
	Previewer Previewer
	Listener  Listener
	Picker    Picker
	Mass      massplace.Options
}

type Session struct {
	grid    *occupancy.Grid
	catalog Catalog
	cfg     Config

	state      State
	buildingID string
	view       *footprint.View
	rotation   int

	cursor    occupancy.Cell
	point     occupancy.Point
	hasCursor bool

	dragging  bool
	dragStart occupancy.Cell
	dragEnd   occupancy.Cell
	plan      massplace.Plan

	target    occupancy.Handle
	hasTarget bool
}

func New(g *occupancy.Grid, catalog Catalog, cfg Config) *Session {
	if cfg.Previewer == nil {
		cfg.Previewer = nopPreviewer{}
	}
	if cfg.Listener == nil {
		cfg.Listener = nopListener{}
	}
	return &Session{grid: g, catalog: catalog, cfg: cfg}
}

func (s *Session) State() State                  { return s.state }
func (s *Session) BuildingID() string            { return s.buildingID }
func (s *Session) Dragging() bool                { return s.dragging }
func (s *Session) Plan() massplace.Plan          { return s.plan }
func (s *Session) Rotation() int                 { return s.rotation }
func (s *Session) Cursor() (occupancy.Cell, bool) { return s.cursor, s.hasCursor }

// Target is the building currently highlighted in Destroying mode.
func (s *Session) Target() (occupancy.Handle, bool) { return s.target, s.hasTarget }

// Apply feeds one event through the state machine. Errors leave the session
// in a consistent state; the caller decides whether to surface them.
func (s *Session) Apply(ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case Start:
		return Outcome{}, s.start(e)
	case Hover:
		s.hover(e.Point)
		return Outcome{}, nil
	case Press:
		return Outcome{}, s.press()
	case Confirm:
		return s.confirm()
	case Cancel:
		return Outcome{}, s.start(Start{Mode: Idle})
	case Rotate:
		s.rotate(e.Dir)
		return Outcome{}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

func (s *Session) start(e Start) error {
	s.cancelAction()
	s.state = Idle
	s.buildingID = ""
	s.view = nil

	switch e.Mode {
	case Idle:
		return nil
	case Destroying:
		s.state = Destroying
	case SinglePlacing, MassSelecting:
		tpl, ok := s.catalog.Template(e.BuildingID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownBuilding, e.BuildingID)
		}
		s.state = e.Mode
		s.buildingID = e.BuildingID
		s.view = footprint.NewView(tpl, s.rotation)
	default:
		return fmt.Errorf("builder: bad mode %d", e.Mode)
	}
	s.refresh()
	return nil
}

// cancelAction drops any drag, target or preview without leaving the mode.
func (s *Session) cancelAction() {
	s.dragging = false
	s.plan = massplace.Plan{}
	if s.hasTarget {
		s.cfg.Previewer.Highlight(s.target, false)
	}
	s.target, s.hasTarget = 0, false
	s.cfg.Previewer.Clear()
}

// hover treats a point CellAt cannot map (NaN, infinite, absurdly far) like a
// pointer over UI: no cursor.
func (s *Session) hover(p *occupancy.Point) {
	c, ok := occupancy.Cell{}, false
	if p != nil {
		c, ok = s.grid.CellAt(*p)
	}
	if !ok {
		s.hasCursor = false
	} else {
		s.point = *p
		s.cursor = c
		s.hasCursor = true
		if s.dragging && s.grid.IsInside(s.cursor) {
			s.dragEnd = s.cursor
		}
	}
	s.refresh()
}

// Refresh recomputes the preview against the current grid, e.g. after another
// client changed it.
func (s *Session) Refresh() { s.refresh() }

func (s *Session) refresh() {
	switch s.state {
	case SinglePlacing:
		s.showSingle()
	case MassSelecting:
		if s.dragging {
			s.replan()
			s.cfg.Previewer.ShowTiles(TilePreview{
				BuildingID: s.buildingID,
				Rotation:   s.view.Rotation(),
				Start:      s.plan.Start,
				End:        s.plan.End,
				Anchors:    s.plan.Anchors,
				Candidates: s.plan.Candidates,
			})
			return
		}
		s.showSingle()
	case Destroying:
		s.retarget()
	}
}

func (s *Session) showSingle() {
	if !s.hasCursor {
		s.cfg.Previewer.Clear()
		return
	}
	s.cfg.Previewer.ShowSingle(Preview{
		BuildingID: s.buildingID,
		Anchor:     s.cursor,
		World:      s.grid.CellWorldPosition(s.cursor),
		Rotation:   s.view.Rotation(),
		Valid:      s.grid.CanPlace(s.cursor, s.view),
	})
}

func (s *Session) retarget() {
	var h occupancy.Handle
	ok := false
	if s.hasCursor {
		if s.cfg.Picker != nil {
			h, ok = s.cfg.Picker.Pick(s.point)
		} else {
			h, ok = s.grid.OccupantAt(s.cursor)
		}
	}
	if s.hasTarget && (!ok || h != s.target) {
		s.cfg.Previewer.Highlight(s.target, false)
	}
	if ok && (!s.hasTarget || h != s.target) {
		s.cfg.Previewer.Highlight(h, true)
	}
	s.target, s.hasTarget = h, ok
}

func (s *Session) replan() {
	s.plan = massplace.PlanDrag(s.grid, s.view, s.buildingID, s.dragStart, s.dragEnd, s.cfg.Mass)
}

func (s *Session) press() error {
	if s.state != MassSelecting || s.dragging {
		return nil
	}
	if !s.hasCursor || !s.grid.IsInside(s.cursor) {
		return ErrNoCursor
	}
	if !massplace.CanStart(s.grid, s.buildingID, s.cfg.Mass.Validators) {
		return ErrStartRejected
	}
	s.dragging = true
	s.dragStart, s.dragEnd = s.cursor, s.cursor
	s.refresh()
	return nil
}

func (s *Session) confirm() (Outcome, error) {
	var out Outcome
	switch s.state {
	case SinglePlacing:
		if !s.hasCursor {
			return out, ErrNoCursor
		}
		rec, err := s.grid.Place(s.cursor, s.view, s.buildingID)
		if err != nil {
			return out, err
		}
		out.Placed = append(out.Placed, rec)
		s.cfg.Listener.OnPlaced(rec)
		s.refresh()
	case MassSelecting:
		if !s.dragging {
			return out, nil
		}
		s.replan()
		res, err := massplace.Commit(s.grid, s.view, s.plan, s.cfg.Mass)
		s.dragging = false
		s.plan = massplace.Plan{}
		if err != nil {
			s.refresh()
			return out, err
		}
		out.Placed, out.Skipped = res.Placed, res.Skipped
		if !s.cfg.Mass.DryRun {
			for _, rec := range res.Placed {
				s.cfg.Listener.OnPlaced(rec)
			}
		}
		s.refresh()
	case Destroying:
		if !s.hasTarget {
			return out, nil
		}
		h := s.target
		s.cfg.Previewer.Highlight(h, false)
		s.target, s.hasTarget = 0, false
		if s.grid.Remove(h) {
			out.Removed = append(out.Removed, h)
			s.cfg.Listener.OnRemoved(h)
		}
		s.refresh()
	}
	return out, nil
}

func (s *Session) rotate(dir int) {
	if s.view == nil {
		return
	}
	if dir < 0 {
		s.view.RotateLeft()
	} else {
		s.view.RotateRight()
	}
	s.rotation = s.view.Rotation()
	s.refresh()
}

// SetRotation is used by clients that send absolute rotations.
func (s *Session) SetRotation(r int) {
	s.rotation = footprint.NormalizeRotation(r)
	if s.view != nil {
		s.view.SetRotation(s.rotation)
		s.refresh()
	}
}

type nopPreviewer struct{}

func (nopPreviewer) ShowSingle(Preview)               {}
func (nopPreviewer) ShowTiles(TilePreview)            {}
func (nopPreviewer) Highlight(occupancy.Handle, bool) {}
func (nopPreviewer) Clear()                           {}

type nopListener struct{}

func (nopListener) OnPlaced(occupancy.Record)  {}
func (nopListener) OnRemoved(occupancy.Handle) {}
