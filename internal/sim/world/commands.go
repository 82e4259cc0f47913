package world

import (
	"errors"
	"fmt"

	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/builder"
	"gridbuild.dev/internal/sim/footprint"
	"gridbuild.dev/internal/sim/massplace"
	"gridbuild.dev/internal/sim/occupancy"
)

// cmdError carries a protocol code for rejections decided by the router.
type cmdError struct {
	code string
	msg  string
}

func (e *cmdError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &cmdError{code: protocol.ErrBadRequest, msg: fmt.Sprintf(format, args...)}
}

func (w *World) applyCommand(cl *clientState, cmd protocol.CmdMsg, nowTick uint64) protocol.AckMsg {
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          cmd.Seq,
		ServerTick:      nowTick,
	}
	w.actor = cl.ID
	defer func() { w.actor = "" }()

	err := w.dispatch(cl, cmd, nowTick, &ack)
	if err != nil {
		ack.Accepted = false
		ack.Code = w.codeFor(err)
		ack.Message = err.Error()
		w.rejectTotal++
		return ack
	}
	ack.Accepted = true
	return ack
}

func (w *World) dispatch(cl *clientState, cmd protocol.CmdMsg, nowTick uint64, ack *protocol.AckMsg) error {
	if cmd.ProtocolVersion != "" && cmd.ProtocolVersion != protocol.Version {
		return &cmdError{code: protocol.ErrProtoBadRequest, msg: "unsupported protocol_version"}
	}
	s := cl.Session
	switch cmd.Op {
	case protocol.OpStart:
		mode, ok := builder.ParseState(cmd.Mode)
		if !ok {
			return badRequest("unknown mode %q", cmd.Mode)
		}
		_, err := s.Apply(builder.Start{Mode: mode, BuildingID: cmd.BuildingID})
		return err

	case protocol.OpHover:
		var p *occupancy.Point
		if cmd.Point != nil {
			p = &occupancy.Point{X: cmd.Point[0], Y: cmd.Point[1], Z: cmd.Point[2]}
		}
		_, err := s.Apply(builder.Hover{Point: p})
		return err

	case protocol.OpPress:
		_, err := s.Apply(builder.Press{})
		return err

	case protocol.OpConfirm:
		if err := w.confirmAllowed(cl, nowTick); err != nil {
			return err
		}
		out, err := s.Apply(builder.Confirm{})
		fillOutcome(ack, out)
		return err

	case protocol.OpCancel:
		_, err := s.Apply(builder.Cancel{})
		return err

	case protocol.OpRotate:
		if cmd.RotateDir == 0 {
			return badRequest("rotation_dir must be -1 or 1")
		}
		_, err := s.Apply(builder.Rotate{Dir: cmd.RotateDir})
		return err

	case protocol.OpPlace:
		return w.cmdPlace(cl, cmd, nowTick, ack)
	case protocol.OpRemove:
		return w.cmdRemove(cl, cmd, ack)
	case protocol.OpCanPlace:
		return w.cmdCanPlace(cmd, ack)
	case protocol.OpMassPlan:
		return w.cmdMass(cl, cmd, nowTick, ack, false)
	case protocol.OpMassCommit:
		return w.cmdMass(cl, cmd, nowTick, ack, true)
	default:
		return badRequest("unknown op %q", cmd.Op)
	}
}

func (w *World) confirmAllowed(cl *clientState, nowTick uint64) error {
	rl := w.cfg.RateLimits
	switch cl.Session.State() {
	case builder.SinglePlacing:
		return w.rateLimit(cl, "place", nowTick, rl.PlaceWindowTicks, rl.PlaceMax)
	case builder.MassSelecting:
		if cl.Session.Dragging() {
			return w.rateLimit(cl, "mass_commit", nowTick, rl.MassCommitWindowTicks, rl.MassCommitMax)
		}
	}
	return nil
}

func (w *World) rateLimit(cl *clientState, kind string, nowTick uint64, window, max int) error {
	ok, cooldown := cl.allow(kind, nowTick, window, max)
	if ok {
		return nil
	}
	return &cmdError{code: protocol.ErrRateLimit, msg: fmt.Sprintf("%s rate limited, retry in %d ticks", kind, cooldown)}
}

// viewFor resolves a fresh view for the direct ops, which never touch the
// session's own view.
func (w *World) viewFor(cmd protocol.CmdMsg) (*footprint.View, error) {
	tpl, ok := w.catalogs.Template(cmd.BuildingID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", builder.ErrUnknownBuilding, cmd.BuildingID)
	}
	return footprint.NewView(tpl, cmd.Rotation), nil
}

func cellOf(c *[2]int, field string) (occupancy.Cell, error) {
	if c == nil {
		return occupancy.Cell{}, badRequest("missing %s", field)
	}
	return occupancy.Cell{X: c[0], Z: c[1]}, nil
}

func (w *World) cmdPlace(cl *clientState, cmd protocol.CmdMsg, nowTick uint64, ack *protocol.AckMsg) error {
	view, err := w.viewFor(cmd)
	if err != nil {
		return err
	}
	anchor, err := cellOf(cmd.Cell, "cell")
	if err != nil {
		return err
	}
	rl := w.cfg.RateLimits
	if err := w.rateLimit(cl, "place", nowTick, rl.PlaceWindowTicks, rl.PlaceMax); err != nil {
		return err
	}
	rec, err := w.grid.Place(anchor, view, cmd.BuildingID)
	if err != nil {
		return err
	}
	cl.OnPlaced(rec)
	ack.Placed = append(ack.Placed, placedRef(rec))
	return nil
}

// cmdRemove accepts a handle or a cell. Removing something that is already
// gone is accepted with an empty Removed list.
func (w *World) cmdRemove(cl *clientState, cmd protocol.CmdMsg, ack *protocol.AckMsg) error {
	h := occupancy.Handle(cmd.Handle)
	if h == 0 {
		c, err := cellOf(cmd.Cell, "handle or cell")
		if err != nil {
			return err
		}
		var ok bool
		if h, ok = w.grid.OccupantAt(c); !ok {
			return nil
		}
	}
	if w.grid.Remove(h) {
		cl.OnRemoved(h)
		ack.Removed = append(ack.Removed, uint64(h))
	}
	return nil
}

func (w *World) cmdCanPlace(cmd protocol.CmdMsg, ack *protocol.AckMsg) error {
	view, err := w.viewFor(cmd)
	if err != nil {
		return err
	}
	anchor, err := cellOf(cmd.Cell, "cell")
	if err != nil {
		return err
	}
	valid := w.grid.CanPlace(anchor, view)
	ack.Valid = &valid
	return nil
}

func (w *World) cmdMass(cl *clientState, cmd protocol.CmdMsg, nowTick uint64, ack *protocol.AckMsg, commit bool) error {
	view, err := w.viewFor(cmd)
	if err != nil {
		return err
	}
	start, err := cellOf(cmd.Cell, "cell")
	if err != nil {
		return err
	}
	end, err := cellOf(cmd.EndCell, "end_cell")
	if err != nil {
		return err
	}
	if !w.grid.IsInside(start) {
		return fmt.Errorf("%w: drag start %d,%d", builder.ErrNoCursor, start.X, start.Z)
	}
	if !w.grid.IsInside(end) {
		return fmt.Errorf("%w: drag end %d,%d", builder.ErrNoCursor, end.X, end.Z)
	}
	opts := massplace.Options{MaxTiles: w.cfg.MassMaxTiles, DryRun: cmd.DryRun}
	if !massplace.CanStart(w.grid, cmd.BuildingID, opts.Validators) {
		return builder.ErrStartRejected
	}
	plan := massplace.PlanDrag(w.grid, view, cmd.BuildingID, start, end, opts)
	ack.Tiles = cellPairs(plan.Anchors)
	ack.Candidates = cellPairs(plan.Candidates)
	if !commit {
		return nil
	}
	if !cmd.DryRun {
		rl := w.cfg.RateLimits
		if err := w.rateLimit(cl, "mass_commit", nowTick, rl.MassCommitWindowTicks, rl.MassCommitMax); err != nil {
			return err
		}
	}
	res, err := massplace.Commit(w.grid, view, plan, opts)
	if err != nil {
		return err
	}
	for _, rec := range res.Placed {
		if !cmd.DryRun {
			cl.OnPlaced(rec)
		}
		ack.Placed = append(ack.Placed, placedRef(rec))
	}
	ack.Skipped = cellPairs(res.Skipped)
	return nil
}

func fillOutcome(ack *protocol.AckMsg, out builder.Outcome) {
	for _, rec := range out.Placed {
		ack.Placed = append(ack.Placed, placedRef(rec))
	}
	for _, h := range out.Removed {
		ack.Removed = append(ack.Removed, uint64(h))
	}
	ack.Skipped = cellPairs(out.Skipped)
}

func (w *World) codeFor(err error) string {
	var ce *cmdError
	var ie *footprint.IndexError
	switch {
	case errors.As(err, &ce):
		return ce.code
	case errors.Is(err, occupancy.ErrBlocked):
		return protocol.ErrBlocked
	case errors.Is(err, occupancy.ErrOutOfBounds):
		return protocol.ErrOutOfBounds
	case errors.Is(err, massplace.ErrStalePlan):
		return protocol.ErrStale
	case errors.Is(err, builder.ErrUnknownBuilding):
		return protocol.ErrUnknownBuilding
	case errors.Is(err, builder.ErrNoCursor), errors.Is(err, builder.ErrStartRejected):
		return protocol.ErrInvalidTarget
	case errors.Is(err, occupancy.ErrBadConfig), errors.Is(err, builder.ErrUnknownEvent):
		return protocol.ErrBadRequest
	case errors.As(err, &ie):
		w.log.Printf("footprint index error: rot=%d local=%v template=%v size=%v", ie.Rotation, ie.Local, ie.Template, ie.Size)
		return protocol.ErrInternal
	default:
		w.log.Printf("command error: %v", err)
		return protocol.ErrInternal
	}
}
