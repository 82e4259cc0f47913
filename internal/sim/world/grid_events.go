package world

import (
	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/occupancy"
)

// onGridChange runs synchronously inside every grid mutation.
func (w *World) onGridChange(ch occupancy.Change) {
	nowTick := w.tick.Load()
	w.picker.apply(ch)

	action := ""
	switch ch.Kind {
	case occupancy.ChangePlaced:
		w.placedTotal++
		action = "PLACE"
	case occupancy.ChangeRemoved:
		w.removedTotal++
		action = "REMOVE"
	case occupancy.ChangeResized:
		w.resizeTotal++
		action = "RESIZE"
	}

	w.pendingEvents = append(w.pendingEvents, protocol.GridEventMsg{
		Type:            protocol.TypeGridEvent,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		Kind:            ch.Kind.String(),
		Handle:          uint64(ch.Handle),
		BuildingID:      ch.BuildingID,
		Anchor:          cellPair(ch.Anchor),
		Cells:           cellPairs(ch.Cells),
		Epoch:           w.grid.Epoch(),
		GridSize:        w.grid.Size(),
	})

	if w.auditLogger == nil {
		return
	}
	actor := w.actor
	if actor == "" {
		actor = "WORLD"
	}
	if err := w.auditLogger.WriteAudit(AuditEntry{
		Tick:       nowTick,
		Actor:      actor,
		Action:     action,
		Handle:     uint64(ch.Handle),
		BuildingID: ch.BuildingID,
		Anchor:     cellPair(ch.Anchor),
		Rotation:   ch.Rotation,
		Cells:      len(ch.Cells),
		Epoch:      w.grid.Epoch(),
	}); err != nil {
		w.log.Printf("audit write: %v", err)
	}
}

func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }

func placedRef(rec occupancy.Record) protocol.PlacedRef {
	return protocol.PlacedRef{
		Handle:     uint64(rec.Handle),
		BuildingID: rec.BuildingID,
		Anchor:     cellPair(rec.Anchor),
		Rotation:   rec.Rotation,
	}
}

func buildingInfo(b catalogs.Building) protocol.BuildingInfo {
	info := protocol.BuildingInfo{
		ID:     b.ID,
		Name:   b.Name,
		Rows:   b.Template.Rows(),
		Center: [2]int{b.Template.DefaultCenter.X, b.Template.DefaultCenter.Y},
	}
	if b.HasBounds {
		for rot := 0; rot < 4; rot++ {
			bb := b.Bounds.At(rot)
			info.Bounds = append(info.Bounds, [2][3]float64{bb.Min, bb.Max})
		}
	}
	return info
}
