package world

import (
	"fmt"
	"reflect"

	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/sim/builder"
	"gridbuild.dev/internal/sim/encoding"
	"gridbuild.dev/internal/sim/footprint"
	"gridbuild.dev/internal/sim/occupancy"
)

// SetSnapshotSink must be called before Run.
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	o := w.grid.Origin()
	recs := w.grid.Records()
	out := make([]snapshot.RecordV1, 0, len(recs))
	for _, rec := range recs {
		c := rec.Template.DefaultCenter
		out = append(out, snapshot.RecordV1{
			Handle:     uint64(rec.Handle),
			BuildingID: rec.BuildingID,
			Anchor:     cellPair(rec.Anchor),
			Rotation:   rec.Rotation,
			Rows:       rec.Template.Rows(),
			Center:     [2]int{c.X, c.Y},
		})
	}
	sessions := make([]snapshot.SessionV1, 0, len(w.joinOrder))
	for _, id := range w.joinOrder {
		cl := w.clients[id]
		sessions = append(sessions, snapshot.SessionV1{
			ID:         cl.ID,
			Name:       cl.Name,
			Mode:       cl.Session.State().String(),
			BuildingID: cl.Session.BuildingID(),
			Rotation:   cl.Session.Rotation(),
		})
	}
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
		},
		GridSize:           w.grid.Size(),
		CellSize:           w.grid.CellSize(),
		Origin:             [3]float64{o.X, o.Y, o.Z},
		TickRate:           w.cfg.TickRateHz,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		MassMaxTiles:       w.cfg.MassMaxTiles,
		CatalogDigest:      w.catalogs.Buildings.Digest,
		NextHandle:         uint64(w.grid.NextHandle()),
		Epoch:              w.grid.Epoch(),
		Records:            out,
		Sessions:           sessions,
		BlockedRLE:         encoding.EncodeBitsRLE(w.grid.BlockedBits()),
		Digest:             w.grid.Digest(),
	}
}

// ImportSnapshot replaces the grid with the snapshot's placements. It must be
// called while the world loop is not running. On error the world is left
// untouched.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	if s.CatalogDigest != "" && s.CatalogDigest != w.catalogs.Buildings.Digest {
		w.log.Printf("snapshot tick %d: building catalog changed since export; using stored footprints", s.Header.Tick)
	}
	g, err := occupancy.New(occupancy.Config{
		Size:     s.GridSize,
		CellSize: s.CellSize,
		Origin:   occupancy.Point{X: s.Origin[0], Y: s.Origin[1], Z: s.Origin[2]},
		MaxSize:  w.cfg.MaxGridSize,
	})
	if err != nil {
		return err
	}
	for _, r := range s.Records {
		tpl, err := w.snapshotTemplate(r)
		if err != nil {
			return fmt.Errorf("record %d: %w", r.Handle, err)
		}
		if err := g.Restore(occupancy.Record{
			Handle:     occupancy.Handle(r.Handle),
			Anchor:     occupancy.Cell{X: r.Anchor[0], Z: r.Anchor[1]},
			Rotation:   footprint.NormalizeRotation(r.Rotation),
			Template:   tpl,
			BuildingID: r.BuildingID,
		}); err != nil {
			return fmt.Errorf("record %d: %w", r.Handle, err)
		}
	}
	if s.NextHandle != 0 {
		g.SetCounters(occupancy.Handle(s.NextHandle), s.Epoch)
	}
	if s.BlockedRLE != "" {
		want, err := encoding.DecodeBitsRLE(s.BlockedRLE, s.GridSize*s.GridSize)
		if err != nil {
			return fmt.Errorf("blocked cells: %w", err)
		}
		if !reflect.DeepEqual(want, g.BlockedBits()) {
			return fmt.Errorf("blocked cells do not match restored placements")
		}
	}

	w.grid = g
	w.cfg.GridSize = s.GridSize
	w.cfg.CellSize = s.CellSize
	w.cfg.Origin = s.Origin
	w.picker = newBoundsIndex(g, w.catalogs)
	g.Subscribe(w.onGridChange)
	for _, id := range w.joinOrder {
		cl := w.clients[id]
		cl.Session = w.newSession(cl)
	}
	for _, ss := range s.Sessions {
		w.restoreSession(ss)
	}
	w.tick.Store(s.Header.Tick + 1)
	return nil
}

// restoreSession re-creates a client without a connection, so commands in a
// replayed tick log that follow the snapshot find their session.
func (w *World) restoreSession(ss snapshot.SessionV1) {
	cl := w.clients[ss.ID]
	if cl == nil {
		cl = &clientState{ID: ss.ID, rl: map[string]*rateWindow{}}
		cl.Preview = &clientPreviewer{w: w, cl: cl}
		cl.Session = w.newSession(cl)
		w.clients[ss.ID] = cl
		w.joinOrder = append(w.joinOrder, ss.ID)
	}
	cl.Name = ss.Name
	cl.Session.SetRotation(ss.Rotation)
	mode, ok := builder.ParseState(ss.Mode)
	if !ok || mode == builder.Idle {
		return
	}
	if _, err := cl.Session.Apply(builder.Start{Mode: mode, BuildingID: ss.BuildingID}); err != nil {
		w.log.Printf("restore session %s: %v", ss.ID, err)
	}
}

// DropDetachedSessions removes clients that have no connection, e.g. the
// ones restored from a snapshot when the server restarts.
func (w *World) DropDetachedSessions() int {
	var ids []string
	for _, id := range w.joinOrder {
		if w.clients[id].Out == nil {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		w.handleLeave(id)
	}
	return len(ids)
}

// snapshotTemplate shares the catalog template when the stored footprint
// still matches it, so catalog lookups and pointer identity keep working.
func (w *World) snapshotTemplate(r snapshot.RecordV1) (*footprint.Template, error) {
	if b, ok := w.catalogs.Building(r.BuildingID); ok {
		c := b.Template.DefaultCenter
		if c.X == r.Center[0] && c.Y == r.Center[1] && reflect.DeepEqual(b.Template.Rows(), r.Rows) {
			return b.Template, nil
		}
	}
	tpl, err := footprint.TemplateFromRows(r.Rows)
	if err != nil {
		return nil, err
	}
	tpl.DefaultCenter = footprint.Vec2i{X: r.Center[0], Y: r.Center[1]}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return tpl, nil
}
