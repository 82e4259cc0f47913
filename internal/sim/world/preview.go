package world

import (
	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/builder"
	"gridbuild.dev/internal/sim/occupancy"
)

// clientPreviewer keeps the latest preview for one client. Only the last
// state of a tick is sent, tagged with the mode the session ended the tick in.
type clientPreviewer struct {
	w   *World
	cl  *clientState
	msg protocol.PreviewMsg
}

func (p *clientPreviewer) mode() string {
	if p.cl.Session == nil {
		return builder.Idle.String()
	}
	return p.cl.Session.State().String()
}

func (p *clientPreviewer) set(m protocol.PreviewMsg) {
	p.msg = m
	p.w.dirty.Put(p.cl.ID)
}

func (p *clientPreviewer) ShowSingle(pv builder.Preview) {
	anchor := cellPair(pv.Anchor)
	world := [3]float64{pv.World.X, pv.World.Y, pv.World.Z}
	p.set(protocol.PreviewMsg{
		BuildingID: pv.BuildingID,
		Rotation:   pv.Rotation,
		Valid:      pv.Valid,
		Anchor:     &anchor,
		World:      &world,
	})
}

func (p *clientPreviewer) ShowTiles(t builder.TilePreview) {
	p.set(protocol.PreviewMsg{
		BuildingID: t.BuildingID,
		Rotation:   t.Rotation,
		Valid:      len(t.Candidates) > 0,
		Tiles:      cellPairs(t.Anchors),
		Candidates: cellPairs(t.Candidates),
	})
}

func (p *clientPreviewer) Highlight(h occupancy.Handle, on bool) {
	if on {
		p.set(protocol.PreviewMsg{Valid: true, Highlight: uint64(h)})
		return
	}
	if p.msg.Highlight == uint64(h) {
		p.set(protocol.PreviewMsg{Clear: true})
	}
}

func (p *clientPreviewer) Clear() {
	p.set(protocol.PreviewMsg{Clear: true})
}

func (p *clientPreviewer) take(tick uint64) protocol.PreviewMsg {
	m := p.msg
	m.Type = protocol.TypePreview
	m.ProtocolVersion = protocol.Version
	m.Tick = tick
	m.Mode = p.mode()
	return m
}

func cellPair(c occupancy.Cell) [2]int { return [2]int{c.X, c.Z} }

func cellPairs(cs []occupancy.Cell) [][2]int {
	if len(cs) == 0 {
		return nil
	}
	out := make([][2]int, 0, len(cs))
	for _, c := range cs {
		out = append(out, cellPair(c))
	}
	return out
}
