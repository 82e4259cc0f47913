package world

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zyedidia/generic/mapset"

	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/builder"
	"gridbuild.dev/internal/sim/massplace"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingCmds []CommandEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingAdmin []adminReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case env := <-w.inbox:
			pendingCmds = append(pendingCmds, env)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingCmds)
			w.handleAdminRequests(pendingAdmin)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingCmds = pendingCmds[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

func (w *World) Inbox() chan<- CommandEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest      { return w.join }
func (w *World) Leave() chan<- string          { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, cmds []CommandEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step(joins, leaves, cmds)
	return tick, w.stateDigest(tick)
}

func (w *World) step(joins []JoinRequest, leaves []string, cmds []CommandEnvelope) {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	// Leaves then joins, at the tick boundary.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, id := range leaves {
		if _, ok := w.clients[id]; ok {
			w.handleLeave(id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := w.joinClient(req)
		if req.Resp != nil {
			req.Resp <- resp
		}
		recordedJoins = append(recordedJoins, RecordedJoin{SessionID: resp.Welcome.SessionID, Name: req.Name})
	}

	// Commands in receive order.
	recorded := make([]RecordedCommand, 0, len(cmds))
	for _, env := range cmds {
		cl := w.clients[env.SessionID]
		if cl == nil {
			continue
		}
		recorded = append(recorded, RecordedCommand{SessionID: env.SessionID, Cmd: env.Cmd})
		ack := w.applyCommand(cl, env.Cmd, nowTick)
		if b, err := json.Marshal(ack); err == nil {
			trySend(cl.Out, b)
		}
	}

	if len(w.pendingEvents) > 0 {
		// Previews computed against the old grid are stale now.
		for _, id := range w.joinOrder {
			if cl := w.clients[id]; cl.Session.State() != builder.Idle {
				cl.Session.Refresh()
			}
		}
	}
	w.flushEvents()
	w.flushPreviews(nowTick)

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{Tick: nowTick, Joins: recordedJoins, Leaves: recordedLeaves, Commands: recorded, Resize: w.resized, Digest: digest})
	}
	w.resized = 0

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
			snap := w.ExportSnapshot(nowTick)
			select {
			case w.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	w.storeMetrics(nextTick, stepMS)
}

func (w *World) joinClient(req JoinRequest) JoinResponse {
	id := req.SessionID
	if id == "" {
		id = fmt.Sprintf("S%06d", len(w.joinOrder)+1)
	}
	cl := w.clients[id]
	if cl == nil {
		cl = &clientState{ID: id, rl: map[string]*rateWindow{}}
		cl.Preview = &clientPreviewer{w: w, cl: cl}
		cl.Session = w.newSession(cl)
		w.clients[id] = cl
		w.joinOrder = append(w.joinOrder, id)
	}
	cl.Name = req.Name
	cl.Out = req.Out
	return JoinResponse{
		Welcome:  w.welcome(id),
		Catalogs: w.catalogMsgs(),
	}
}

func (w *World) newSession(cl *clientState) *builder.Session {
	return builder.New(w.grid, w.catalogs, builder.Config{
		Previewer: cl.Preview,
		Listener:  cl,
		Picker:    w.picker,
		Mass:      massplace.Options{MaxTiles: w.cfg.MassMaxTiles},
	})
}

func (w *World) handleLeave(id string) {
	delete(w.clients, id)
	w.dirty.Remove(id)
	for i, cid := range w.joinOrder {
		if cid == id {
			w.joinOrder = append(w.joinOrder[:i], w.joinOrder[i+1:]...)
			break
		}
	}
}

func (w *World) welcome(sessionID string) protocol.WelcomeMsg {
	o := w.grid.Origin()
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Grid: protocol.GridParams{
			Size:       w.grid.Size(),
			CellSize:   w.grid.CellSize(),
			Origin:     [3]float64{o.X, o.Y, o.Z},
			TickRateHz: w.cfg.TickRateHz,
			Epoch:      w.grid.Epoch(),
		},
		Catalogs: protocol.CatalogDigests{
			BuildingsDigest: w.catalogs.Buildings.Digest,
			TuningDigest:    w.cfg.TuningDigest,
		},
	}
}

func (w *World) catalogMsgs() []protocol.CatalogMsg {
	infos := make([]protocol.BuildingInfo, 0, len(w.catalogs.Buildings.IDs))
	for _, id := range w.catalogs.Buildings.IDs {
		infos = append(infos, buildingInfo(w.catalogs.Buildings.ByID[id]))
	}
	placed := make([]protocol.PlacedRef, 0, w.grid.Len())
	for _, rec := range w.grid.Records() {
		placed = append(placed, placedRef(rec))
	}
	return []protocol.CatalogMsg{
		{
			Type:            protocol.TypeCatalog,
			ProtocolVersion: protocol.Version,
			Name:            "buildings",
			Digest:          w.catalogs.Buildings.Digest,
			Part:            1,
			TotalParts:      1,
			Data:            infos,
		},
		{
			Type:            protocol.TypeCatalog,
			ProtocolVersion: protocol.Version,
			Name:            "placements",
			Digest:          w.grid.Digest(),
			Part:            1,
			TotalParts:      1,
			Data:            placed,
		},
	}
}

func (w *World) flushEvents() {
	if len(w.pendingEvents) == 0 {
		return
	}
	for _, ev := range w.pendingEvents {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		for _, id := range w.joinOrder {
			trySend(w.clients[id].Out, b)
		}
	}
	w.pendingEvents = w.pendingEvents[:0]
}

func (w *World) flushPreviews(nowTick uint64) {
	if w.dirty.Size() == 0 {
		return
	}
	for _, id := range w.joinOrder {
		if !w.dirty.Has(id) {
			continue
		}
		cl := w.clients[id]
		msg := cl.Preview.take(nowTick)
		if b, err := json.Marshal(msg); err == nil {
			sendLatest(cl.Out, b)
		}
	}
	w.dirty = mapset.New[string]()
}

func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nowTick)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], w.grid.Epoch())
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(w.grid.NextHandle()))
	h.Write(buf[:])
	h.Write([]byte(w.grid.Digest()))
	return hex.EncodeToString(h.Sum(nil))
}

// trySend never blocks the world loop; a full or missing channel drops b.
func trySend(ch chan []byte, b []byte) {
	if ch == nil {
		return
	}
	select {
	case ch <- b:
	default:
	}
}

func sendLatest(ch chan []byte, b []byte) {
	if ch == nil {
		return
	}
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
