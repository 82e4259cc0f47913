package world

import (
	"context"
	"errors"
	"fmt"

	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/occupancy"
)

type adminKind int

const (
	adminSnapshot adminKind = iota
	adminState
	adminResize
)

type adminReq struct {
	Kind adminKind
	Size int
	Resp chan adminResp
}

type adminResp struct {
	Tick  uint64
	State StateSummary
	Err   string
}

// StateSummary is a point-in-time view of the grid for admin endpoints and
// tooling. It is built on the world loop goroutine.
type StateSummary struct {
	WorldID      string               `json:"world_id"`
	Tick         uint64               `json:"tick"`
	GridSize     int                  `json:"grid_size"`
	CellSize     float64              `json:"cell_size"`
	Epoch        uint64               `json:"epoch"`
	NextHandle   uint64               `json:"next_handle"`
	BlockedCells int                  `json:"blocked_cells"`
	Digest       string               `json:"digest"`
	Placements   []protocol.PlacedRef `json:"placements"`
	Clients      []ClientSummary      `json:"clients"`
}

type ClientSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Mode       string `json:"mode"`
	BuildingID string `json:"building_id,omitempty"`
	Rotation   int    `json:"rotation"`
	Dragging   bool   `json:"dragging,omitempty"`
	Placed     int    `json:"placed"`
	Removed    int    `json:"removed"`
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	r, err := w.request(ctx, adminReq{Kind: adminSnapshot})
	return r.Tick, err
}

// RequestState returns a summary built between two ticks.
func (w *World) RequestState(ctx context.Context) (StateSummary, error) {
	r, err := w.request(ctx, adminReq{Kind: adminState})
	return r.State, err
}

// RequestResize replaces the grid with an empty n*n one between two ticks and
// returns the tick whose log entry records it. Sizes outside 1..MaxGridSize
// fail with occupancy.ErrBadConfig before reaching the loop.
func (w *World) RequestResize(ctx context.Context, n int) (tick uint64, err error) {
	if err := w.checkResize(n); err != nil {
		return 0, err
	}
	r, err := w.request(ctx, adminReq{Kind: adminResize, Size: n})
	return r.Tick, err
}

func (w *World) checkResize(n int) error {
	limit := w.cfg.MaxGridSize
	if limit <= 0 {
		limit = occupancy.MaxSize
	}
	if n <= 0 || n > limit {
		return fmt.Errorf("%w: size %d outside 1..%d", occupancy.ErrBadConfig, n, limit)
	}
	return nil
}

// Resize replaces the grid with an empty n*n one. It must run on the world loop
// goroutine or while the loop is stopped. The resize is written to the next
// tick's log entry, so replays apply it before that tick's commands.
func (w *World) Resize(n int) error {
	if err := w.checkResize(n); err != nil {
		return err
	}
	if w.actor == "" {
		w.actor = "ADMIN"
		defer func() { w.actor = "" }()
	}
	if err := w.grid.Resize(n); err != nil {
		return err
	}
	w.cfg.GridSize = n
	w.resized = n
	return nil
}

func (w *World) request(ctx context.Context, req adminReq) (adminResp, error) {
	if w == nil || w.admin == nil {
		return adminResp{}, errors.New("admin requests not available")
	}
	resp := make(chan adminResp, 1)
	req.Resp = resp
	select {
	case w.admin <- req:
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r, errors.New(r.Err)
		}
		return r, nil
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

func (w *World) handleAdminRequests(reqs []adminReq) {
	if w == nil || len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	lastTick := uint64(0)
	if cur > 0 {
		lastTick = cur - 1
	}

	// One snapshot serves every snapshot request in the batch. Resizes run
	// last so snapshots and summaries in the same batch match lastTick.
	var snapResp *adminResp
	var resizes []adminReq
	for _, r := range reqs {
		var resp adminResp
		switch r.Kind {
		case adminResize:
			resizes = append(resizes, r)
			continue
		case adminSnapshot:
			if snapResp == nil {
				snapResp = &adminResp{Tick: lastTick}
				if w.snapshotSink == nil {
					snapResp.Err = "snapshot sink not configured"
				} else {
					select {
					case w.snapshotSink <- w.ExportSnapshot(lastTick):
					default:
						snapResp.Err = "snapshot sink backpressure"
					}
				}
			}
			resp = *snapResp
		case adminState:
			resp = adminResp{Tick: lastTick, State: w.Summary(lastTick)}
		default:
			resp = adminResp{Tick: lastTick, Err: "unknown admin request"}
		}
		reply(r, resp)
	}
	for _, r := range resizes {
		resp := adminResp{Tick: cur}
		if err := w.Resize(r.Size); err != nil {
			resp.Err = err.Error()
		}
		reply(r, resp)
	}
}

func reply(r adminReq, resp adminResp) {
	if r.Resp == nil {
		return
	}
	select {
	case r.Resp <- resp:
	default:
		// Client timed out; don't block the sim loop.
	}
}

// Summary must be called from the world loop goroutine or while stopped.
func (w *World) Summary(tick uint64) StateSummary {
	s := StateSummary{
		WorldID:      w.cfg.ID,
		Tick:         tick,
		GridSize:     w.grid.Size(),
		CellSize:     w.grid.CellSize(),
		Epoch:        w.grid.Epoch(),
		NextHandle:   uint64(w.grid.NextHandle()),
		BlockedCells: w.grid.BlockedCount(),
		Digest:       w.grid.Digest(),
	}
	for _, rec := range w.grid.Records() {
		s.Placements = append(s.Placements, placedRef(rec))
	}
	for _, id := range w.joinOrder {
		cl := w.clients[id]
		s.Clients = append(s.Clients, ClientSummary{
			ID:         cl.ID,
			Name:       cl.Name,
			Mode:       cl.Session.State().String(),
			BuildingID: cl.Session.BuildingID(),
			Rotation:   cl.Session.Rotation(),
			Dragging:   cl.Session.Dragging(),
			Placed:     cl.Placed,
			Removed:    cl.Removed,
		})
	}
	return s
}
