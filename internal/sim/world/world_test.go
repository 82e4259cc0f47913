package world

import (
	"context"
	"testing"
	"time"

	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/encoding"
	"gridbuild.dev/internal/sim/occupancy"
)

func TestDeterminism_SameCommandsSameDigest(t *testing.T) {
	w1 := newTestWorld(t, WorldConfig{})
	w2 := newTestWorld(t, WorldConfig{})

	script := map[uint64][]protocol.CmdMsg{
		1: {
			{Seq: 1, Op: protocol.OpStart, Mode: "MASS", BuildingID: "FARM"},
			{Seq: 2, Op: protocol.OpHover, Point: pt(2.5, 2.5)},
			{Seq: 3, Op: protocol.OpPress},
		},
		2: {{Seq: 4, Op: protocol.OpHover, Point: pt(11.5, 6.5)}},
		3: {{Seq: 5, Op: protocol.OpConfirm}},
		5: {
			{Seq: 6, Op: protocol.OpStart, Mode: "DESTROY"},
			{Seq: 7, Op: protocol.OpHover, Point: pt(3.5, 2.5)},
			{Seq: 8, Op: protocol.OpConfirm},
		},
		7: {{Seq: 9, Op: protocol.OpPlace, BuildingID: "WATCHTOWER", Cell: cell(20, 20), Rotation: 2}},
	}

	join := []JoinRequest{{SessionID: "S1", Name: "bot", Out: make(chan []byte, 1024)}}
	join2 := []JoinRequest{{SessionID: "S1", Name: "bot", Out: make(chan []byte, 1024)}}
	_, d1 := w1.StepOnce(join, nil, nil)
	_, d2 := w2.StepOnce(join2, nil, nil)
	if d1 != d2 {
		t.Fatalf("digest mismatch after join")
	}
	for tick := uint64(1); tick < 10; tick++ {
		var envs []CommandEnvelope
		for _, c := range script[tick] {
			envs = append(envs, cmdEnv("S1", c))
		}
		t1, d1 := w1.StepOnce(nil, nil, envs)
		t2, d2 := w2.StepOnce(nil, nil, envs)
		if t1 != tick || t2 != tick {
			t.Fatalf("tick=%d/%d want %d", t1, t2, tick)
		}
		if d1 != d2 {
			t.Fatalf("digest mismatch at tick %d", tick)
		}
	}
	if w1.Grid().Len() == 0 {
		t.Fatalf("script placed nothing")
	}
	if w1.Grid().Digest() != w2.Grid().Digest() {
		t.Fatalf("grid digests differ")
	}
}

func TestSnapshot_ExportImportRoundTrip(t *testing.T) {
	w1 := newTestWorld(t, WorldConfig{})
	out := joinClient(t, w1, "S1")
	stepAcks(t, w1, out, "S1",
		protocol.CmdMsg{Op: protocol.OpPlace, BuildingID: "HOUSE_SMALL", Cell: cell(5, 5)},
		protocol.CmdMsg{Op: protocol.OpPlace, BuildingID: "FARM", Cell: cell(10, 10), Rotation: 1},
		protocol.CmdMsg{Op: protocol.OpPlace, BuildingID: "WATCHTOWER", Cell: cell(20, 3), Rotation: 3},
		protocol.CmdMsg{Op: protocol.OpRemove, Handle: 1},
	)
	snap := w1.ExportSnapshot(w1.CurrentTick() - 1)
	if len(snap.Records) != 2 || snap.NextHandle != 4 {
		t.Fatalf("snapshot records=%d next=%d", len(snap.Records), snap.NextHandle)
	}

	w2 := newTestWorld(t, WorldConfig{GridSize: 8})
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if w2.Grid().Digest() != w1.Grid().Digest() {
		t.Fatalf("grid digest mismatch after import")
	}
	if w2.Grid().NextHandle() != w1.Grid().NextHandle() || w2.Grid().Size() != 32 {
		t.Fatalf("next=%d size=%d", w2.Grid().NextHandle(), w2.Grid().Size())
	}
	if w2.CurrentTick() != snap.Header.Tick+1 {
		t.Fatalf("tick=%d want %d", w2.CurrentTick(), snap.Header.Tick+1)
	}
	if w2.picker.Len() != 1 {
		t.Fatalf("picker should hold the farm bounds, got %d", w2.picker.Len())
	}
	rec, ok := w2.Grid().Lookup(2)
	if !ok || rec.Rotation != 1 {
		t.Fatalf("farm record=%+v ok=%v", rec, ok)
	}
	if tpl, _ := w2.Catalogs().Template("FARM"); rec.Template != tpl {
		t.Fatalf("restored record should share the catalog template")
	}

	// New placements continue the handle sequence.
	out2 := joinClient(t, w2, "S2")
	acks := stepAcks(t, w2, out2, "S2", protocol.CmdMsg{Op: protocol.OpPlace, BuildingID: "ROAD", Cell: cell(0, 0)})
	if len(acks[0].Placed) != 1 || acks[0].Placed[0].Handle != 4 {
		t.Fatalf("place after import=%+v", acks[0])
	}
}

func TestSnapshot_ImportRejectsMismatchedBlockedCells(t *testing.T) {
	w1 := newTestWorld(t, WorldConfig{})
	out := joinClient(t, w1, "S1")
	stepAcks(t, w1, out, "S1", protocol.CmdMsg{Op: protocol.OpPlace, BuildingID: "WALL", Cell: cell(1, 1)})
	snap := w1.ExportSnapshot(1)
	snap.BlockedRLE = encoding.EncodeBitsRLE(make([]bool, 32*32))

	w2 := newTestWorld(t, WorldConfig{GridSize: 8})
	if err := w2.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected blocked cells mismatch")
	}
	if w2.Grid().Size() != 8 || w2.Grid().Len() != 0 || w2.CurrentTick() != 0 {
		t.Fatalf("failed import must leave the world untouched")
	}

	snap = w1.ExportSnapshot(1)
	snap.Header.Version = 99
	if err := w2.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestSnapshot_ImportKeepsStoredFootprint(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	snap := snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, WorldID: "test", Tick: 40},
		GridSize: 16,
		CellSize: 1,
		Records: []snapshot.RecordV1{
			{Handle: 3, BuildingID: "GONE", Anchor: [2]int{4, 4}, Rows: []string{"###"}, Center: [2]int{1, 0}},
		},
	}
	if err := w.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if w.Grid().BlockedCount() != 3 || w.Grid().NextHandle() != 4 {
		t.Fatalf("blocked=%d next=%d", w.Grid().BlockedCount(), w.Grid().NextHandle())
	}
	if h, ok := w.Grid().OccupantAt(occupancy.Cell{X: 3, Z: 4}); !ok || h != 3 {
		t.Fatalf("occupant=%d,%v", h, ok)
	}
}

func TestWorld_SnapshotEveryNTicks(t *testing.T) {
	w := newTestWorld(t, WorldConfig{SnapshotEveryTicks: 3})
	sink := make(chan snapshot.SnapshotV1, 4)
	w.SetSnapshotSink(sink)
	for i := 0; i < 7; i++ {
		w.StepOnce(nil, nil, nil)
	}
	var ticks []uint64
	for len(sink) > 0 {
		ticks = append(ticks, (<-sink).Header.Tick)
	}
	if len(ticks) != 2 || ticks[0] != 3 || ticks[1] != 6 {
		t.Fatalf("snapshot ticks=%v", ticks)
	}
}

func TestWorld_LoggersSeeCommandsAndAudits(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	ticks := &memTickLog{}
	audits := &memAuditLog{}
	w.SetTickLogger(ticks)
	w.SetAuditLogger(audits)

	out := joinClient(t, w, "S1")
	stepAcks(t, w, out, "S1",
		protocol.CmdMsg{Op: protocol.OpPlace, BuildingID: "FARM", Cell: cell(6, 6), Rotation: 2},
		protocol.CmdMsg{Op: protocol.OpRemove, Cell: cell(6, 6)},
	)

	if len(ticks.entries) != 2 {
		t.Fatalf("tick entries=%d", len(ticks.entries))
	}
	if j := ticks.entries[0].Joins; len(j) != 1 || j[0].SessionID != "S1" {
		t.Fatalf("joins=%+v", j)
	}
	if c := ticks.entries[1].Commands; len(c) != 2 || c[1].Cmd.Op != protocol.OpRemove {
		t.Fatalf("commands=%+v", c)
	}
	if ticks.entries[1].Digest == "" {
		t.Fatalf("missing digest")
	}

	if len(audits.entries) != 2 {
		t.Fatalf("audits=%+v", audits.entries)
	}
	place, remove := audits.entries[0], audits.entries[1]
	if place.Action != "PLACE" || place.Actor != "S1" || place.Cells != 6 || place.Rotation != 2 || place.Tick != 1 {
		t.Fatalf("place audit=%+v", place)
	}
	if remove.Action != "REMOVE" || remove.Handle != place.Handle || remove.Anchor != [2]int{6, 6} {
		t.Fatalf("remove audit=%+v", remove)
	}
}

func TestWorld_AdminRequests(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	out := joinClient(t, w, "S1")
	stepAcks(t, w, out, "S1",
		protocol.CmdMsg{Op: protocol.OpStart, Mode: "SINGLE", BuildingID: "ROAD"},
		protocol.CmdMsg{Op: protocol.OpPlace, BuildingID: "ROAD", Cell: cell(2, 2)},
	)

	stateResp := make(chan adminResp, 1)
	snapResp := make(chan adminResp, 1)
	w.handleAdminRequests([]adminReq{{Kind: adminState, Resp: stateResp}, {Kind: adminSnapshot, Resp: snapResp}})

	st := (<-stateResp).State
	if len(st.Placements) != 1 || st.Placements[0].BuildingID != "ROAD" || st.BlockedCells != 1 {
		t.Fatalf("state=%+v", st)
	}
	if len(st.Clients) != 1 || st.Clients[0].Mode != "SINGLE" || st.Clients[0].Placed != 1 {
		t.Fatalf("clients=%+v", st.Clients)
	}
	if r := <-snapResp; r.Err != "snapshot sink not configured" {
		t.Fatalf("snapshot resp=%+v", r)
	}

	sink := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(sink)
	w.handleAdminRequests([]adminReq{{Kind: adminSnapshot, Resp: snapResp}})
	if r := <-snapResp; r.Err != "" || r.Tick != w.CurrentTick()-1 {
		t.Fatalf("snapshot resp=%+v", r)
	}
	if snap := <-sink; len(snap.Records) != 1 {
		t.Fatalf("snapshot records=%d", len(snap.Records))
	}
}

func TestWorld_RunServesJoinAndStop(t *testing.T) {
	w := newTestWorld(t, WorldConfig{TickRateHz: 50})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	resp := make(chan JoinResponse, 1)
	w.Join() <- JoinRequest{SessionID: "S1", Name: "bot", Out: make(chan []byte, 16), Resp: resp}
	select {
	case r := <-resp:
		if r.Welcome.Grid.Size != 32 || len(r.Catalogs) != 2 || r.Catalogs[0].Name != "buildings" {
			t.Fatalf("welcome=%+v catalogs=%d", r.Welcome, len(r.Catalogs))
		}
	case <-ctx.Done():
		t.Fatalf("join timed out")
	}

	st, err := w.RequestState(ctx)
	if err != nil || len(st.Clients) != 1 {
		t.Fatalf("state=%+v err=%v", st, err)
	}
	w.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestSnapshot_SessionsResumeForReplay(t *testing.T) {
	w1 := newTestWorld(t, WorldConfig{})
	out := joinClient(t, w1, "S1")
	stepAcks(t, w1, out, "S1",
		protocol.CmdMsg{Op: protocol.OpStart, Mode: "SINGLE", BuildingID: "WALL"},
		protocol.CmdMsg{Op: protocol.OpRotate, RotateDir: 1},
	)
	snap := w1.ExportSnapshot(w1.CurrentTick() - 1)
	if len(snap.Sessions) != 1 || snap.Sessions[0].Mode != "SINGLE" || snap.Sessions[0].Rotation != 1 {
		t.Fatalf("sessions=%+v", snap.Sessions)
	}

	w2 := newTestWorld(t, WorldConfig{})
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	// The same command applied to both worlds must land identically.
	confirm := []CommandEnvelope{
		cmdEnv("S1", protocol.CmdMsg{Seq: 9, Op: protocol.OpHover, Point: pt(4.5, 4.5)}),
		cmdEnv("S1", protocol.CmdMsg{Seq: 10, Op: protocol.OpConfirm}),
	}
	_, d1 := w1.StepOnce(nil, nil, confirm)
	_, d2 := w2.StepOnce(nil, nil, confirm)
	if d1 != d2 || w2.Grid().Len() != 1 {
		t.Fatalf("replayed session diverged: len=%d", w2.Grid().Len())
	}
	if rec, _ := w2.Grid().Lookup(1); rec.Rotation != 1 {
		t.Fatalf("restored rotation=%d", rec.Rotation)
	}

	if n := w2.DropDetachedSessions(); n != 1 {
		t.Fatalf("dropped=%d", n)
	}
	if len(w2.Summary(0).Clients) != 0 {
		t.Fatalf("detached session kept")
	}
}
