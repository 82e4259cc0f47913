package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/tuning"
	"gridbuild.dev/internal/sim/world"
)

func openRaw(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func count(t *testing.T, db *sql.DB, q string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(q, args...).Scan(&n); err != nil {
		t.Fatalf("%s: %v", q, err)
	}
	return n
}

func TestSQLiteIndex_PlacementsFollowAudits(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_ = idx.WriteTick(world.TickLogEntry{
		Tick:   1,
		Digest: "d1",
		Joins:  []world.RecordedJoin{{SessionID: "S1", Name: "bot"}},
		Commands: []world.RecordedCommand{
			{SessionID: "S1", Cmd: protocol.CmdMsg{Seq: 1, Op: protocol.OpPlace, BuildingID: "WALL", Cell: &[2]int{3, 3}}},
			{SessionID: "S1", Cmd: protocol.CmdMsg{Seq: 2, Op: protocol.OpPlace, BuildingID: "ROAD", Cell: &[2]int{8, 8}}},
		},
	})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 1, Actor: "S1", Action: "PLACE", Handle: 1, BuildingID: "WALL", Anchor: [2]int{3, 3}, Cells: 2})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 1, Actor: "S1", Action: "PLACE", Handle: 2, BuildingID: "ROAD", Anchor: [2]int{8, 8}, Cells: 1})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 2, Actor: "S1", Action: "REMOVE", Handle: 1, BuildingID: "WALL", Anchor: [2]int{3, 3}, Cells: 2})
	idx.RecordSnapshot("/data/snapshots/2.snap.zst", snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, Tick: 2},
		GridSize: 64,
		Records:  []snapshot.RecordV1{{Handle: 2}},
		Digest:   "g",
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db := openRaw(t, dbPath)
	if n := count(t, db, `SELECT COUNT(*) FROM ticks`); n != 1 {
		t.Fatalf("ticks=%d", n)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM commands WHERE session_id = ? AND op = ?`, "S1", protocol.OpPlace); n != 2 {
		t.Fatalf("commands=%d", n)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM audits`); n != 3 {
		t.Fatalf("audits=%d", n)
	}
	var handle int64
	var building string
	if err := db.QueryRow(`SELECT handle, building_id FROM placements`).Scan(&handle, &building); err != nil {
		t.Fatalf("placements: %v", err)
	}
	if handle != 2 || building != "ROAD" {
		t.Fatalf("placement=%d %s", handle, building)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM placements`); n != 1 {
		t.Fatalf("placements=%d", n)
	}
	if n := count(t, db, `SELECT records FROM snapshots WHERE tick = 2`); n != 1 {
		t.Fatalf("snapshot records=%d", n)
	}
}

func TestSQLiteIndex_ResizeClearsPlacements(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.WriteAudit(world.AuditEntry{Tick: 1, Actor: "S1", Action: "PLACE", Handle: 1, BuildingID: "ROAD"})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 2, Actor: "S1", Action: "RESIZE", Epoch: 1})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 3, Actor: "S1", Action: "PLACE", Handle: 2, BuildingID: "ROAD", Epoch: 1})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	db := openRaw(t, dbPath)
	if n := count(t, db, `SELECT COUNT(*) FROM placements`); n != 1 {
		t.Fatalf("placements=%d", n)
	}
	if n := count(t, db, `SELECT handle FROM placements`); n != 2 {
		t.Fatalf("surviving handle=%d", n)
	}
}

func TestSQLiteIndex_ResetPlacementsAndCatalogs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cats, err := catalogs.Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	if err := idx.UpsertCatalogs(cats, tuning.Defaults()); err != nil {
		t.Fatalf("upsert catalogs: %v", err)
	}
	snap := snapshot.SnapshotV1{Records: []snapshot.RecordV1{
		{Handle: 4, BuildingID: "HOUSE_SMALL", Anchor: [2]int{5, 5}, Rows: []string{"##", "##"}},
		{Handle: 7, BuildingID: "WATCHTOWER", Anchor: [2]int{9, 1}, Rotation: 3, Rows: []string{"###", "#..", "#.."}},
	}}
	if err := idx.ResetPlacements(40, snap); err != nil {
		t.Fatalf("reset placements: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db := openRaw(t, dbPath)
	if n := count(t, db, `SELECT cells FROM placements WHERE handle = 7`); n != 5 {
		t.Fatalf("watchtower cells=%d", n)
	}
	var digest string
	if err := db.QueryRow(`SELECT digest FROM catalogs WHERE name = 'buildings'`).Scan(&digest); err != nil {
		t.Fatalf("catalog row: %v", err)
	}
	if digest != cats.Buildings.Digest {
		t.Fatalf("digest=%s want %s", digest, cats.Buildings.Digest)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM catalogs WHERE name = 'tuning'`); n != 1 {
		t.Fatalf("tuning rows=%d", n)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	_ = s.WriteAudit(world.AuditEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropAuditTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCap != 1 {
		t.Fatalf("queue=%d/%d", st.QueueDepth, st.QueueCap)
	}

	var nilIdx *SQLiteIndex
	if err := nilIdx.WriteAudit(world.AuditEntry{}); err != nil {
		t.Fatalf("nil index must be a no-op: %v", err)
	}
}
