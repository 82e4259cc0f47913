package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/tuning"
	"gridbuild.dev/internal/sim/world"
)

// SQLiteIndex is a queryable read model of the world: who placed what, where
// it is now, and which snapshots exist. The JSONL logs stay the source of
// truth; writes are queued and dropped when the writer falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	audit    world.AuditEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	GridSize   int
	Records    int
	Epoch      uint64
	Digest     string
	RecordedAt string
}

// Stats reports queue pressure for /metrics.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCap          int    `json:"queue_cap"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Mass commits produce one audit per tile; leave room for bursts.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			commands INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			op TEXT NOT NULL,
			cmd_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_session_tick ON commands(session_id, tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			handle INTEGER NOT NULL,
			building_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			rotation INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			epoch INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_handle ON audits(handle);`,
		`CREATE TABLE IF NOT EXISTS placements (
			handle INTEGER PRIMARY KEY,
			building_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			rotation INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			placed_tick INTEGER NOT NULL,
			actor TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_placements_building ON placements(building_id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			grid_size INTEGER NOT NULL,
			records INTEGER NOT NULL,
			epoch INTEGER NOT NULL,
			digest TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCap:          cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqTick, tick: entry}, &s.dropTick)
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqAudit, audit: entry}, &s.dropAudit)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		GridSize:   snap.GridSize,
		Records:    len(snap.Records),
		Epoch:      snap.Epoch,
		Digest:     snap.Digest,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}}, &s.dropSnapshot)
}

// ResetPlacements replaces the live placements table, e.g. after the world
// resumed from a snapshot. It runs synchronously on the caller's goroutine
// and must be called before the world starts producing audits.
func (s *SQLiteIndex) ResetPlacements(tick uint64, snap snapshot.SnapshotV1) error {
	if s == nil {
		return nil
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM placements`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO placements(handle,building_id,x,z,rotation,cells,placed_tick,actor) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range snap.Records {
		cells := 0
		for _, row := range r.Rows {
			for _, ch := range row {
				if ch == '#' {
					cells++
				}
			}
		}
		if _, err := stmt.Exec(int64(r.Handle), r.BuildingID, r.Anchor[0], r.Anchor[1], r.Rotation, cells, int64(tick), "SNAPSHOT"); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type catalogRow struct {
	name   string
	digest string
	json   []byte
}

// UpsertCatalogs stores the building definitions and the tuning in effect,
// keyed by digest, so audits can be interpreted later.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var rows []catalogRow
	defs := make([]catalogs.BuildingDef, 0, len(cats.Buildings.IDs))
	for _, id := range cats.Buildings.IDs {
		defs = append(defs, cats.Buildings.ByID[id].Def())
	}
	if b, err := json.Marshal(defs); err == nil {
		rows = append(rows, catalogRow{name: "buildings", digest: cats.Buildings.Digest, json: b})
	}
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, catalogRow{name: "tuning", digest: tune.Digest(), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared on the db; bound to the current tx with tx.Stmt.
	prep := func(q string) *sql.Stmt {
		st, err := s.db.Prepare(q)
		if err != nil {
			return nil
		}
		return st
	}
	insertTick := prep(`INSERT OR REPLACE INTO ticks(tick,digest,joins,leaves,commands) VALUES(?,?,?,?,?)`)
	insertCommand := prep(`INSERT OR REPLACE INTO commands(tick,seq,session_id,op,cmd_json) VALUES(?,?,?,?,?)`)
	insertAudit := prep(`INSERT OR REPLACE INTO audits(tick,seq,actor,action,handle,building_id,x,z,rotation,cells,epoch) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	upsertPlacement := prep(`INSERT OR REPLACE INTO placements(handle,building_id,x,z,rotation,cells,placed_tick,actor) VALUES(?,?,?,?,?,?,?,?)`)
	deletePlacement := prep(`DELETE FROM placements WHERE handle = ?`)
	clearPlacements := prep(`DELETE FROM placements`)
	insertSnapshot := prep(`INSERT OR REPLACE INTO snapshots(tick,path,grid_size,records,epoch,digest,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	stmts := []*sql.Stmt{insertTick, insertCommand, insertAudit, upsertPlacement, deletePlacement, clearPlacements, insertSnapshot}
	defer func() {
		for _, st := range stmts {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			if !exec(insertTick, int64(t.Tick), t.Digest, len(t.Joins), len(t.Leaves), len(t.Commands)) {
				continue
			}
			for i, c := range t.Commands {
				b, _ := json.Marshal(c.Cmd)
				if !exec(insertCommand, int64(t.Tick), i, c.SessionID, c.Cmd.Op, string(b)) {
					break
				}
			}

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			if !exec(insertAudit, int64(a.Tick), seq, a.Actor, a.Action, int64(a.Handle), a.BuildingID,
				a.Anchor[0], a.Anchor[1], a.Rotation, a.Cells, int64(a.Epoch)) {
				continue
			}
			switch a.Action {
			case "PLACE":
				exec(upsertPlacement, int64(a.Handle), a.BuildingID, a.Anchor[0], a.Anchor[1], a.Rotation, a.Cells, int64(a.Tick), a.Actor)
			case "REMOVE":
				exec(deletePlacement, int64(a.Handle))
			case "RESIZE":
				exec(clearPlacements)
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.GridSize, sn.Records, int64(sn.Epoch), sn.Digest, sn.RecordedAt)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
