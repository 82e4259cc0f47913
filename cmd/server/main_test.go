package main

import (
	"path/filepath"
	"strings"
	"testing"

	"gridbuild.dev/internal/persistence/indexdb"
	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/tuning"
	"gridbuild.dev/internal/sim/world"
)

func TestWriteMetrics(t *testing.T) {
	var b strings.Builder
	writeMetrics(&b, "w1", world.WorldMetrics{Tick: 42, Clients: 2, Placements: 5, PlacedTotal: 7}, nil, 1)
	out := b.String()
	for _, want := range []string{
		`gridbuild_world_tick{world="w1"} 42`,
		`gridbuild_world_clients{world="w1"} 2`,
		`gridbuild_grid_ops_total{world="w1",op="place"} 7`,
		`gridbuild_observer_streams{world="w1"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "gridbuild_index_") {
		t.Fatalf("index metrics without an index")
	}
}

func TestEnvBool(t *testing.T) {
	cases := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"", false, false},
		{"yes", false, true},
		{" TRUE ", false, true},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tc := range cases {
		t.Setenv("GB_TEST_FLAG", tc.val)
		if got := envBool("GB_TEST_FLAG", tc.def); got != tc.want {
			t.Fatalf("%q def=%v: got %v", tc.val, tc.def, got)
		}
	}
}

func TestWorldConfig_FromTuning(t *testing.T) {
	tune := tuning.Defaults()
	tune.GridSize = 48
	tune.MassPlace.MaxTiles = 9
	tune.RateLimits.PlaceMax = 3
	cfg := worldConfig("w", tune, nil)
	if cfg.GridSize != 48 || cfg.MaxGridSize != 1024 || cfg.MassMaxTiles != 9 || cfg.RateLimits.PlaceMax != 3 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.TuningDigest != tune.Digest() {
		t.Fatalf("digest=%s", cfg.TuningDigest)
	}
}

func TestResume_DropsDetachedSessionsAndResetsIndex(t *testing.T) {
	cats, err := catalogs.Load(filepath.Join("..", "..", "configs"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	src, err := world.New(world.WorldConfig{ID: "w", GridSize: 16}, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	out := make(chan []byte, 64)
	src.StepOnce([]world.JoinRequest{{SessionID: "S1", Name: "a", Out: out}}, nil, nil)
	src.StepOnce(nil, nil, []world.CommandEnvelope{{SessionID: "S1", Cmd: protocol.CmdMsg{
		Type: protocol.TypeCmd, ProtocolVersion: protocol.Version,
		Seq: 1, Op: protocol.OpPlace, BuildingID: "ROAD", Cell: &[2]int{1, 1},
	}}})

	dir := t.TempDir()
	path := filepath.Join(dir, snapshot.FileName(1))
	snap := src.ExportSnapshot(1)
	if len(snap.Sessions) != 1 {
		t.Fatalf("sessions=%d", len(snap.Sessions))
	}
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	defer idx.Close()

	dst, err := world.New(world.WorldConfig{ID: "w", GridSize: 16}, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	if err := resume(dst, idx, path, "w"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st := dst.Summary(dst.CurrentTick()); len(st.Clients) != 0 || len(st.Placements) != 1 {
		t.Fatalf("clients=%d placements=%d", len(st.Clients), len(st.Placements))
	}

	if err := resume(dst, idx, path, "other"); err == nil {
		t.Fatalf("expected world id mismatch")
	}
}
