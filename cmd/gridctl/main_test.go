package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	persistlog "gridbuild.dev/internal/persistence/log"
	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/world"
)

const configDir = "../../configs"

func TestValidate_RepoConfigs(t *testing.T) {
	var b strings.Builder
	if err := runValidate(&b, configDir, ""); err != nil {
		t.Fatalf("validate: %v\n%s", err, b.String())
	}
	out := b.String()
	for _, want := range []string{"BUILDINGS (5)", "FARM", "WATCHTOWER", "TUNING: grid=64", "Result: VALID"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestValidate_ReportsEveryBadFile(t *testing.T) {
	dir := t.TempDir()
	bdir := filepath.Join(dir, "buildings")
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"a_ok.json":     `{"id":"OK","rows":["#"]}`,
		"b_empty.json":  `{"id":"EMPTY","rows":["..."]}`,
		"c_schema.json": `{"rows":["#"]}`,
		"d_dup.json":    `{"id":"OK","rows":["##"]}`,
		"e_center.json": `{"id":"OFF","rows":["#"],"center":[4,4]}`,
		"notes.txt":     `ignored`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(bdir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var b strings.Builder
	err := runValidate(&b, dir, "")
	if err == nil {
		t.Fatalf("expected failure:\n%s", b.String())
	}
	out := b.String()
	if got := strings.Count(out, "[ERROR]"); got != 4 {
		t.Fatalf("errors=%d:\n%s", got, out)
	}
	if !strings.Contains(out, "BUILDINGS (5)") || !strings.Contains(out, "Result: INVALID") {
		t.Fatalf("out:\n%s", out)
	}
}

func TestPlan_EmptyGrid(t *testing.T) {
	var b strings.Builder
	err := runPlan(&b, planOpts{
		ConfigDir: configDir, GridSize: 8, BuildingID: "ROAD",
		From: []int{0, 0}, To: []int{3, 0}, Map: true,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	out := b.String()
	if !strings.Contains(out, "candidates=3") {
		t.Fatalf("out:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	mapRows := lines[len(lines)-8:]
	if mapRows[0] != "ooo....." || mapRows[1] != "........" {
		t.Fatalf("map:\n%s", strings.Join(mapRows, "\n"))
	}
}

func TestPlan_Errors(t *testing.T) {
	cases := []struct {
		name string
		o    planOpts
		want string
	}{
		{"unknown building", planOpts{BuildingID: "CASTLE", From: []int{0, 0}, To: []int{1, 1}}, "unknown building"},
		{"bad cell", planOpts{BuildingID: "ROAD", From: []int{0}, To: []int{1, 1}}, "two values"},
		{"off grid", planOpts{BuildingID: "ROAD", From: []int{40, 0}, To: []int{1, 1}}, "outside"},
	}
	for _, tc := range cases {
		tc.o.ConfigDir = configDir
		tc.o.GridSize = 8
		var b strings.Builder
		err := runPlan(&b, tc.o)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
	}
}

// recordWorld runs a small session with tick logging and returns the
// snapshot taken after tick 1 plus the world directory.
func recordWorld(t *testing.T) (snapPath, worldDir string) {
	t.Helper()
	cats, err := catalogs.Load(configDir)
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	w, err := world.New(world.WorldConfig{ID: "rec", GridSize: 16}, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	worldDir = t.TempDir()
	tl := persistlog.NewTickLogger(worldDir)
	w.SetTickLogger(tl)

	cmd := func(seq uint64, c protocol.CmdMsg) []world.CommandEnvelope {
		c.Type, c.ProtocolVersion, c.Seq = protocol.TypeCmd, protocol.Version, seq
		return []world.CommandEnvelope{{SessionID: "S1", Cmd: c}}
	}
	out := make(chan []byte, 256)
	w.StepOnce([]world.JoinRequest{{SessionID: "S1", Name: "rec", Out: out}}, nil, nil)
	w.StepOnce(nil, nil, cmd(1, protocol.CmdMsg{Op: protocol.OpPlace, BuildingID: "HOUSE_SMALL", Cell: &[2]int{4, 4}}))

	snapPath = filepath.Join(worldDir, "snapshots", snapshot.FileName(1))
	if err := snapshot.WriteSnapshot(snapPath, w.ExportSnapshot(1)); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	w.StepOnce(nil, nil, cmd(2, protocol.CmdMsg{Op: protocol.OpMassCommit, BuildingID: "ROAD", Cell: &[2]int{0, 10}, EndCell: &[2]int{5, 10}}))
	w.StepOnce(nil, nil, cmd(3, protocol.CmdMsg{Op: protocol.OpRemove, Cell: &[2]int{4, 4}}))
	w.StepOnce(nil, []string{"S1"}, nil)
	if err := tl.Close(); err != nil {
		t.Fatalf("close tick log: %v", err)
	}
	return snapPath, worldDir
}

func TestReplay_VerifiesDigests(t *testing.T) {
	snapPath, _ := recordWorld(t)

	var b strings.Builder
	if err := runReplay(&b, replayOpts{Snapshot: snapPath, ConfigDir: configDir}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(b.String(), "stepped=3 checked=3") || !strings.Contains(b.String(), "placements=5") {
		t.Fatalf("out: %s", b.String())
	}

	b.Reset()
	if err := runReplay(&b, replayOpts{Snapshot: snapPath, ConfigDir: configDir, ToTick: 2}); err != nil {
		t.Fatalf("replay to tick 2: %v", err)
	}
	if !strings.Contains(b.String(), "stepped=1") {
		t.Fatalf("out: %s", b.String())
	}
}

func TestReplay_DetectsTamperedLog(t *testing.T) {
	snapPath, worldDir := recordWorld(t)

	// Rewrite the log with one command dropped.
	var entries []world.TickLogEntry
	if err := persistlog.ReadTicks(persistlog.TickDir(worldDir), func(e world.TickLogEntry) error {
		if e.Tick == 3 {
			e.Commands = nil
		}
		entries = append(entries, e)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := t.TempDir()
	tl := persistlog.NewTickLogger(tampered)
	for _, e := range entries {
		if err := tl.WriteTick(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = tl.Close()

	var b strings.Builder
	err := runReplay(&b, replayOpts{Snapshot: snapPath, TicksDir: persistlog.TickDir(tampered), ConfigDir: configDir})
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at tick 3") {
		t.Fatalf("err=%v", err)
	}
}

func TestReplay_RepeatsAdminResize(t *testing.T) {
	cats, err := catalogs.Load(configDir)
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	w, err := world.New(world.WorldConfig{ID: "rs", GridSize: 16}, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	worldDir := t.TempDir()
	tl := persistlog.NewTickLogger(worldDir)
	w.SetTickLogger(tl)

	place := func(seq uint64, x, z int) []world.CommandEnvelope {
		return []world.CommandEnvelope{{SessionID: "S1", Cmd: protocol.CmdMsg{
			Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, Seq: seq,
			Op: protocol.OpPlace, BuildingID: "ROAD", Cell: &[2]int{x, z},
		}}}
	}
	w.StepOnce([]world.JoinRequest{{SessionID: "S1", Name: "rs", Out: make(chan []byte, 256)}}, nil, place(1, 2, 2))
	snapPath := filepath.Join(worldDir, "snapshots", snapshot.FileName(0))
	if err := snapshot.WriteSnapshot(snapPath, w.ExportSnapshot(0)); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if err := w.Resize(12); err != nil {
		t.Fatalf("resize: %v", err)
	}
	w.StepOnce(nil, nil, place(2, 11, 11))
	if err := tl.Close(); err != nil {
		t.Fatalf("close tick log: %v", err)
	}

	var b strings.Builder
	if err := runReplay(&b, replayOpts{Snapshot: snapPath, ConfigDir: configDir}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(b.String(), "stepped=1 checked=1") || !strings.Contains(b.String(), "placements=1") {
		t.Fatalf("out: %s", b.String())
	}
}

func TestInspect(t *testing.T) {
	snapPath, _ := recordWorld(t)
	var b strings.Builder
	if err := runInspect(&b, snapPath); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	out := b.String()
	for _, want := range []string{"world=rec tick=1", "grid 16x16", "blocked 4 of 256 cells", "HOUSE_SMALL", "sessions (1)", `S1 name="rec" mode=IDLE`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
