package world

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/catalogs"
)

func testCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func newTestWorld(t *testing.T, cfg WorldConfig) *World {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "test"
	}
	if cfg.GridSize == 0 {
		cfg.GridSize = 32
	}
	w, err := New(cfg, testCatalogs(t))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

func joinClient(t *testing.T, w *World, id string) chan []byte {
	t.Helper()
	out := make(chan []byte, 256)
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{SessionID: id, Name: id, Out: out, Resp: resp}}, nil, nil)
	r := <-resp
	if r.Welcome.SessionID != id {
		t.Fatalf("session id=%q want %q", r.Welcome.SessionID, id)
	}
	return out
}

func cmdEnv(id string, c protocol.CmdMsg) CommandEnvelope {
	c.Type = protocol.TypeCmd
	c.ProtocolVersion = protocol.Version
	return CommandEnvelope{SessionID: id, Cmd: c}
}

func pt(x, z float64) *[3]float64 { return &[3]float64{x, 0, z} }
func cell(x, z int) *[2]int      { return &[2]int{x, z} }

// drain empties out and groups the raw messages by type.
func drain(t *testing.T, out chan []byte) map[string][][]byte {
	t.Helper()
	got := map[string][][]byte{}
	for {
		select {
		case b := <-out:
			base, err := protocol.DecodeBase(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			got[base.Type] = append(got[base.Type], b)
		default:
			return got
		}
	}
}

func decodeAcks(t *testing.T, raw [][]byte) []protocol.AckMsg {
	t.Helper()
	acks := make([]protocol.AckMsg, 0, len(raw))
	for _, b := range raw {
		var a protocol.AckMsg
		if err := json.Unmarshal(b, &a); err != nil {
			t.Fatalf("ack: %v", err)
		}
		acks = append(acks, a)
	}
	return acks
}

func lastPreview(t *testing.T, raw [][]byte) protocol.PreviewMsg {
	t.Helper()
	if len(raw) == 0 {
		t.Fatalf("no preview sent")
	}
	var p protocol.PreviewMsg
	if err := json.Unmarshal(raw[len(raw)-1], &p); err != nil {
		t.Fatalf("preview: %v", err)
	}
	return p
}

// stepAcks runs one tick of commands for a single client and returns its acks.
func stepAcks(t *testing.T, w *World, out chan []byte, id string, cmds ...protocol.CmdMsg) []protocol.AckMsg {
	t.Helper()
	envs := make([]CommandEnvelope, 0, len(cmds))
	for i, c := range cmds {
		if c.Seq == 0 {
			c.Seq = uint64(i + 1)
		}
		envs = append(envs, cmdEnv(id, c))
	}
	w.StepOnce(nil, nil, envs)
	acks := decodeAcks(t, drain(t, out)[protocol.TypeAck])
	if len(acks) != len(cmds) {
		t.Fatalf("got %d acks for %d commands", len(acks), len(cmds))
	}
	return acks
}

type memTickLog struct{ entries []TickLogEntry }

func (m *memTickLog) WriteTick(e TickLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

type memAuditLog struct{ entries []AuditEntry }

func (m *memAuditLog) WriteAudit(e AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}
