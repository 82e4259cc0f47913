package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	GridSize int        `json:"grid_size"`
	CellSize float64    `json:"cell_size"`
	Origin   [3]float64 `json:"origin"`

	// Operational parameters (captured for deterministic replay/resume).
	TickRate           int    `json:"tick_rate_hz"`
	SnapshotEveryTicks int    `json:"snapshot_every_ticks,omitempty"`
	MassMaxTiles       int    `json:"mass_max_tiles,omitempty"`
	CatalogDigest      string `json:"catalog_digest"`

	NextHandle uint64 `json:"next_handle"`
	Epoch      uint64 `json:"epoch"`

	Records  []RecordV1  `json:"records"`
	Sessions []SessionV1 `json:"sessions,omitempty"`
	// BlockedRLE is the blocked bitmap (x + z*size order), see
	// encoding.EncodeBitsRLE. It is redundant with Records and used to
	// verify an import.
	BlockedRLE string `json:"blocked_rle"`
	Digest     string `json:"digest"`
}

// RecordV1 keeps the footprint rows so a snapshot stays loadable after the
// building was dropped from the catalog.
type RecordV1 struct {
	Handle     uint64   `json:"handle"`
	BuildingID string   `json:"building_id"`
	Anchor     [2]int   `json:"anchor"`
	Rotation   int      `json:"rotation"`
	Rows       []string `json:"rows"`
	Center     [2]int   `json:"center"`
}

// SessionV1 is the resumable part of a client's builder session. Drags in
// progress are not kept.
type SessionV1 struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Mode       string `json:"mode"`
	BuildingID string `json:"building_id,omitempty"`
	Rotation   int    `json:"rotation"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob payload repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// FileName is the snapshot file name for tick, sortable by tick.
func FileName(tick uint64) string {
	return fmt.Sprintf("%d.snap.zst", tick)
}

// Latest returns the snapshot in dir with the highest tick.
func Latest(dir string) (path string, tick uint64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, err
	}
	type cand struct {
		tick uint64
		name string
	}
	var cands []cand
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{tick: n, name: e.Name()})
	}
	if len(cands) == 0 {
		return "", 0, os.ErrNotExist
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick < cands[j].tick })
	last := cands[len(cands)-1]
	return filepath.Join(dir, last.name), last.tick, nil
}
