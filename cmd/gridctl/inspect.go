package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/sim/encoding"
)

func runInspect(out io.Writer, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	fmt.Fprintf(out, "snapshot v%d world=%s tick=%s size=%s written %s\n",
		snap.Header.Version, snap.Header.WorldID, humanize.Comma(int64(snap.Header.Tick)),
		humanize.Bytes(uint64(fi.Size())), humanize.RelTime(fi.ModTime(), time.Now(), "ago", "from now"))
	fmt.Fprintf(out, "grid %dx%d cell=%g origin=(%g,%g,%g) epoch=%d next_handle=%d\n",
		snap.GridSize, snap.GridSize, snap.CellSize, snap.Origin[0], snap.Origin[1], snap.Origin[2], snap.Epoch, snap.NextHandle)
	fmt.Fprintf(out, "tick_rate=%dHz snapshot_every=%d mass_max_tiles=%d catalog=%s\n",
		snap.TickRate, snap.SnapshotEveryTicks, snap.MassMaxTiles, shortDigest(snap.CatalogDigest))

	cells := snap.GridSize * snap.GridSize
	if bits, err := encoding.DecodeBitsRLE(snap.BlockedRLE, cells); err != nil {
		fmt.Fprintf(out, "blocked: [ERROR] %v\n", err)
	} else {
		blocked := 0
		for _, b := range bits {
			if b {
				blocked++
			}
		}
		pct := 0.0
		if cells > 0 {
			pct = 100 * float64(blocked) / float64(cells)
		}
		fmt.Fprintf(out, "blocked %s of %s cells (%.1f%%)\n", humanize.Comma(int64(blocked)), humanize.Comma(int64(cells)), pct)
	}

	byBuilding := map[string]int{}
	for _, r := range snap.Records {
		byBuilding[r.BuildingID]++
	}
	ids := make([]string, 0, len(byBuilding))
	for id := range byBuilding {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(out, "placements (%d):\n", len(snap.Records))
	for _, id := range ids {
		fmt.Fprintf(out, "  %-14s %d\n", id, byBuilding[id])
	}

	fmt.Fprintf(out, "sessions (%d):\n", len(snap.Sessions))
	for _, s := range snap.Sessions {
		fmt.Fprintf(out, "  %s name=%q mode=%s", s.ID, s.Name, s.Mode)
		if s.BuildingID != "" {
			fmt.Fprintf(out, " building=%s", s.BuildingID)
		}
		fmt.Fprintf(out, " rotation=%d\n", s.Rotation)
	}
	fmt.Fprintf(out, "digest %s\n", snap.Digest)
	return nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
