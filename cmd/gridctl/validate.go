package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/footprint"
	"gridbuild.dev/internal/sim/tuning"
)

type buildingReport struct {
	File     string
	ID       string
	Cells    int
	Size     footprint.Vec2i
	Center   footprint.Vec2i
	HasBound bool
	Err      error
}

// checkBuildings validates every building file on its own, so one bad file
// does not hide the others.
func checkBuildings(dir string) ([]buildingReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	seen := map[string]string{}
	out := make([]buildingReport, 0, len(files))
	for _, name := range files {
		r := buildingReport{File: name}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			r.Err = err
			out = append(out, r)
			continue
		}
		if err := catalogs.ValidateJSON(raw); err != nil {
			r.Err = fmt.Errorf("schema: %w", err)
			out = append(out, r)
			continue
		}
		var def catalogs.BuildingDef
		if err := json.Unmarshal(raw, &def); err != nil {
			r.Err = err
			out = append(out, r)
			continue
		}
		r.ID = def.ID
		b, err := catalogs.Compile(def)
		if err != nil {
			r.Err = err
			out = append(out, r)
			continue
		}
		if prev, dup := seen[b.ID]; dup {
			r.Err = fmt.Errorf("duplicate id %s (also in %s)", b.ID, prev)
			out = append(out, r)
			continue
		}
		seen[b.ID] = name
		r.Cells = b.Template.Occupied()
		r.Size = b.Template.Size
		r.Center = b.Template.DefaultCenter
		r.HasBound = b.HasBounds
		out = append(out, r)
	}
	return out, nil
}

func runValidate(out io.Writer, configDir, tuningPath string) error {
	reports, err := checkBuildings(filepath.Join(configDir, "buildings"))
	if err != nil {
		return fmt.Errorf("reading buildings: %w", err)
	}

	bad := 0
	fmt.Fprintf(out, "BUILDINGS (%d):\n", len(reports))
	for _, r := range reports {
		if r.Err != nil {
			bad++
			fmt.Fprintf(out, "  [ERROR] %s: %v\n", r.File, r.Err)
			continue
		}
		bounds := "cells"
		if r.HasBound {
			bounds = "explicit"
		}
		fmt.Fprintf(out, "  %-14s %dx%d cells=%d center=(%d,%d) pick=%s\n",
			r.ID, r.Size.X, r.Size.Y, r.Cells, r.Center.X, r.Center.Y, bounds)
	}

	tp := tuningPath
	if tp == "" {
		tp = filepath.Join(configDir, "tuning.yaml")
		if _, err := os.Stat(tp); err != nil {
			tp = ""
		}
	}
	if tp != "" {
		t, err := tuning.Load(tp)
		if err != nil {
			bad++
			fmt.Fprintf(out, "TUNING: [ERROR] %v\n", err)
		} else {
			fmt.Fprintf(out, "TUNING: grid=%d cell=%g tick_rate=%dHz mass_max_tiles=%d digest=%s\n",
				t.GridSize, t.CellSize, t.TickRateHz, t.MassPlace.MaxTiles, t.Digest()[:12])
		}
	}

	if bad > 0 {
		fmt.Fprintf(out, "Result: INVALID (%d problem(s))\n", bad)
		return fmt.Errorf("%d invalid config file(s)", bad)
	}
	fmt.Fprintln(out, "Result: VALID")
	return nil
}
