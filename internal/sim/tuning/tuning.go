package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gridbuild.dev/internal/sim/occupancy"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	GridSize int        `yaml:"grid_size"`
	CellSize float64    `yaml:"cell_size"`
	Origin   [3]float64 `yaml:"origin"`

	// MaxGridSize bounds admin resizes.
	MaxGridSize int `yaml:"max_grid_size"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	MassPlace  MassPlace  `yaml:"mass_place"`
	RateLimits RateLimits `yaml:"rate_limits"`
}

type MassPlace struct {
	// MaxTiles caps the tiles one drag enumerates inside a tick.
	MaxTiles int `yaml:"max_tiles"`
}

// RateLimits bound per-client mutations in fixed tick windows. A zero window
// or max disables the limit.
type RateLimits struct {
	PlaceWindowTicks      int `yaml:"place_window_ticks"`
	PlaceMax              int `yaml:"place_max"`
	MassCommitWindowTicks int `yaml:"mass_commit_window_ticks"`
	MassCommitMax         int `yaml:"mass_commit_max"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		GridSize:           64,
		CellSize:           1.0,
		MaxGridSize:        1024,
		TickRateHz:         10,
		SnapshotEveryTicks: 600,
		MassPlace:          MassPlace{MaxTiles: 1024},
		RateLimits: RateLimits{
			PlaceWindowTicks:      10,
			PlaceMax:              20,
			MassCommitWindowTicks: 10,
			MassCommitMax:         2,
		},
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.MaxGridSize <= 0 || t.MaxGridSize > occupancy.MaxSize:
		return fmt.Errorf("max_grid_size must be in 1..%d (got %d)", occupancy.MaxSize, t.MaxGridSize)
	case t.GridSize <= 0 || t.GridSize > t.MaxGridSize:
		return fmt.Errorf("grid_size must be in 1..%d (got %d)", t.MaxGridSize, t.GridSize)
	case !(t.CellSize > 0):
		return fmt.Errorf("cell_size must be > 0 (got %v)", t.CellSize)
	case t.TickRateHz <= 0:
		return fmt.Errorf("tick_rate_hz must be > 0 (got %d)", t.TickRateHz)
	case t.SnapshotEveryTicks < 0:
		return fmt.Errorf("snapshot_every_ticks must be >= 0 (got %d)", t.SnapshotEveryTicks)
	case t.MassPlace.MaxTiles <= 0:
		return fmt.Errorf("mass_place.max_tiles must be > 0 (got %d)", t.MassPlace.MaxTiles)
	}
	return nil
}

// Digest hashes the canonical JSON of the values actually applied.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
