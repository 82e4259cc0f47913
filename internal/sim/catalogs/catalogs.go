package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gridbuild.dev/internal/sim/footprint"
)

//go:embed building.schema.json
var buildingSchemaJSON string

type Catalogs struct {
	Buildings BuildingCatalog
}

type BuildingCatalog struct {
	ByID   map[string]Building
	IDs    []string
	Digest string
}

// BuildingDef is the on-disk form of one building type.
type BuildingDef struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Rows   []string        `json:"rows"`
	Center *[2]int         `json:"center,omitempty"`
	Bounds [][2][3]float64 `json:"bounds,omitempty"`
}

// Building is a compiled definition. Template is shared by every placement of
// this type and must not be mutated.
type Building struct {
	ID        string
	Name      string
	Template  *footprint.Template
	Bounds    footprint.BoundsSet
	HasBounds bool
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBuildings(filepath.Join(configDir, "buildings"), &c.Buildings); err != nil {
		return nil, err
	}
	return &c, nil
}

// Template satisfies the builder's catalog lookup.
func (c *Catalogs) Template(id string) (*footprint.Template, bool) {
	b, ok := c.Buildings.ByID[id]
	if !ok {
		return nil, false
	}
	return b.Template, true
}

func (c *Catalogs) Building(id string) (Building, bool) {
	b, ok := c.Buildings.ByID[id]
	return b, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var buildingSchema *jsonschema.Schema

func schema() (*jsonschema.Schema, error) {
	if buildingSchema != nil {
		return buildingSchema, nil
	}
	s, err := jsonschema.CompileString("building.schema.json", buildingSchemaJSON)
	if err != nil {
		return nil, err
	}
	buildingSchema = s
	return s, nil
}

// ValidateJSON checks raw against the building schema.
func ValidateJSON(raw []byte) error {
	s, err := schema()
	if err != nil {
		return fmt.Errorf("compile building schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

// Compile turns a definition into a placeable Building.
func Compile(def BuildingDef) (Building, error) {
	if def.ID == "" {
		return Building{}, fmt.Errorf("missing id")
	}
	tpl, err := footprint.TemplateFromRows(def.Rows)
	if err != nil {
		return Building{}, fmt.Errorf("%s: %w", def.ID, err)
	}
	if def.Center != nil {
		tpl.DefaultCenter = footprint.Vec2i{X: def.Center[0], Y: def.Center[1]}
	}
	if err := tpl.Validate(); err != nil {
		return Building{}, fmt.Errorf("%s: %w", def.ID, err)
	}
	if tpl.Occupied() == 0 {
		return Building{}, fmt.Errorf("%s: footprint has no occupied cells", def.ID)
	}
	b := Building{ID: def.ID, Name: def.Name, Template: tpl}
	if len(def.Bounds) > 0 {
		if len(def.Bounds) != 4 {
			return Building{}, fmt.Errorf("%s: want 4 bounds, got %d", def.ID, len(def.Bounds))
		}
		for i, mm := range def.Bounds {
			for k := 0; k < 3; k++ {
				if mm[0][k] > mm[1][k] {
					return Building{}, fmt.Errorf("%s: bounds[%d] min > max on axis %d", def.ID, i, k)
				}
			}
			b.Bounds[i] = footprint.Bounds{Min: mm[0], Max: mm[1]}
		}
		b.HasBounds = true
	}
	return b, nil
}

// Def renders the compiled building back to its on-disk form.
func (b Building) Def() BuildingDef {
	c := [2]int{b.Template.DefaultCenter.X, b.Template.DefaultCenter.Y}
	def := BuildingDef{ID: b.ID, Name: b.Name, Rows: b.Template.Rows(), Center: &c}
	if b.HasBounds {
		for _, bb := range b.Bounds {
			def.Bounds = append(def.Bounds, [2][3]float64{bb.Min, bb.Max})
		}
	}
	return def
}

func loadBuildings(dir string, out *BuildingCatalog) error {
	out.ByID = map[string]Building{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		if err := ValidateJSON(b); err != nil {
			return fmt.Errorf("building %s: %w", filepath.Base(p), err)
		}
		var def BuildingDef
		if err := json.Unmarshal(b, &def); err != nil {
			return fmt.Errorf("building %s: %w", filepath.Base(p), err)
		}
		bld, err := Compile(def)
		if err != nil {
			return fmt.Errorf("building %s: %w", filepath.Base(p), err)
		}
		if _, dup := out.ByID[bld.ID]; dup {
			return fmt.Errorf("building %s: duplicate id %s", filepath.Base(p), bld.ID)
		}
		out.ByID[bld.ID] = bld
		out.IDs = append(out.IDs, bld.ID)
	}
	sort.Strings(out.IDs)
	out.Digest = sha256Hex(concat.Bytes())
	return nil
}
