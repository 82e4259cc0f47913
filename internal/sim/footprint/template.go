package footprint

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSize = errors.New("footprint: size must be positive")

type Vec2i struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (v Vec2i) Add(o Vec2i) Vec2i { return Vec2i{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2i) Sub(o Vec2i) Vec2i { return Vec2i{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2i) Neg() Vec2i        { return Vec2i{X: -v.X, Y: -v.Y} }

// Template is the canonical (unrotated) occupancy mask of one building type.
// It is shared by every View that references it and must not be mutated once
// the owning catalog is finalized.
type Template struct {
	Size          Vec2i
	Mask          []bool
	DefaultCenter Vec2i
}

// NewTemplate returns an empty w*h template centered at (w/2, h/2).
func NewTemplate(w, h int) (*Template, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, w, h)
	}
	return &Template{
		Size:          Vec2i{X: w, Y: h},
		Mask:          make([]bool, w*h),
		DefaultCenter: Vec2i{X: w / 2, Y: h / 2},
	}, nil
}

// TemplateFromRows builds a template from a text picture. Each row is one Y
// step; '#' or 'x' marks an occupied cell, '.' or ' ' a free one.
func TemplateFromRows(rows []string) (*Template, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidSize)
	}
	w := len(rows[0])
	t, err := NewTemplate(w, len(rows))
	if err != nil {
		return nil, err
	}
	for y, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("footprint: row %d has width %d, want %d", y, len(row), w)
		}
		for x, ch := range row {
			switch ch {
			case '#', 'x', 'X':
				t.Set(x, y, true)
			case '.', ' ':
			default:
				return nil, fmt.Errorf("footprint: row %d col %d: unexpected %q", y, x, ch)
			}
		}
	}
	return t, nil
}

func (t *Template) Inside(x, y int) bool {
	return x >= 0 && y >= 0 && x < t.Size.X && y < t.Size.Y
}

func (t *Template) Get(x, y int) bool {
	return t.Mask[x+y*t.Size.X]
}

func (t *Template) Set(x, y int, v bool) {
	t.Mask[x+y*t.Size.X] = v
}

// Occupied counts the occupied cells.
func (t *Template) Occupied() int {
	n := 0
	for _, v := range t.Mask {
		if v {
			n++
		}
	}
	return n
}

func (t *Template) Validate() error {
	if t == nil {
		return errors.New("footprint: nil template")
	}
	if t.Size.X <= 0 || t.Size.Y <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, t.Size.X, t.Size.Y)
	}
	if len(t.Mask) != t.Size.X*t.Size.Y {
		return fmt.Errorf("footprint: mask has %d cells, want %d", len(t.Mask), t.Size.X*t.Size.Y)
	}
	if !t.Inside(t.DefaultCenter.X, t.DefaultCenter.Y) {
		return fmt.Errorf("footprint: center (%d,%d) outside %dx%d", t.DefaultCenter.X, t.DefaultCenter.Y, t.Size.X, t.Size.Y)
	}
	return nil
}

// Rows renders the mask back to the text form accepted by TemplateFromRows.
func (t *Template) Rows() []string {
	out := make([]string, 0, t.Size.Y)
	var b strings.Builder
	for y := 0; y < t.Size.Y; y++ {
		b.Reset()
		for x := 0; x < t.Size.X; x++ {
			if t.Get(x, y) {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		out = append(out, b.String())
	}
	return out
}

// Bounds is an axis-aligned box in world units, relative to the building's
// placement origin.
type Bounds struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// BoundsSet holds the visual bounds per quarter turn. The occupancy code never
// reads it; it only aligns previews and picking to the model geometry.
type BoundsSet [4]Bounds

func (b BoundsSet) At(rot int) Bounds { return b[NormalizeRotation(rot)] }
