package footprint

// View is a rotated projection of a Template.
//
// Grid-local coordinates have their origin at the building's rotation center
// and do not depend on the rotation; template-local coordinates have their
// origin at the template's first cell and never move.
type View struct {
	template *Template
	rotation int
}

func NewView(t *Template, rotation int) *View {
	return &View{template: t, rotation: NormalizeRotation(rotation)}
}

func (v *View) Template() *Template { return v.template }
func (v *View) Rotation() int       { return v.rotation }

// Clone returns an independent view over the same shared template.
func (v *View) Clone() *View {
	c := *v
	return &c
}

func (v *View) RotateLeft()  { v.rotation = (v.rotation + 3) % 4 }
func (v *View) RotateRight() { v.rotation = (v.rotation + 1) % 4 }

func (v *View) SetRotation(r int) { v.rotation = NormalizeRotation(r) }

// Center returns the pivot for the current rotation. Rotating an asymmetric
// footprint moves its pivot; this closed form keeps it in place visually.
func (v *View) Center() Vec2i {
	return v.centerFor(v.rotation)
}

func (v *View) centerFor(rot int) Vec2i {
	t := v.template
	lx, ly := t.DefaultCenter.X, t.DefaultCenter.Y
	rx, ry := t.Size.X-1-lx, t.Size.Y-1-ly
	switch rot & 3 {
	case 0:
		return Vec2i{X: lx, Y: ly}
	case 1:
		return Vec2i{X: ly, Y: rx}
	case 2:
		return Vec2i{X: rx, Y: ry}
	default: // 3
		return Vec2i{X: ry, Y: lx}
	}
}

func (v *View) Size() Vec2i {
	s := v.template.Size
	if v.rotation%2 == 0 {
		return s
	}
	return Vec2i{X: s.Y, Y: s.X}
}

// Min and Max are inclusive grid-local extents, usable directly as loop
// bounds over every cell of the footprint.
func (v *View) Min() Vec2i {
	return v.Center().Neg()
}

func (v *View) Max() Vec2i {
	if v.template.Size.X == 0 && v.template.Size.Y == 0 {
		return Vec2i{}
	}
	return v.Size().Sub(Vec2i{X: 1, Y: 1}).Sub(v.Center())
}

// ToTemplate maps a grid-local point into the template's native frame.
func (v *View) ToTemplate(p Vec2i) Vec2i {
	t := v.template
	w, h := t.Size.X, t.Size.Y
	if v.rotation == 0 {
		return p.Add(t.DefaultCenter)
	}
	q := p.Add(v.Center())
	switch v.rotation {
	case 1:
		return Vec2i{X: q.Y, Y: h - 1 - q.X}
	case 2:
		return Vec2i{X: w - 1 - q.X, Y: h - 1 - q.Y}
	default: // 3
		return Vec2i{X: w - 1 - q.Y, Y: q.X}
	}
}

// ToGridLocal is the exact inverse of ToTemplate.
func (v *View) ToGridLocal(tp Vec2i) Vec2i {
	t := v.template
	w, h := t.Size.X, t.Size.Y
	if v.rotation == 0 {
		return tp.Sub(t.DefaultCenter)
	}
	var q Vec2i
	switch v.rotation {
	case 1:
		q = Vec2i{X: h - 1 - tp.Y, Y: tp.X}
	case 2:
		q = Vec2i{X: w - 1 - tp.X, Y: h - 1 - tp.Y}
	default: // 3
		q = Vec2i{X: tp.Y, Y: w - 1 - tp.X}
	}
	return q.Sub(v.Center())
}

func (v *View) resolve(p Vec2i) (Vec2i, error) {
	tp := v.ToTemplate(p)
	if !v.template.Inside(tp.X, tp.Y) {
		return tp, &IndexError{
			Local:    p,
			Template: tp,
			Rotation: v.rotation,
			Size:     v.template.Size,
		}
	}
	return tp, nil
}

func (v *View) Get(p Vec2i) (bool, error) {
	tp, err := v.resolve(p)
	if err != nil {
		return false, err
	}
	return v.template.Get(tp.X, tp.Y), nil
}

// Set writes through to the shared template. Only editor tooling should call
// it; the mask is left untouched when the point does not resolve.
func (v *View) Set(p Vec2i, val bool) error {
	tp, err := v.resolve(p)
	if err != nil {
		return err
	}
	v.template.Set(tp.X, tp.Y, val)
	return nil
}

// Covers reports whether grid-local p is an occupied cell. Points that do not
// resolve inside the template are not covered.
func (v *View) Covers(p Vec2i) bool {
	tp := v.ToTemplate(p)
	if !v.template.Inside(tp.X, tp.Y) {
		return false
	}
	return v.template.Get(tp.X, tp.Y)
}

// Cells lists every occupied grid-local offset, x outer, y inner.
func (v *View) Cells() []Vec2i {
	lo, hi := v.Min(), v.Max()
	out := make([]Vec2i, 0, v.template.Occupied())
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			p := Vec2i{X: x, Y: y}
			if v.Covers(p) {
				out = append(out, p)
			}
		}
	}
	return out
}
