package footprint

import (
	"errors"
	"reflect"
	"testing"
)

func mustRows(t *testing.T, rows ...string) *Template {
	t.Helper()
	tpl, err := TemplateFromRows(rows)
	if err != nil {
		t.Fatalf("TemplateFromRows: %v", err)
	}
	return tpl
}

func TestView_RoundTripEveryRotation(t *testing.T) {
	sizes := [][2]int{{1, 1}, {2, 1}, {3, 2}, {4, 4}, {5, 2}, {2, 7}}
	for _, sz := range sizes {
		tpl, err := NewTemplate(sz[0], sz[1])
		if err != nil {
			t.Fatalf("NewTemplate: %v", err)
		}
		for rot := 0; rot < 4; rot++ {
			v := NewView(tpl, rot)
			lo, hi := v.Min(), v.Max()
			for x := lo.X; x <= hi.X; x++ {
				for y := lo.Y; y <= hi.Y; y++ {
					p := Vec2i{X: x, Y: y}
					tp := v.ToTemplate(p)
					if !tpl.Inside(tp.X, tp.Y) {
						t.Fatalf("size=%v rot=%d p=%v resolved outside: %v", sz, rot, p, tp)
					}
					if back := v.ToGridLocal(tp); back != p {
						t.Fatalf("size=%v rot=%d p=%v round trip=%v", sz, rot, p, back)
					}
				}
			}
		}
	}
}

func TestView_RoundTripCustomCenter(t *testing.T) {
	tpl := mustRows(t, "###", "#..", "#..")
	tpl.DefaultCenter = Vec2i{X: 0, Y: 2}
	for rot := 0; rot < 4; rot++ {
		v := NewView(tpl, rot)
		for _, p := range v.Cells() {
			if back := v.ToGridLocal(v.ToTemplate(p)); back != p {
				t.Fatalf("rot=%d p=%v round trip=%v", rot, p, back)
			}
		}
		if got := len(v.Cells()); got != tpl.Occupied() {
			t.Fatalf("rot=%d cells=%d want %d", rot, got, tpl.Occupied())
		}
	}
}

func TestView_RotateRightFourTimesRestores(t *testing.T) {
	tpl := mustRows(t, "##.", "#..")
	v := NewView(tpl, 1)
	center, size := v.Center(), v.Size()
	for i := 0; i < 4; i++ {
		v.RotateRight()
	}
	if v.Rotation() != 1 || v.Center() != center || v.Size() != size {
		t.Fatalf("rotation closure broken: rot=%d center=%v size=%v", v.Rotation(), v.Center(), v.Size())
	}
	v.RotateLeft()
	if v.Rotation() != 0 {
		t.Fatalf("RotateLeft from 1: got %d", v.Rotation())
	}
	v.RotateLeft()
	if v.Rotation() != 3 {
		t.Fatalf("RotateLeft from 0: got %d", v.Rotation())
	}
}

func TestView_SizeSwapsOnOddRotation(t *testing.T) {
	tpl, _ := NewTemplate(3, 2)
	v := NewView(tpl, 1)
	if got := v.Size(); got != (Vec2i{X: 2, Y: 3}) {
		t.Fatalf("size(1)=%v want (2,3)", got)
	}
	v.RotateRight()
	if got := v.Size(); got != (Vec2i{X: 3, Y: 2}) {
		t.Fatalf("size(2)=%v want (3,2)", got)
	}
}

func TestView_CenterPerRotation(t *testing.T) {
	tpl, _ := NewTemplate(4, 3) // center (2,1), R=(1,1)
	want := []Vec2i{{X: 2, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 2}}
	for rot, w := range want {
		if got := NewView(tpl, rot).Center(); got != w {
			t.Fatalf("center(%d)=%v want %v", rot, got, w)
		}
	}
}

func TestView_CellsAtQuarterTurn(t *testing.T) {
	tpl := mustRows(t, "##.", "#..")
	v0 := NewView(tpl, 0)
	want0 := []Vec2i{{X: -1, Y: -1}, {X: -1, Y: 0}, {X: 0, Y: -1}}
	if got := v0.Cells(); !reflect.DeepEqual(got, want0) {
		t.Fatalf("rot0 cells=%v want %v", got, want0)
	}
	v1 := NewView(tpl, 1)
	want1 := []Vec2i{{X: -1, Y: -1}, {X: 0, Y: -1}, {X: 0, Y: 0}}
	if got := v1.Cells(); !reflect.DeepEqual(got, want1) {
		t.Fatalf("rot1 cells=%v want %v", got, want1)
	}
}

func TestView_GetOutOfRangeReturnsIndexError(t *testing.T) {
	tpl := mustRows(t, "##", "##")
	v := NewView(tpl, 3)
	_, err := v.Get(Vec2i{X: 5, Y: 0})
	var ie *IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IndexError, got %v", err)
	}
	if ie.Rotation != 3 || ie.Local != (Vec2i{X: 5, Y: 0}) {
		t.Fatalf("unexpected error payload: %+v", ie)
	}
	before := append([]bool(nil), tpl.Mask...)
	if err := v.Set(Vec2i{X: -9, Y: 0}, false); err == nil {
		t.Fatalf("expected Set to fail")
	}
	if !reflect.DeepEqual(before, tpl.Mask) {
		t.Fatalf("mask mutated by failed Set")
	}
	if v.Covers(Vec2i{X: 5, Y: 0}) {
		t.Fatalf("out of range point must not be covered")
	}
}

func TestView_SetWritesThroughRotation(t *testing.T) {
	tpl, _ := NewTemplate(3, 2)
	v := NewView(tpl, 2)
	if err := v.Set(v.Min(), true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Min at rot 2 is the far corner of the canonical template.
	if !tpl.Get(2, 1) || tpl.Occupied() != 1 {
		t.Fatalf("expected (2,1) set, mask=%v", tpl.Rows())
	}
	got, err := v.Get(v.Min())
	if err != nil || !got {
		t.Fatalf("Get(Min)=%v,%v", got, err)
	}
}

func TestTemplateFromRows_Errors(t *testing.T) {
	if _, err := TemplateFromRows(nil); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
	if _, err := TemplateFromRows([]string{"##", "#"}); err == nil {
		t.Fatalf("expected ragged rows error")
	}
	if _, err := TemplateFromRows([]string{"#?"}); err == nil {
		t.Fatalf("expected bad glyph error")
	}
	tpl := mustRows(t, "#.#")
	if got := tpl.Rows(); !reflect.DeepEqual(got, []string{"#.#"}) {
		t.Fatalf("Rows()=%v", got)
	}
	if err := tpl.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tpl.Mask = tpl.Mask[:2]
	if err := tpl.Validate(); err == nil {
		t.Fatalf("expected mask length error")
	}
}
