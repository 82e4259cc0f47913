package encoding

import "testing"

func TestBitsRLE_RoundTrip(t *testing.T) {
	in := make([]bool, 0, 200)
	in = append(in, true, true, false, true)
	for i := 0; i < 50; i++ {
		in = append(in, false)
	}
	for i := 0; i < 70; i++ {
		in = append(in, true)
	}
	in = append(in, false, true)

	enc := EncodeBitsRLE(in)
	out, err := DecodeBitsRLE(enc, len(in))
	if err != nil {
		t.Fatalf("DecodeBitsRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, out[i], in[i])
		}
	}
}

func TestBitsRLE_AllFreeAndEmpty(t *testing.T) {
	out, err := DecodeBitsRLE(EncodeBitsRLE(make([]bool, 100)), 100)
	if err != nil || len(out) != 100 {
		t.Fatalf("all free: len=%d err=%v", len(out), err)
	}
	out, err = DecodeBitsRLE(EncodeBitsRLE(nil), 0)
	if err != nil || len(out) != 0 {
		t.Fatalf("empty: len=%d err=%v", len(out), err)
	}
}

func TestBitsRLE_LengthMismatch(t *testing.T) {
	enc := EncodeBitsRLE([]bool{true, false, true})
	if _, err := DecodeBitsRLE(enc, 4); err == nil {
		t.Fatalf("expected short input error")
	}
	if _, err := DecodeBitsRLE(enc, 2); err == nil {
		t.Fatalf("expected overflow error")
	}
	if _, err := DecodeBitsRLE("!!", 1); err == nil {
		t.Fatalf("expected base64 error")
	}
}
