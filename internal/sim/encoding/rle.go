package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeBitsRLE encodes an occupancy bit sequence into base64(varint runs).
// Runs alternate free/blocked and always start with a (possibly empty) free
// run, so the value of each run is implied by its position.
func EncodeBitsRLE(bits []bool) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	cur := false
	i := 0
	for i < len(bits) {
		run := 0
		for i < len(bits) && bits[i] == cur {
			run++
			i++
		}
		n := binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		cur = !cur
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeBitsRLE decodes a sequence produced by EncodeBitsRLE. want is the
// expected bit count; a mismatch is an error.
func DecodeBitsRLE(b64 string, want int) ([]bool, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]bool, 0, want)
	cur := false
	for i := 0; i < len(raw); {
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if uint64(len(out))+run > uint64(want) {
			return nil, fmt.Errorf("run overflows %d bits", want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, cur)
		}
		cur = !cur
	}
	if len(out) != want {
		return nil, fmt.Errorf("decoded %d bits, want %d", len(out), want)
	}
	return out, nil
}
