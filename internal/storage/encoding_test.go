package storage

import (
	"errors"
	"math"
	"testing"
)

func TestEncodeVector_layout(t *testing.T) {
	// 1.0f is 0x3f800000, little-endian.
	b := EncodeVector([]float32{1})
	want := []byte{0x00, 0x00, 0x80, 0x3f}
	if len(b) != 4 {
		t.Fatalf("len = %d", len(b))
	}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("bytes = %x, want %x", b, want)
		}
	}
}

func TestDecodeVector(t *testing.T) {
	in := []float32{0.5, -2, float32(math.Pi), 0}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}

	empty, err := DecodeVector(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty blob: %v, %v", empty, err)
	}

	if _, err := DecodeVector([]byte{1, 2, 3}); !errors.Is(err, ErrCorruptVector) {
		t.Errorf("truncated blob: err = %v, want ErrCorruptVector", err)
	}
}
