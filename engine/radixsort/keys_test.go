package radixsort

import (
	"slices"
	"testing"
)

func TestKeyWidths(t *testing.T) {
	if KeyBits[uint32]() != 32 || Passes[uint32]() != 4 {
		t.Errorf("uint32: %d bits, %d passes", KeyBits[uint32](), Passes[uint32]())
	}
	if KeyBits[uint64]() != 64 || Passes[uint64]() != 8 {
		t.Errorf("uint64: %d bits, %d passes", KeyBits[uint64](), Passes[uint64]())
	}
}

func TestGenerateKeysIsSeeded(t *testing.T) {
	a := GenerateKeys[uint32](1000, 42)
	b := GenerateKeys[uint32](1000, 42)
	c := GenerateKeys[uint32](1000, 43)
	if !slices.Equal(a, b) {
		t.Error("same seed produced different keys")
	}
	if slices.Equal(a, c) {
		t.Error("different seeds produced the same keys")
	}
	for _, k := range a {
		if k > maxRandom32 {
			t.Fatalf("key %#x above %#x", k, maxRandom32)
		}
	}
	for _, k := range GenerateKeys[uint64](1000, 1) {
		if k > maxRandom64 {
			t.Fatalf("key %#x above %#x", k, uint64(maxRandom64))
		}
	}
}

func TestKeyEncodingRoundTrip(t *testing.T) {
	k32 := []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF}
	if got := decodeKeys[uint32](encodeKeys(k32), len(k32)); !slices.Equal(got, k32) {
		t.Errorf("uint32 round trip = %v", got)
	}
	k64 := []uint64{0, 1 << 40, 0xFFFFFFFFFFFFFFFF}
	if got := decodeKeys[uint64](encodeKeys(k64), len(k64)); !slices.Equal(got, k64) {
		t.Errorf("uint64 round trip = %v", got)
	}
}

func TestGroupRange(t *testing.T) {
	p := kernelParams{elements: 600, blocksPerGroup: 2}
	tests := []struct{ wid, start, end uint32 }{
		{0, 0, 512},
		{1, 512, 600},
		{2, 600, 600},
	}
	for _, tt := range tests {
		s, e := groupRange(p, tt.wid)
		if s != tt.start || e != tt.end {
			t.Errorf("group %d = [%d,%d), want [%d,%d)", tt.wid, s, e, tt.start, tt.end)
		}
	}
}

func TestResultErr(t *testing.T) {
	r := &Result[uint32]{Keys: []uint32{1, 2, 3}, Elements: 3}
	r.validate([]uint32{3, 2, 1})
	if !r.Valid || r.Err() != nil {
		t.Fatalf("valid run reported %v", r.Err())
	}
	r.Keys = []uint32{1, 3, 2}
	r.validate([]uint32{3, 2, 1})
	if r.Valid || r.Mismatches != 2 || r.FirstMismatch != 1 {
		t.Fatalf("result = %+v", r)
	}
	if r.Err() == nil {
		t.Fatal("invalid run has no error")
	}
}
