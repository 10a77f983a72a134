package serializers

import (
	"bytes"
	"sort"
	"testing"
)

func TestIntSerializer_OrderMatchesNumericOrder(t *testing.T) {
	s := NewIntSerializer()
	values := []int64{-100, -1, 0, 1, 42, 1000, 1 << 40}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		b, err := s.Encode(v)
		if err != nil {
			t.Fatalf("Encode(%d): %v", v, err)
		}
		if len(b) != s.Size() {
			t.Fatalf("Encode(%d) produced %d bytes, want %d", v, len(b), s.Size())
		}
		encoded[i] = b
	}
	if !sort.SliceIsSorted(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 }) {
		t.Fatal("encoded keys are not in numeric order")
	}
}

func TestIntSerializer_RoundTrip(t *testing.T) {
	s := NewIntSerializer()
	for _, v := range []int64{-7, 0, 123456789} {
		b, err := s.Encode(v)
		if err != nil {
			t.Fatalf("Encode(%d): %v", v, err)
		}
		got, err := s.Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.(int64) != v {
			t.Fatalf("round trip %d -> %d", v, got)
		}
	}
}

func TestIntSerializer_RejectsWrongType(t *testing.T) {
	s := NewIntSerializer()
	if _, err := s.Encode("not an int"); err == nil {
		t.Fatal("expected error encoding a string")
	}
}
