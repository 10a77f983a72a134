package serializers

import (
	"bytes"
	"sort"
	"testing"
)

func TestStringSerializer_ByteOrderMatchesNativeOrder(t *testing.T) {
	s := NewStringSerializer(16)
	values := []string{"alpha", "beta", "gamma", "zzz"}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		b, err := s.Encode(v)
		if err != nil {
			t.Fatalf("Encode(%q): %v", v, err)
		}
		if len(b) != 16 {
			t.Fatalf("Encode(%q) produced %d bytes, want 16", v, len(b))
		}
		encoded[i] = b
	}
	if !sort.SliceIsSorted(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 }) {
		t.Fatal("encoded keys are not in byte order")
	}
}

func TestStringSerializer_DecodeTrimsPadding(t *testing.T) {
	s := NewStringSerializer(16)
	b, err := s.Encode("hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := s.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.(string) != "hello" {
		t.Fatalf("Decode = %q, want %q", got, "hello")
	}
}

func TestStringSerializer_Truncation(t *testing.T) {
	s := NewStringSerializer(4)
	b, err := s.Encode("toolong")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(b) != 4 {
		t.Fatalf("Encode truncation produced %d bytes, want 4", len(b))
	}
}

func TestStringSerializer_WithLocale(t *testing.T) {
	s := NewStringSerializer(32, WithLocale("de"))
	b1, err := s.Encode("apfel")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b2, err := s.Encode("birne")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Compare(b1, b2) >= 0 {
		t.Fatal("collated key for \"apfel\" should sort before \"birne\"")
	}
}
