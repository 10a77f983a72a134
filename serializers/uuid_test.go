package serializers

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDSerializer_RoundTrip(t *testing.T) {
	s := NewUUIDSerializer()
	id := uuid.New()
	b, err := s.Encode(id)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(b) != 16 {
		t.Fatalf("Encode produced %d bytes, want 16", len(b))
	}
	got, err := s.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.(uuid.UUID) != id {
		t.Fatalf("round trip mismatch: got %v, want %v", got, id)
	}
}

func TestUUIDSerializer_EncodeFromString(t *testing.T) {
	s := NewUUIDSerializer()
	id := uuid.New()
	b1, err := s.Encode(id)
	if err != nil {
		t.Fatalf("Encode(UUID): %v", err)
	}
	b2, err := s.Encode(id.String())
	if err != nil {
		t.Fatalf("Encode(string): %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatal("encoding a UUID and its string form should agree")
	}
}

func TestUUIDSerializer_RejectsBadString(t *testing.T) {
	s := NewUUIDSerializer()
	if _, err := s.Encode("not-a-uuid"); err == nil {
		t.Fatal("expected error for invalid UUID string")
	}
}
