package serializers

import (
	"fmt"

	"github.com/google/uuid"
)

// UUIDSerializer encodes uuid.UUID values as their native 16 big-endian
// bytes, which already sort in the same order RFC 4122 string comparison
// would produce.
type UUIDSerializer struct{}

// NewUUIDSerializer returns a fixed 16-byte UUID key serializer.
func NewUUIDSerializer() *UUIDSerializer { return &UUIDSerializer{} }

// Size reports the fixed key width in bytes.
func (s *UUIDSerializer) Size() int { return 16 }

// Encode converts a uuid.UUID or its canonical string form into 16 bytes.
func (s *UUIDSerializer) Encode(v any) ([]byte, error) {
	switch x := v.(type) {
	case uuid.UUID:
		b := make([]byte, 16)
		copy(b, x[:])
		return b, nil
	case string:
		id, err := uuid.Parse(x)
		if err != nil {
			return nil, fmt.Errorf("serializers: UUIDSerializer cannot parse %q: %w", x, err)
		}
		b := make([]byte, 16)
		copy(b, id[:])
		return b, nil
	default:
		return nil, fmt.Errorf("serializers: UUIDSerializer cannot encode %T", v)
	}
}

// Decode reverses Encode, returning a uuid.UUID.
func (s *UUIDSerializer) Decode(b []byte) (any, error) {
	if len(b) != 16 {
		return nil, fmt.Errorf("serializers: UUIDSerializer.Decode wants 16 bytes, got %d", len(b))
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return nil, err
	}
	return id, nil
}
