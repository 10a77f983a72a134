package serializers

import (
	"encoding/binary"
	"fmt"
	"math"
)

// IntSerializer encodes signed 64-bit integers as 8-byte big-endian keys
// with the sign bit flipped, so the unsigned byte order matches numeric
// order (negative keys sort before positive ones).
type IntSerializer struct{}

// NewIntSerializer returns a fixed-width, order-preserving serializer for
// int64 keys.
func NewIntSerializer() *IntSerializer { return &IntSerializer{} }

// Size reports the fixed key width in bytes.
func (s *IntSerializer) Size() int { return 8 }

// Encode converts an int, int32, int64, or uint64 into its ordered 8-byte
// form.
func (s *IntSerializer) Encode(v any) ([]byte, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("serializers: value %d overflows int64 key space", x)
		}
		n = int64(x)
	default:
		return nil, fmt.Errorf("serializers: IntSerializer cannot encode %T", v)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n)^signBit)
	return buf, nil
}

// Decode reverses Encode, returning an int64.
func (s *IntSerializer) Decode(b []byte) (any, error) {
	if len(b) != 8 {
		return nil, fmt.Errorf("serializers: IntSerializer.Decode wants 8 bytes, got %d", len(b))
	}
	u := binary.BigEndian.Uint64(b) ^ signBit
	return int64(u), nil
}

// signBit flips the sign bit so two's-complement negative numbers (which
// have it set) sort below positive numbers in unsigned big-endian order.
const signBit = uint64(1) << 63
