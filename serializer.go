package bptree

// KeySerializer is the out-of-core "capability" spec.md §1 describes:
// serialize(key) -> bytes of fixed width, whose byte order matches the
// intended key order. Engine never constructs one itself — callers supply
// a *serializers.IntSerializer, *serializers.StringSerializer, or
// *serializers.UUIDSerializer (or their own type) via Options.Serializer.
// Engine does not call it either: callers encode keys with it before
// passing them to Insert/Get/Range.
type KeySerializer interface {
	// Size is the fixed width, in bytes, every serialized key occupies.
	// It must equal the Options.KeySize the Engine was opened with.
	Size() int

	// Encode converts v into its fixed-width, order-preserving byte form.
	Encode(v any) ([]byte, error)

	// Decode reverses Encode.
	Decode(b []byte) (any, error)
}
