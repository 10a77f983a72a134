// Package serializers provides fixed-width, order-preserving key encodings
// for use as a bptree.KeySerializer: integers, strings, and UUIDs. Each
// serializer produces bytes whose natural (unsigned, lexicographic) order
// matches the intended key order, so they can be used directly as B+tree
// keys without the engine ever inspecting the decoded value.
package serializers
