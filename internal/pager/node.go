package pager

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// B+Tree on-disk node format
// ───────────────────────────────────────────────────────────────────────────
//
// Both internal and leaf pages hold a fixed-stride array of entries — no
// slot directory and no per-record length prefixes, since every key is
// exactly KeySize bytes and every inline value is exactly ValueSize bytes
// (short values are zero-padded, values too large for ValueSize spill to an
// overflow chain).
//
// Internal entry (stride = KeySize + 4):
//   [0:K]   Key        (K bytes) — separator
//   [K:K+4] ChildID    (uint32 LE) — left child for this separator
//
// Leaf entry (stride = KeySize + 1 + payloadWidth, payloadWidth = max(ValueSize, 8)):
//   [0:K]     Key            (K bytes)
//   [K]       Flags          (1 byte) — bit 0: overflow
//   if overflow:
//     [K+1:K+5]  OverflowPageID (uint32 LE)
//     [K+5:K+9]  TotalSize      (uint32 LE)
//     remaining payload bytes are zero-padded
//   else:
//     [K+1:K+1+V] Value        (V bytes, zero-padded to ValueSize)
//
// Page-level metadata stored right after PageHeader:
//   [32:33]  IsLeaf       (uint8 — 1=leaf, 0=internal)
//   [33:37]  KeyCount     (uint32 LE)
//   [37:41]  RightChild   (uint32 LE) — only meaningful for internal pages
//   [41:45]  NextLeaf     (uint32 LE) — only meaningful for leaf pages
//   [45:49]  PrevLeaf     (uint32 LE) — only meaningful for leaf pages
//   [49:53]  Capacity     (uint32 LE) — max entries this page can hold
//
// Entries start at offset nodeEntriesOff (53), indexed directly by stride —
// no slot table, no compaction pass, since every stride is identical.

const (
	nodeMetaOff       = PageHeaderSize   // 32
	nodeIsLeafOff     = nodeMetaOff      // 32, 1 byte
	nodeKeyCountOff   = nodeMetaOff + 1  // 33, 4 bytes
	nodeRightChildOff = nodeMetaOff + 5  // 37, 4 bytes (internal)
	nodeNextLeafOff   = nodeMetaOff + 9  // 41, 4 bytes (leaf)
	nodePrevLeafOff   = nodeMetaOff + 13 // 45, 4 bytes (leaf)
	nodeCapacityOff   = nodeMetaOff + 17 // 49, 4 bytes
	nodeEntriesOff    = nodeMetaOff + 21 // 53
)

const leafFlagOverflow uint8 = 1 << 0

// payloadWidth returns the fixed width reserved for a leaf entry's value
// slot, large enough to hold either an inline value or an overflow pointer
// plus total-size field.
func payloadWidth(valueSize int) int {
	if valueSize < 8 {
		return 8
	}
	return valueSize
}

func internalStride(keySize int) int { return keySize + 4 }

func leafStride(keySize, valueSize int) int { return keySize + 1 + payloadWidth(valueSize) }

// NodeLayout captures the fixed-width parameters of every node page in a
// single tree — derived once from the page size and the superblock's
// KeySize/ValueSize. Order is not part of it: a node's capacity is the
// number of fixed-width entries that fit in one page.
type NodeLayout struct {
	PageSize  int
	KeySize   int
	ValueSize int
}

func (nl NodeLayout) internalCapacity() int {
	return (nl.PageSize - nodeEntriesOff) / internalStride(nl.KeySize)
}

func (nl NodeLayout) leafCapacity() int {
	return (nl.PageSize - nodeEntriesOff) / leafStride(nl.KeySize, nl.ValueSize)
}

// BTreeNode wraps a page buffer as a fixed-width B+tree node.
type BTreeNode struct {
	buf    []byte
	layout NodeLayout
}

// WrapBTreeNode wraps an existing page buffer with the given layout.
func WrapBTreeNode(buf []byte, layout NodeLayout) *BTreeNode {
	return &BTreeNode{buf: buf, layout: layout}
}

// InitBTreeNode initialises a page buffer as an empty B+tree node.
func InitBTreeNode(buf []byte, id PageID, leaf bool, layout NodeLayout) *BTreeNode {
	pt := PageTypeBTreeInternal
	if leaf {
		pt = PageTypeBTreeLeaf
	}
	h := &PageHeader{Type: pt, ID: id}
	MarshalHeader(h, buf)
	if leaf {
		buf[nodeIsLeafOff] = 1
	} else {
		buf[nodeIsLeafOff] = 0
	}
	binary.LittleEndian.PutUint32(buf[nodeKeyCountOff:], 0)
	binary.LittleEndian.PutUint32(buf[nodeRightChildOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint32(buf[nodeNextLeafOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint32(buf[nodePrevLeafOff:], uint32(InvalidPageID))
	n := &BTreeNode{buf: buf, layout: layout}
	if leaf {
		binary.LittleEndian.PutUint32(buf[nodeCapacityOff:], uint32(layout.leafCapacity()))
	} else {
		binary.LittleEndian.PutUint32(buf[nodeCapacityOff:], uint32(layout.internalCapacity()))
	}
	return n
}

// ── Accessors ──────────────────────────────────────────────────────────────

func (n *BTreeNode) IsLeaf() bool { return n.buf[nodeIsLeafOff] == 1 }

func (n *BTreeNode) KeyCount() int {
	return int(binary.LittleEndian.Uint32(n.buf[nodeKeyCountOff:]))
}

func (n *BTreeNode) setKeyCount(c int) {
	binary.LittleEndian.PutUint32(n.buf[nodeKeyCountOff:], uint32(c))
}

func (n *BTreeNode) Capacity() int {
	return int(binary.LittleEndian.Uint32(n.buf[nodeCapacityOff:]))
}

func (n *BTreeNode) PageID() PageID {
	return PageID(binary.LittleEndian.Uint32(n.buf[4:8]))
}

func (n *BTreeNode) RightChild() PageID {
	return PageID(binary.LittleEndian.Uint32(n.buf[nodeRightChildOff:]))
}

func (n *BTreeNode) SetRightChild(pid PageID) {
	binary.LittleEndian.PutUint32(n.buf[nodeRightChildOff:], uint32(pid))
}

func (n *BTreeNode) NextLeaf() PageID {
	return PageID(binary.LittleEndian.Uint32(n.buf[nodeNextLeafOff:]))
}

func (n *BTreeNode) SetNextLeaf(pid PageID) {
	binary.LittleEndian.PutUint32(n.buf[nodeNextLeafOff:], uint32(pid))
}

func (n *BTreeNode) PrevLeaf() PageID {
	return PageID(binary.LittleEndian.Uint32(n.buf[nodePrevLeafOff:]))
}

func (n *BTreeNode) SetPrevLeaf(pid PageID) {
	binary.LittleEndian.PutUint32(n.buf[nodePrevLeafOff:], uint32(pid))
}

func (n *BTreeNode) Bytes() []byte { return n.buf }

func (n *BTreeNode) Full() bool { return n.KeyCount() >= n.Capacity() }

// ───────────────────────────────────────────────────────────────────────────
// Internal entries
// ───────────────────────────────────────────────────────────────────────────

// InternalEntry is a separator key paired with its left-child pointer.
type InternalEntry struct {
	ChildID PageID
	Key     []byte
}

func (n *BTreeNode) internalOffset(i int) int {
	return nodeEntriesOff + i*internalStride(n.layout.KeySize)
}

// GetInternalEntry returns the i-th separator entry.
func (n *BTreeNode) GetInternalEntry(i int) InternalEntry {
	off := n.internalOffset(i)
	ks := n.layout.KeySize
	key := make([]byte, ks)
	copy(key, n.buf[off:off+ks])
	child := PageID(binary.LittleEndian.Uint32(n.buf[off+ks : off+ks+4]))
	return InternalEntry{ChildID: child, Key: key}
}

func (n *BTreeNode) setInternalEntry(i int, e InternalEntry) {
	off := n.internalOffset(i)
	ks := n.layout.KeySize
	key := fitKey(e.Key, ks)
	copy(n.buf[off:off+ks], key)
	binary.LittleEndian.PutUint32(n.buf[off+ks:off+ks+4], uint32(e.ChildID))
}

// InsertInternalEntry inserts a separator key at its sorted position.
// Returns an error if the page has no room (caller must split first).
func (n *BTreeNode) InsertInternalEntry(entry InternalEntry) error {
	if n.Full() {
		return fmt.Errorf("internal page full: capacity %d", n.Capacity())
	}
	pos := n.searchInternal(entry.Key)
	kc := n.KeyCount()
	for i := kc; i > pos; i-- {
		n.setInternalEntry(i, n.GetInternalEntry(i-1))
	}
	n.setInternalEntry(pos, entry)
	n.setKeyCount(kc + 1)
	return nil
}

// searchInternal returns the sorted insertion position for key.
func (n *BTreeNode) searchInternal(key []byte) int {
	lo, hi := 0, n.KeyCount()
	for lo < hi {
		mid := (lo + hi) / 2
		e := n.GetInternalEntry(mid)
		if bytes.Compare(e.Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// FindChild returns the child page holding keys <= key's search path.
// Layout convention: entries[0..kc).Key are ascending separators;
// entries[i].ChildID holds keys < entries[i].Key (for i==0) or in
// [entries[i-1].Key, entries[i].Key); RightChild holds keys >= the last
// separator.
func (n *BTreeNode) FindChild(key []byte) PageID {
	kc := n.KeyCount()
	for i := 0; i < kc; i++ {
		e := n.GetInternalEntry(i)
		if bytes.Compare(key, e.Key) < 0 {
			return e.ChildID
		}
	}
	return n.RightChild()
}

// GetAllInternalEntries returns all separator entries in order.
func (n *BTreeNode) GetAllInternalEntries() []InternalEntry {
	kc := n.KeyCount()
	entries := make([]InternalEntry, kc)
	for i := 0; i < kc; i++ {
		entries[i] = n.GetInternalEntry(i)
	}
	return entries
}

// SetInternalEntryAt overwrites the entry at position pos without shifting
// any other entry — used when propagating a split fixes up a child pointer.
func (n *BTreeNode) SetInternalEntryAt(pos int, e InternalEntry) {
	n.setInternalEntry(pos, e)
}

// RemoveInternalEntryAt deletes the separator at position pos, shifting
// later entries left.
func (n *BTreeNode) RemoveInternalEntryAt(pos int) {
	kc := n.KeyCount()
	for i := pos; i < kc-1; i++ {
		n.setInternalEntry(i, n.GetInternalEntry(i+1))
	}
	n.setKeyCount(kc - 1)
}

// ───────────────────────────────────────────────────────────────────────────
// Leaf entries
// ───────────────────────────────────────────────────────────────────────────

// LeafEntry is a key-value pair stored in a leaf page.
type LeafEntry struct {
	Key            []byte
	Value          []byte // inline value, valid when !Overflow
	Overflow       bool
	OverflowPageID PageID
	TotalSize      uint32
}

func (n *BTreeNode) leafOffset(i int) int {
	return nodeEntriesOff + i*leafStride(n.layout.KeySize, n.layout.ValueSize)
}

func fitKey(key []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, key)
	return out
}

// GetLeafEntry returns the i-th key-value pair.
func (n *BTreeNode) GetLeafEntry(i int) LeafEntry {
	off := n.leafOffset(i)
	ks := n.layout.KeySize
	key := make([]byte, ks)
	copy(key, n.buf[off:off+ks])
	flagsOff := off + ks
	flags := n.buf[flagsOff]
	payloadOff := flagsOff + 1
	if flags&leafFlagOverflow != 0 {
		opid := PageID(binary.LittleEndian.Uint32(n.buf[payloadOff : payloadOff+4]))
		ts := binary.LittleEndian.Uint32(n.buf[payloadOff+4 : payloadOff+8])
		return LeafEntry{Key: key, Overflow: true, OverflowPageID: opid, TotalSize: ts}
	}
	vs := n.layout.ValueSize
	val := make([]byte, vs)
	copy(val, n.buf[payloadOff:payloadOff+vs])
	return LeafEntry{Key: key, Value: val}
}

func (n *BTreeNode) setLeafEntry(i int, e LeafEntry) {
	off := n.leafOffset(i)
	ks := n.layout.KeySize
	pw := payloadWidth(n.layout.ValueSize)
	key := fitKey(e.Key, ks)
	copy(n.buf[off:off+ks], key)
	flagsOff := off + ks
	payloadOff := flagsOff + 1
	// Clear the payload region first so overflow/inline transitions don't
	// leave stale bytes behind.
	for j := 0; j < pw; j++ {
		n.buf[payloadOff+j] = 0
	}
	if e.Overflow {
		n.buf[flagsOff] = leafFlagOverflow
		binary.LittleEndian.PutUint32(n.buf[payloadOff:payloadOff+4], uint32(e.OverflowPageID))
		binary.LittleEndian.PutUint32(n.buf[payloadOff+4:payloadOff+8], e.TotalSize)
		return
	}
	n.buf[flagsOff] = 0
	vs := n.layout.ValueSize
	v := e.Value
	if len(v) > vs {
		v = v[:vs]
	}
	copy(n.buf[payloadOff:payloadOff+vs], v)
}

// InsertLeafEntry inserts a key-value pair at its sorted position.
// Returns the slot index, or an error if the page has no room.
func (n *BTreeNode) InsertLeafEntry(entry LeafEntry) (int, error) {
	if n.Full() {
		return -1, fmt.Errorf("leaf page full: capacity %d", n.Capacity())
	}
	pos := n.searchLeaf(entry.Key)
	kc := n.KeyCount()
	for i := kc; i > pos; i-- {
		n.setLeafEntry(i, n.GetLeafEntry(i-1))
	}
	n.setLeafEntry(pos, entry)
	n.setKeyCount(kc + 1)
	return pos, nil
}

// UpdateLeafEntry overwrites the entry at position pos in place.
func (n *BTreeNode) UpdateLeafEntry(pos int, entry LeafEntry) {
	n.setLeafEntry(pos, entry)
}

// DeleteLeafEntry removes the entry at position pos, shifting later
// entries left. No rebalancing is performed.
func (n *BTreeNode) DeleteLeafEntry(pos int) error {
	kc := n.KeyCount()
	if pos < 0 || pos >= kc {
		return fmt.Errorf("delete: slot %d out of range [0..%d)", pos, kc)
	}
	for i := pos; i < kc-1; i++ {
		n.setLeafEntry(i, n.GetLeafEntry(i+1))
	}
	n.setKeyCount(kc - 1)
	return nil
}

// searchLeaf returns the sorted insertion position for key in a leaf.
func (n *BTreeNode) searchLeaf(key []byte) int {
	lo, hi := 0, n.KeyCount()
	for lo < hi {
		mid := (lo + hi) / 2
		e := n.GetLeafEntry(mid)
		if bytes.Compare(e.Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// FindLeafEntry searches for an exact key match.
// Returns (index, true) on a hit, (-1, false) otherwise.
func (n *BTreeNode) FindLeafEntry(key []byte) (int, bool) {
	pos := n.searchLeaf(key)
	if pos < n.KeyCount() {
		e := n.GetLeafEntry(pos)
		if bytes.Equal(e.Key, key) {
			return pos, true
		}
	}
	return -1, false
}

// GetAllLeafEntries returns all leaf entries in order.
func (n *BTreeNode) GetAllLeafEntries() []LeafEntry {
	kc := n.KeyCount()
	entries := make([]LeafEntry, kc)
	for i := 0; i < kc; i++ {
		entries[i] = n.GetLeafEntry(i)
	}
	return entries
}
