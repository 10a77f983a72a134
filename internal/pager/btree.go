package pager

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrOutOfOrder is returned by BatchInsert when a key sorts before the key
// preceding it (equal adjacent keys are allowed). The bptree package matches
// it with errors.Is and reports ErrOutOfOrderBatch.
var ErrOutOfOrder = errors.New("pager: batch insert keys out of order")

// ───────────────────────────────────────────────────────────────────────────
// BTree — the tree engine built on top of the Pager
// ───────────────────────────────────────────────────────────────────────────
//
// This is the main key-value API. The tree is identified by its root page ID
// (persisted in the superblock). All mutations happen within a transaction
// (txID) and are WAL-logged automatically through the Pager. Keys and inline
// values are fixed-width, per the Pager's NodeLayout.

// BTree represents the single B+Tree stored in a Pager.
type BTree struct {
	pager  *Pager
	root   PageID
	layout NodeLayout
}

// NewBTree creates a handle to an existing B+Tree with the given root.
// For a new tree, call CreateBTree first.
func NewBTree(p *Pager, root PageID) *BTree {
	return &BTree{pager: p, root: root, layout: p.Layout()}
}

// CreateBTree allocates a new B+Tree with an empty leaf root page.
// Must be called within a transaction.
func CreateBTree(p *Pager, txID TxID) (*BTree, error) {
	layout := p.Layout()
	rootID, rootBuf := p.AllocPage()
	InitBTreeNode(rootBuf, rootID, true, layout)
	SetPageCRC(rootBuf)
	if err := p.WritePage(txID, rootID, rootBuf); err != nil {
		return nil, err
	}
	p.UnpinPage(rootID)
	return &BTree{pager: p, root: rootID, layout: layout}, nil
}

// Root returns the root page ID.
func (bt *BTree) Root() PageID { return bt.root }

func (bt *BTree) wrap(buf []byte) *BTreeNode { return WrapBTreeNode(buf, bt.layout) }

// ── Search ────────────────────────────────────────────────────────────────

// Get looks up a key. Returns (value, true) or (nil, false).
// Handles overflow pages transparently.
func (bt *BTree) Get(key []byte) ([]byte, bool, error) {
	leafID, err := bt.findLeaf(key)
	if err != nil {
		return nil, false, err
	}
	buf, err := bt.pager.ReadPage(leafID)
	if err != nil {
		return nil, false, err
	}
	defer bt.pager.UnpinPage(leafID)

	n := bt.wrap(buf)
	pos, found := n.FindLeafEntry(key)
	if !found {
		return nil, false, nil
	}
	entry := n.GetLeafEntry(pos)
	if entry.Overflow {
		val, err := bt.readOverflow(entry.OverflowPageID, entry.TotalSize)
		if err != nil {
			return nil, false, err
		}
		return val, true, nil
	}
	return entry.Value, true, nil
}

// findLeaf traverses from root to the leaf page containing key.
func (bt *BTree) findLeaf(key []byte) (PageID, error) {
	pageID := bt.root
	for {
		buf, err := bt.pager.ReadPage(pageID)
		if err != nil {
			return 0, err
		}
		n := bt.wrap(buf)
		if n.IsLeaf() {
			bt.pager.UnpinPage(pageID)
			return pageID, nil
		}
		child := n.FindChild(key)
		bt.pager.UnpinPage(pageID)
		pageID = child
	}
}

// ── Insert ────────────────────────────────────────────────────────────────

// Insert adds or updates a key-value pair within the given transaction.
func (bt *BTree) Insert(txID TxID, key, value []byte) error {
	entry := LeafEntry{Key: key}

	if len(value) > bt.layout.ValueSize {
		overflowHead, err := bt.writeOverflow(txID, value)
		if err != nil {
			return err
		}
		entry.Overflow = true
		entry.OverflowPageID = overflowHead
		entry.TotalSize = uint32(len(value))
	} else {
		entry.Value = value
	}

	return bt.insertIntoTree(txID, key, entry)
}

// BatchInsert inserts many key-value pairs in one pass. Keys must be in
// ascending order, equal adjacent keys allowed; ErrOutOfOrder is returned
// otherwise (wrapped by the caller at the bptree package level). Duplicate
// keys within the batch resolve last-occurrence-wins — each Insert call
// simply overwrites the previous one.
func (bt *BTree) BatchInsert(txID TxID, keys, values [][]byte) error {
	if len(keys) != len(values) {
		return fmt.Errorf("batch insert: %d keys but %d values", len(keys), len(values))
	}
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i], keys[i-1]) < 0 {
			return fmt.Errorf("%w: index %d", ErrOutOfOrder, i)
		}
	}
	for i := range keys {
		if err := bt.Insert(txID, keys[i], values[i]); err != nil {
			return fmt.Errorf("batch insert at index %d: %w", i, err)
		}
	}
	return nil
}

func (bt *BTree) insertIntoTree(txID TxID, key []byte, entry LeafEntry) error {
	path, err := bt.pathToLeaf(key)
	if err != nil {
		return err
	}

	leafID := path[len(path)-1]
	buf, err := bt.pager.ReadPage(leafID)
	if err != nil {
		return err
	}
	n := bt.wrap(buf)

	// Existing key — update in place (entries are fixed-width, so updates
	// never require more room than the slot already occupies).
	pos, found := n.FindLeafEntry(key)
	if found {
		oldEntry := n.GetLeafEntry(pos)
		if oldEntry.Overflow {
			bt.freeOverflowChain(oldEntry.OverflowPageID)
		}
		n.UpdateLeafEntry(pos, entry)
		SetPageCRC(buf)
		bt.pager.UnpinPage(leafID)
		return bt.pager.WritePage(txID, leafID, buf)
	}

	// New key.
	if _, err := n.InsertLeafEntry(entry); err != nil {
		bt.pager.UnpinPage(leafID)
		return bt.insertWithSplit(txID, path, entry)
	}

	SetPageCRC(buf)
	bt.pager.UnpinPage(leafID)
	return bt.pager.WritePage(txID, leafID, buf)
}

func (bt *BTree) insertWithSplit(txID TxID, path []PageID, entry LeafEntry) error {
	leafID := path[len(path)-1]
	buf, err := bt.pager.ReadPage(leafID)
	if err != nil {
		return err
	}
	n := bt.wrap(buf)

	entries := n.GetAllLeafEntries()
	inserted := false
	var merged []LeafEntry
	for _, e := range entries {
		if !inserted && bytes.Compare(entry.Key, e.Key) <= 0 {
			merged = append(merged, entry)
			inserted = true
		}
		if bytes.Equal(e.Key, entry.Key) {
			if e.Overflow {
				bt.freeOverflowChain(e.OverflowPageID)
			}
			continue
		}
		merged = append(merged, e)
	}
	if !inserted {
		merged = append(merged, entry)
	}

	mid := len(merged) / 2
	leftEntries := merged[:mid]
	rightEntries := merged[mid:]
	splitKey := rightEntries[0].Key

	leftBuf := make([]byte, bt.pager.PageSize())
	leftNode := InitBTreeNode(leftBuf, leafID, true, bt.layout)
	for _, e := range leftEntries {
		if _, err := leftNode.InsertLeafEntry(e); err != nil {
			return fmt.Errorf("split left insert: %w", err)
		}
	}

	rightID, rightBuf := bt.pager.AllocPage()
	rightNode := InitBTreeNode(rightBuf, rightID, true, bt.layout)
	for _, e := range rightEntries {
		if _, err := rightNode.InsertLeafEntry(e); err != nil {
			return fmt.Errorf("split right insert: %w", err)
		}
	}

	oldNext := n.NextLeaf()
	leftNode.SetNextLeaf(rightID)
	leftNode.SetPrevLeaf(n.PrevLeaf())
	rightNode.SetPrevLeaf(leafID)
	rightNode.SetNextLeaf(oldNext)

	SetPageCRC(leftBuf)
	if err := bt.pager.WritePage(txID, leafID, leftBuf); err != nil {
		return err
	}
	SetPageCRC(rightBuf)
	if err := bt.pager.WritePage(txID, rightID, rightBuf); err != nil {
		return err
	}
	bt.pager.UnpinPage(leafID)
	bt.pager.UnpinPage(rightID)

	if oldNext != InvalidPageID {
		nextBuf, err := bt.pager.ReadPage(oldNext)
		if err == nil {
			nextNode := bt.wrap(nextBuf)
			nextNode.SetPrevLeaf(rightID)
			SetPageCRC(nextBuf)
			_ = bt.pager.WritePage(txID, oldNext, nextBuf)
			bt.pager.UnpinPage(oldNext)
		}
	}

	return bt.insertIntoParent(txID, path[:len(path)-1], leafID, splitKey, rightID)
}

// insertIntoParent records that the subtree previously reachable via leftID
// now splits into leftID (keys < key) and rightID (keys >= key), by placing
// a new separator for key with left child leftID, then repointing whichever
// pointer used to lead to leftID's old undivided contents so it now leads to
// rightID. Since every internal entry is fixed-width, that repoint is a
// direct overwrite — no slot reshuffling is needed.
func (bt *BTree) insertIntoParent(txID TxID, path []PageID, leftID PageID, key []byte, rightID PageID) error {
	if len(path) == 0 {
		return bt.createNewRoot(txID, leftID, key, rightID)
	}

	parentID := path[len(path)-1]
	buf, err := bt.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	n := bt.wrap(buf)

	newEntry := InternalEntry{ChildID: leftID, Key: key}
	if err := n.InsertInternalEntry(newEntry); err != nil {
		bt.pager.UnpinPage(parentID)
		return bt.splitInternal(txID, path, leftID, key, rightID)
	}

	kc := n.KeyCount()
	for i := 0; i < kc; i++ {
		e := n.GetInternalEntry(i)
		if !bytes.Equal(e.Key, key) {
			continue
		}
		if i+1 < kc {
			next := n.GetInternalEntry(i + 1)
			next.ChildID = rightID
			n.SetInternalEntryAt(i+1, next)
		} else {
			n.SetRightChild(rightID)
		}
		break
	}

	SetPageCRC(buf)
	bt.pager.UnpinPage(parentID)
	return bt.pager.WritePage(txID, parentID, buf)
}

func (bt *BTree) splitInternal(txID TxID, path []PageID, leftChildID PageID, key []byte, rightChildID PageID) error {
	parentID := path[len(path)-1]
	buf, err := bt.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	n := bt.wrap(buf)

	entries := n.GetAllInternalEntries()
	oldRight := n.RightChild()

	newEntry := InternalEntry{ChildID: leftChildID, Key: key}
	var merged []InternalEntry
	inserted := false
	for _, e := range entries {
		if !inserted && bytes.Compare(key, e.Key) < 0 {
			merged = append(merged, newEntry)
			inserted = true
		}
		merged = append(merged, e)
	}
	if !inserted {
		merged = append(merged, newEntry)
	}

	mid := len(merged) / 2
	pushUpKey := merged[mid].Key
	leftEntries := merged[:mid]
	rightEntries := merged[mid+1:]
	midChildRight := merged[mid].ChildID

	leftBuf := make([]byte, bt.pager.PageSize())
	leftNode := InitBTreeNode(leftBuf, parentID, false, bt.layout)
	for _, e := range leftEntries {
		if err := leftNode.InsertInternalEntry(e); err != nil {
			return fmt.Errorf("split internal left: %w", err)
		}
	}

	foundInLeft := false
	for _, e := range leftEntries {
		if bytes.Equal(e.Key, key) {
			foundInLeft = true
			break
		}
	}
	switch {
	case bytes.Equal(pushUpKey, key):
		leftNode.SetRightChild(leftChildID)
		if len(rightEntries) > 0 {
			rightEntries[0] = InternalEntry{ChildID: rightChildID, Key: rightEntries[0].Key}
		}
	case foundInLeft:
		leftNode.SetRightChild(rightChildID)
	default:
		leftNode.SetRightChild(midChildRight)
	}

	newRightID, rightBuf := bt.pager.AllocPage()
	rightInternal := InitBTreeNode(rightBuf, newRightID, false, bt.layout)
	for _, e := range rightEntries {
		if err := rightInternal.InsertInternalEntry(e); err != nil {
			return fmt.Errorf("split internal right: %w", err)
		}
	}
	rightInternal.SetRightChild(oldRight)

	if !foundInLeft && !bytes.Equal(pushUpKey, key) {
		kc := rightInternal.KeyCount()
		for i := 0; i < kc; i++ {
			e := rightInternal.GetInternalEntry(i)
			if !bytes.Equal(e.Key, key) {
				continue
			}
			if i+1 < kc {
				next := rightInternal.GetInternalEntry(i + 1)
				next.ChildID = rightChildID
				rightInternal.SetInternalEntryAt(i+1, next)
			} else {
				rightInternal.SetRightChild(rightChildID)
			}
			break
		}
	}

	SetPageCRC(leftBuf)
	if err := bt.pager.WritePage(txID, parentID, leftBuf); err != nil {
		return err
	}
	SetPageCRC(rightBuf)
	if err := bt.pager.WritePage(txID, newRightID, rightBuf); err != nil {
		return err
	}
	bt.pager.UnpinPage(parentID)
	bt.pager.UnpinPage(newRightID)

	return bt.insertIntoParent(txID, path[:len(path)-1], parentID, pushUpKey, newRightID)
}

func (bt *BTree) createNewRoot(txID TxID, leftID PageID, key []byte, rightID PageID) error {
	rootID, rootBuf := bt.pager.AllocPage()
	rootNode := InitBTreeNode(rootBuf, rootID, false, bt.layout)
	if err := rootNode.InsertInternalEntry(InternalEntry{ChildID: leftID, Key: key}); err != nil {
		return err
	}
	rootNode.SetRightChild(rightID)
	SetPageCRC(rootBuf)
	if err := bt.pager.WritePage(txID, rootID, rootBuf); err != nil {
		return err
	}
	bt.pager.UnpinPage(rootID)
	bt.root = rootID
	bt.pager.UpdateSuperblock(func(sb *Superblock) { sb.RootPage = rootID })
	return nil
}

// ── Delete ────────────────────────────────────────────────────────────────

// Delete removes a key from the B+Tree. No rebalancing is performed — the
// entry is removed from its leaf and the leaf is rewritten in place.
func (bt *BTree) Delete(txID TxID, key []byte) (bool, error) {
	leafID, err := bt.findLeaf(key)
	if err != nil {
		return false, err
	}
	buf, err := bt.pager.ReadPage(leafID)
	if err != nil {
		return false, err
	}
	n := bt.wrap(buf)

	pos, found := n.FindLeafEntry(key)
	if !found {
		bt.pager.UnpinPage(leafID)
		return false, nil
	}

	entry := n.GetLeafEntry(pos)
	if entry.Overflow {
		bt.freeOverflowChain(entry.OverflowPageID)
	}

	if err := n.DeleteLeafEntry(pos); err != nil {
		bt.pager.UnpinPage(leafID)
		return false, err
	}

	SetPageCRC(buf)
	bt.pager.UnpinPage(leafID)
	if err := bt.pager.WritePage(txID, leafID, buf); err != nil {
		return false, err
	}
	return true, nil
}

// ── Range scan ────────────────────────────────────────────────────────────

// ScanRange calls fn for each key-value pair where startKey <= key <= endKey.
// If endKey is nil, scans to the end. If fn returns false, the scan stops.
func (bt *BTree) ScanRange(startKey, endKey []byte, fn func(key, value []byte) bool) error {
	leafID, err := bt.findLeaf(startKey)
	if err != nil {
		return err
	}

	for leafID != InvalidPageID {
		buf, err := bt.pager.ReadPage(leafID)
		if err != nil {
			return err
		}
		n := bt.wrap(buf)
		kc := n.KeyCount()

		for i := 0; i < kc; i++ {
			entry := n.GetLeafEntry(i)
			if bytes.Compare(entry.Key, startKey) < 0 {
				continue
			}
			if endKey != nil && bytes.Compare(entry.Key, endKey) > 0 {
				bt.pager.UnpinPage(leafID)
				return nil
			}
			var val []byte
			if entry.Overflow {
				val, err = bt.readOverflow(entry.OverflowPageID, entry.TotalSize)
				if err != nil {
					bt.pager.UnpinPage(leafID)
					return err
				}
			} else {
				val = entry.Value
			}
			if !fn(entry.Key, val) {
				bt.pager.UnpinPage(leafID)
				return nil
			}
		}

		nextLeaf := n.NextLeaf()
		bt.pager.UnpinPage(leafID)
		leafID = nextLeaf
	}
	return nil
}

// ── Overflow chain I/O ───────────────────────────────────────────────────

func (bt *BTree) writeOverflow(txID TxID, data []byte) (PageID, error) {
	cap := OverflowCapacity(bt.pager.PageSize())
	var headID PageID
	var prevBuf []byte
	var prevID PageID

	for off := 0; off < len(data); off += cap {
		end := off + cap
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]

		pid, buf := bt.pager.AllocPage()
		op := InitOverflowPage(buf, pid)
		if err := op.SetData(chunk); err != nil {
			return 0, err
		}

		if prevBuf != nil {
			prevOP := WrapOverflowPage(prevBuf)
			prevOP.SetNextOverflow(pid)
			SetPageCRC(prevBuf)
			if err := bt.pager.WritePage(txID, prevID, prevBuf); err != nil {
				return 0, err
			}
			bt.pager.UnpinPage(prevID)
		} else {
			headID = pid
		}

		prevBuf = buf
		prevID = pid
	}

	if prevBuf != nil {
		SetPageCRC(prevBuf)
		if err := bt.pager.WritePage(txID, prevID, prevBuf); err != nil {
			return 0, err
		}
		bt.pager.UnpinPage(prevID)
	}

	return headID, nil
}

func (bt *BTree) readOverflow(headID PageID, totalSize uint32) ([]byte, error) {
	result := make([]byte, 0, totalSize)
	pid := headID
	for pid != InvalidPageID {
		buf, err := bt.pager.ReadPage(pid)
		if err != nil {
			return nil, err
		}
		op := WrapOverflowPage(buf)
		result = append(result, op.Data()...)
		next := op.NextOverflow()
		bt.pager.UnpinPage(pid)
		pid = next
	}
	return result, nil
}

func (bt *BTree) freeOverflowChain(headID PageID) {
	pid := headID
	for pid != InvalidPageID {
		buf, err := bt.pager.ReadPage(pid)
		if err != nil {
			break
		}
		op := WrapOverflowPage(buf)
		next := op.NextOverflow()
		bt.pager.UnpinPage(pid)
		bt.pager.FreePage(pid)
		pid = next
	}
}

// FreeAllPages recursively frees every page owned by this B+Tree
// (internal nodes, leaf nodes, and overflow chains). After this call
// the tree is invalid and must not be used.
func (bt *BTree) FreeAllPages() {
	bt.freeSubtree(bt.root)
}

func (bt *BTree) freeSubtree(pid PageID) {
	if pid == InvalidPageID {
		return
	}
	buf, err := bt.pager.ReadPage(pid)
	if err != nil {
		return
	}
	n := bt.wrap(buf)

	if n.IsLeaf() {
		kc := n.KeyCount()
		for i := 0; i < kc; i++ {
			entry := n.GetLeafEntry(i)
			if entry.Overflow {
				bt.freeOverflowChain(entry.OverflowPageID)
			}
		}
		bt.pager.UnpinPage(pid)
		bt.pager.FreePage(pid)
		return
	}

	kc := n.KeyCount()
	children := make([]PageID, 0, kc+1)
	for i := 0; i < kc; i++ {
		ie := n.GetInternalEntry(i)
		children = append(children, ie.ChildID)
	}
	children = append(children, n.RightChild())
	bt.pager.UnpinPage(pid)

	for _, child := range children {
		bt.freeSubtree(child)
	}
	bt.pager.FreePage(pid)
}

// pathToLeaf returns the page IDs from root to the leaf containing key.
func (bt *BTree) pathToLeaf(key []byte) ([]PageID, error) {
	var path []PageID
	pageID := bt.root
	for {
		path = append(path, pageID)
		buf, err := bt.pager.ReadPage(pageID)
		if err != nil {
			return nil, err
		}
		n := bt.wrap(buf)
		if n.IsLeaf() {
			bt.pager.UnpinPage(pageID)
			return path, nil
		}
		child := n.FindChild(key)
		bt.pager.UnpinPage(pageID)
		pageID = child
	}
}

// ── Count ─────────────────────────────────────────────────────────────────

// Count returns the total number of key-value pairs in the tree.
func (bt *BTree) Count() (int, error) {
	pageID := bt.root
	for {
		buf, err := bt.pager.ReadPage(pageID)
		if err != nil {
			return 0, err
		}
		n := bt.wrap(buf)
		if n.IsLeaf() {
			bt.pager.UnpinPage(pageID)
			break
		}
		if n.KeyCount() > 0 {
			child := n.GetInternalEntry(0).ChildID
			bt.pager.UnpinPage(pageID)
			pageID = child
		} else {
			child := n.RightChild()
			bt.pager.UnpinPage(pageID)
			pageID = child
		}
	}

	count := 0
	for pageID != InvalidPageID {
		buf, err := bt.pager.ReadPage(pageID)
		if err != nil {
			return 0, err
		}
		n := bt.wrap(buf)
		count += n.KeyCount()
		next := n.NextLeaf()
		bt.pager.UnpinPage(pageID)
		pageID = next
	}
	return count, nil
}
