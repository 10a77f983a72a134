package pager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

// ───────────────────────────────────────────────────────────────────────────
// Inspection & structural verification
// ───────────────────────────────────────────────────────────────────────────

// PageInfo holds inspection information about a single page.
type PageInfo struct {
	ID       PageID
	Type     PageType
	TypeStr  string
	LSN      LSN
	CRC      uint32
	CRCValid bool
	Flags    uint8
	// B+Tree specifics
	IsLeaf     bool
	KeyCount   int
	RightChild PageID
	NextLeaf   PageID
	PrevLeaf   PageID
	Capacity   int
	// Overflow
	NextOverflow PageID
	DataLen      int
	// FreeList
	NextFreeList PageID
	EntryCount   int
}

// InspectPage reads a single page and returns detailed information.
func InspectPage(dbPath string, pageID PageID, pageSize int, layout NodeLayout) (*PageInfo, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, pageSize)
	off := int64(pageID) * int64(pageSize)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", pageID, err)
	}

	hdr := UnmarshalHeader(buf)
	crcValid := VerifyPageCRC(buf) == nil

	info := &PageInfo{
		ID:       hdr.ID,
		Type:     hdr.Type,
		TypeStr:  hdr.Type.String(),
		LSN:      hdr.LSN,
		CRC:      hdr.CRC,
		CRCValid: crcValid,
		Flags:    hdr.Flags,
	}

	switch hdr.Type {
	case PageTypeBTreeInternal, PageTypeBTreeLeaf:
		n := WrapBTreeNode(buf, layout)
		info.IsLeaf = n.IsLeaf()
		info.KeyCount = n.KeyCount()
		info.RightChild = n.RightChild()
		info.NextLeaf = n.NextLeaf()
		info.PrevLeaf = n.PrevLeaf()
		info.Capacity = n.Capacity()

	case PageTypeOverflow:
		op := WrapOverflowPage(buf)
		info.NextOverflow = op.NextOverflow()
		info.DataLen = op.DataLen()

	case PageTypeFreeList:
		fl := WrapFreeListPage(buf)
		info.NextFreeList = fl.NextFreeList()
		info.EntryCount = fl.EntryCount()
	}

	return info, nil
}

// VerifyDB checks CRC and structural consistency of every page in the file.
// Returns a list of issues (empty = healthy).
func VerifyDB(dbPath string) ([]string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var issues []string

	sbBuf := make([]byte, MaxPageSize)
	n, err := f.ReadAt(sbBuf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < MinPageSize {
		return []string{"file too small to contain a superblock"}, nil
	}

	peekPS := int(binary.LittleEndian.Uint32(sbBuf[sbPageSizeOff:]))
	if peekPS >= MinPageSize && peekPS <= MaxPageSize && peekPS <= n {
		sbBuf = sbBuf[:peekPS]
	} else {
		sbBuf = sbBuf[:n]
	}

	sb, err := UnmarshalSuperblock(sbBuf)
	if err != nil {
		return []string{fmt.Sprintf("superblock: %v", err)}, nil
	}

	pageSize := int(sb.PageSize)
	totalPages := fi.Size() / int64(pageSize)
	if fi.Size()%int64(pageSize) != 0 {
		issues = append(issues, fmt.Sprintf("file size %d not a multiple of page size %d",
			fi.Size(), pageSize))
	}

	buf := make([]byte, pageSize)
	for i := int64(0); i < totalPages; i++ {
		if _, err := f.ReadAt(buf, i*int64(pageSize)); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: read error: %v", i, err))
			continue
		}
		if err := VerifyPageCRC(buf); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: %v", i, err))
		}
		hdr := UnmarshalHeader(buf)
		if hdr.ID != PageID(i) && i > 0 {
			issues = append(issues, fmt.Sprintf("page %d: header ID mismatch (says %d)", i, hdr.ID))
		}
	}

	return issues, nil
}

// VerifyTree walks the whole tree from root and checks the structural
// invariants a B+Tree must satisfy: ascending key order within every node,
// separator-key discipline on internal nodes (every key in the subtree
// reached via entry i's child is < entry i's key, and every key in the
// subtree reached via the rightmost child is >= the last separator), leaf
// sibling-chain consistency (next/prev pointers agree both directions), and
// leaf/internal page-type consistency. Returns a list of violations (empty
// = structurally sound).
func VerifyTree(p *Pager, root PageID) ([]string, error) {
	layout := p.Layout()
	var issues []string

	var walk func(pid PageID, lo, hi []byte) error
	walk = func(pid PageID, lo, hi []byte) error {
		buf, err := p.ReadPage(pid)
		if err != nil {
			return err
		}
		defer p.UnpinPage(pid)
		n := WrapBTreeNode(buf, layout)
		if pt := UnmarshalHeader(buf).Type; (n.IsLeaf() && pt != PageTypeBTreeLeaf) || (!n.IsLeaf() && pt != PageTypeBTreeInternal) {
			issues = append(issues, fmt.Sprintf("page %d: page type %s does not match node kind", pid, pt))
		}

		if n.IsLeaf() {
			entries := n.GetAllLeafEntries()
			for i := 1; i < len(entries); i++ {
				if bytes.Compare(entries[i-1].Key, entries[i].Key) >= 0 {
					issues = append(issues, fmt.Sprintf("leaf %d: keys out of order at index %d", pid, i))
				}
			}
			for _, e := range entries {
				if lo != nil && bytes.Compare(e.Key, lo) < 0 {
					issues = append(issues, fmt.Sprintf("leaf %d: key below subtree lower bound", pid))
				}
				if hi != nil && bytes.Compare(e.Key, hi) >= 0 {
					issues = append(issues, fmt.Sprintf("leaf %d: key at/above subtree upper bound", pid))
				}
			}
			return nil
		}

		entries := n.GetAllInternalEntries()
		for i := 1; i < len(entries); i++ {
			if bytes.Compare(entries[i-1].Key, entries[i].Key) >= 0 {
				issues = append(issues, fmt.Sprintf("internal %d: separators out of order at index %d", pid, i))
			}
		}

		childLo := lo
		for i, e := range entries {
			if err := walk(e.ChildID, childLo, e.Key); err != nil {
				return err
			}
			childLo = e.Key
			_ = i
		}
		return walk(n.RightChild(), childLo, hi)
	}

	if err := walk(root, nil, nil); err != nil {
		return nil, err
	}

	if more, err := verifyLeafChain(p, root, layout); err != nil {
		return nil, err
	} else {
		issues = append(issues, more...)
	}

	return issues, nil
}

// verifyLeafChain walks to the leftmost leaf and follows NextLeaf pointers,
// checking that each step's PrevLeaf points back correctly and that keys
// strictly increase across leaf boundaries.
func verifyLeafChain(p *Pager, root PageID, layout NodeLayout) ([]string, error) {
	var issues []string

	pid := root
	for {
		buf, err := p.ReadPage(pid)
		if err != nil {
			return nil, err
		}
		n := WrapBTreeNode(buf, layout)
		if n.IsLeaf() {
			p.UnpinPage(pid)
			break
		}
		var next PageID
		if n.KeyCount() > 0 {
			next = n.GetInternalEntry(0).ChildID
		} else {
			next = n.RightChild()
		}
		p.UnpinPage(pid)
		pid = next
	}

	var lastKey []byte
	prev := InvalidPageID
	for pid != InvalidPageID {
		buf, err := p.ReadPage(pid)
		if err != nil {
			return nil, err
		}
		n := WrapBTreeNode(buf, layout)
		if n.PrevLeaf() != prev {
			issues = append(issues, fmt.Sprintf("leaf %d: PrevLeaf %d does not match actual predecessor %d", pid, n.PrevLeaf(), prev))
		}
		entries := n.GetAllLeafEntries()
		if len(entries) > 0 && lastKey != nil {
			if bytes.Compare(entries[0].Key, lastKey) <= 0 {
				issues = append(issues, fmt.Sprintf("leaf %d: first key does not exceed previous leaf's last key", pid))
			}
		}
		if len(entries) > 0 {
			lastKey = entries[len(entries)-1].Key
		}
		next := n.NextLeaf()
		p.UnpinPage(pid)
		prev = pid
		pid = next
	}

	return issues, nil
}

// DumpTree produces a human-readable dump of a B+Tree starting at root.
func DumpTree(dbPath string, rootPageID PageID, pageSize int, layout NodeLayout) (string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	var dump func(pid PageID, depth int) error

	readPage := func(pid PageID) ([]byte, error) {
		buf := make([]byte, pageSize)
		off := int64(pid) * int64(pageSize)
		if _, err := f.ReadAt(buf, off); err != nil {
			return nil, err
		}
		return buf, nil
	}

	dump = func(pid PageID, depth int) error {
		buf, err := readPage(pid)
		if err != nil {
			return err
		}
		indent := strings.Repeat("  ", depth)
		hdr := UnmarshalHeader(buf)
		n := WrapBTreeNode(buf, layout)

		if n.IsLeaf() {
			fmt.Fprintf(&sb, "%sLeaf[%d] keys=%d next=%d prev=%d\n",
				indent, pid, n.KeyCount(), n.NextLeaf(), n.PrevLeaf())
			kc := n.KeyCount()
			for i := 0; i < kc; i++ {
				entry := n.GetLeafEntry(i)
				if entry.Overflow {
					fmt.Fprintf(&sb, "%s  [%d] key=%q overflow=page%d size=%d\n",
						indent, i, entry.Key, entry.OverflowPageID, entry.TotalSize)
				} else {
					fmt.Fprintf(&sb, "%s  [%d] key=%q val=%d bytes\n",
						indent, i, entry.Key, len(entry.Value))
				}
			}
		} else {
			fmt.Fprintf(&sb, "%sInternal[%d] keys=%d rightChild=%d lsn=%d\n",
				indent, pid, n.KeyCount(), n.RightChild(), hdr.LSN)
			kc := n.KeyCount()
			for i := 0; i < kc; i++ {
				entry := n.GetInternalEntry(i)
				fmt.Fprintf(&sb, "%s  child=%d sep=%q\n", indent, entry.ChildID, entry.Key)
				if err := dump(entry.ChildID, depth+1); err != nil {
					return err
				}
			}
			rc := n.RightChild()
			if rc != InvalidPageID {
				fmt.Fprintf(&sb, "%s  rightChild=%d\n", indent, rc)
				if err := dump(rc, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := dump(rootPageID, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// WALInfo holds information about a WAL file.
type WALInfo struct {
	PageSize   int
	Records    int
	MinLSN     LSN
	MaxLSN     LSN
	TxCount    int
	Committed  int
	Aborted    int
	PageImages int
}

// InspectWAL reads and summarises a WAL file.
func InspectWAL(walPath string) (*WALInfo, error) {
	records, err := ReadAllRecords(walPath)
	if err != nil {
		return nil, err
	}

	info := &WALInfo{Records: len(records)}
	txSet := make(map[TxID]bool)

	for _, rec := range records {
		if info.MinLSN == 0 || rec.LSN < info.MinLSN {
			info.MinLSN = rec.LSN
		}
		if rec.LSN > info.MaxLSN {
			info.MaxLSN = rec.LSN
		}
		txSet[rec.TxID] = true

		switch rec.Type {
		case WALRecordCommit:
			info.Committed++
		case WALRecordAbort:
			info.Aborted++
		case WALRecordPageImage:
			info.PageImages++
		}
	}
	info.TxCount = len(txSet)

	f, err := os.Open(walPath)
	if err == nil {
		var hdr [WALFileHdrSize]byte
		if _, err := f.ReadAt(hdr[:], 0); err == nil {
			info.PageSize = int(binary.LittleEndian.Uint32(hdr[12:16]))
		}
		f.Close()
	}

	return info, nil
}

// SuperblockInfo holds display-friendly superblock data.
type SuperblockInfo struct {
	FormatVersion uint32
	PageSize      uint32
	PageCount     uint64
	FeatureFlags  uint64
	RootPage      PageID
	FreeListRoot  PageID
	CheckpointLSN LSN
	NextTxID      TxID
	NextPageID    PageID
	Order         uint32
	KeySize       uint32
	ValueSize     uint32
	CRCValid      bool
}

// InspectSuperblock reads and returns the superblock metadata.
func InspectSuperblock(dbPath string) (*SuperblockInfo, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, MaxPageSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n >= int(sbPageSizeOff)+4 {
		ps := int(binary.LittleEndian.Uint32(buf[sbPageSizeOff:]))
		if ps >= MinPageSize && ps <= MaxPageSize && ps <= n {
			buf = buf[:ps]
		} else {
			buf = buf[:n]
		}
	} else {
		buf = buf[:n]
	}

	crcValid := VerifyPageCRC(buf) == nil
	sb, err := UnmarshalSuperblock(buf)
	if err != nil {
		return &SuperblockInfo{CRCValid: crcValid}, err
	}

	return &SuperblockInfo{
		FormatVersion: sb.FormatVersion,
		PageSize:      sb.PageSize,
		PageCount:     sb.PageCount,
		FeatureFlags:  uint64(sb.FeatureFlags),
		RootPage:      sb.RootPage,
		FreeListRoot:  sb.FreeListRoot,
		CheckpointLSN: sb.CheckpointLSN,
		NextTxID:      sb.NextTxID,
		NextPageID:    sb.NextPageID,
		Order:         sb.Order,
		KeySize:       sb.KeySize,
		ValueSize:     sb.ValueSize,
		CRCValid:      crcValid,
	}, nil
}
