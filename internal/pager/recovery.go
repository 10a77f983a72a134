package pager

import (
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Crash Recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Recovery reads the WAL from the beginning and replays only fully
// committed transactions, applying page images whose LSN is greater than
// the superblock's checkpoint LSN. Uncommitted/aborted transactions are
// discarded.
//
// Algorithm:
//   1. Read all WAL records.
//   2. Build a map TxID → list of PAGE_IMAGE records.
//   3. Track which TxIDs have a COMMIT record (committed set).
//   4. Walk the PAGE_IMAGE records in LSN order and apply those of
//      committed TXs whose LSN > checkpoint LSN.
//   5. Fsync the database file.
//   6. Update and flush the superblock with new checkpoint_lsn.
//   7. Truncate the WAL.

// Recover replays the WAL and applies committed transactions. Every
// replayed page image is checked against the tree's fixed-width layout
// (ValidatePageLayout) before being written back — a WAL written by a
// different key_size/value_size/page_size configuration must surface as
// ErrCorruptPage here rather than silently reintroducing a page the current
// layout can't interpret.
func (p *Pager) Recover() error {
	records, err := ReadAllRecords(p.walPath)
	if err != nil {
		return fmt.Errorf("recover read WAL: %w", err)
	}
	if len(records) == 0 {
		// Number new records after the last checkpoint so that a later
		// recovery does not skip them as already checkpointed.
		p.wal.SetNextLSN(p.sb.CheckpointLSN + 1)
		return nil
	}
	layout := p.layoutLocked()

	// Classify records by TxID.
	type txRecords struct {
		pages     []*WALRecord
		committed bool
		aborted   bool
	}
	txMap := make(map[TxID]*txRecords)

	var maxLSN LSN
	var maxTxID TxID

	for _, rec := range records {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}

		switch rec.Type {
		case WALRecordBegin:
			txMap[rec.TxID] = &txRecords{}
		case WALRecordPageImage:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txRecords{}
				txMap[rec.TxID] = tr
			}
			tr.pages = append(tr.pages, rec)
		case WALRecordCommit:
			if tr, ok := txMap[rec.TxID]; ok {
				tr.committed = true
			}
		case WALRecordAbort:
			if tr, ok := txMap[rec.TxID]; ok {
				tr.aborted = true
			}
		case WALRecordCheckpoint:
			// Checkpoint record; all prior transactions are flushed.
		}
	}

	// Replay committed transactions only, in LSN order (records were read
	// back in the order they were appended).
	var applied int
	for _, rec := range records {
		if rec.Type != WALRecordPageImage {
			continue
		}
		if tr := txMap[rec.TxID]; !tr.committed || tr.aborted {
			continue
		}
		// Only apply if the record's LSN > checkpoint LSN.
		if rec.LSN <= LSN(p.sb.CheckpointLSN) {
			continue
		}
		if rec.PageID != 0 {
			if err := ValidatePageLayout(rec.Data, layout); err != nil {
				return fmt.Errorf("recover page %d: %w", rec.PageID, err)
			}
		}
		if err := p.writePageRaw(rec.PageID, rec.Data); err != nil {
			return fmt.Errorf("recover apply page %d: %w", rec.PageID, err)
		}
		applied++
	}

	if applied > 0 {
		// Fsync the database file.
		if err := p.file.Sync(); err != nil {
			return err
		}

		// Update superblock.
		p.sb.CheckpointLSN = maxLSN
		if TxID(maxTxID+1) > p.sb.NextTxID {
			p.sb.NextTxID = TxID(maxTxID + 1)
		}

		// Determine highest page ID used.
		for _, tr := range txMap {
			if !tr.committed {
				continue
			}
			for _, rec := range tr.pages {
				if PageID(rec.PageID+1) > p.sb.NextPageID {
					p.sb.NextPageID = PageID(rec.PageID + 1)
					p.sb.PageCount = uint64(p.sb.NextPageID)
				}
			}
		}

		sbBuf := MarshalSuperblock(p.sb, p.pageSize)
		if err := p.writePageRaw(0, sbBuf); err != nil {
			return fmt.Errorf("recover superblock: %w", err)
		}
		if err := p.file.Sync(); err != nil {
			return err
		}
	}

	// Set WAL next LSN beyond recovered records and the checkpoint LSN.
	next := maxLSN + 1
	if next <= p.sb.CheckpointLSN {
		next = p.sb.CheckpointLSN + 1
	}
	p.wal.SetNextLSN(next)

	// Truncate the WAL.
	return p.wal.Truncate()
}
