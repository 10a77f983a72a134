package bptree

import (
	"errors"
	"fmt"

	"github.com/lssdb/bptree/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Error kinds
// ───────────────────────────────────────────────────────────────────────────
//
// Sentinel errors, checked with errors.Is. Fatal kinds poison the Engine:
// once one is observed, every subsequent call returns the same wrapped error
// until Close and reopen.

var (
	// ErrNotFound is returned by Get when the key is absent. Routine, not a fault.
	ErrNotFound = errors.New("bptree: key not found")

	// ErrClosed is returned by any operation on a closed Engine.
	ErrClosed = errors.New("bptree: engine is closed")

	// ErrCorruptPage means an on-disk page violates its structural invariants. Fatal.
	ErrCorruptPage = errors.New("bptree: corrupt page")

	// ErrCorruptWal means the write-ahead log is structurally invalid beyond
	// the tolerated torn tail. Fatal.
	ErrCorruptWal = errors.New("bptree: corrupt WAL")

	// ErrIoError wraps an underlying filesystem failure. Fatal.
	ErrIoError = errors.New("bptree: I/O error")

	// ErrInvalidArgument means a key is not exactly key_size bytes, the
	// options are invalid, or the open options don't match the persisted
	// ones. Values longer than value_size are not rejected: they are stored
	// in an overflow chain.
	ErrInvalidArgument = errors.New("bptree: invalid argument")

	// ErrOutOfOrderBatch is returned by BatchInsert when a key sorts before
	// the key preceding it (equal adjacent keys are allowed).
	ErrOutOfOrderBatch = errors.New("bptree: batch insert keys out of order")
)

// isFatal reports whether err should poison the Engine for all future calls.
func isFatal(err error) bool {
	return errors.Is(err, ErrCorruptPage) || errors.Is(err, ErrCorruptWal) || errors.Is(err, ErrIoError)
}

// wrapFatal classifies a low-level pager error into one of the fatal kinds.
// It records nothing itself; Engine.poison stores the result as the sticky
// error for subsequent calls.
func wrapFatal(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrCorruptPage), errors.Is(err, ErrCorruptWal), errors.Is(err, ErrIoError):
		return err
	case errors.Is(err, pager.ErrCorruptPage):
		return fmt.Errorf("%w: %v", ErrCorruptPage, err)
	case errors.Is(err, pager.ErrCorruptWAL):
		return fmt.Errorf("%w: %v", ErrCorruptWal, err)
	default:
		// Unclassified pager failures (plain I/O) are treated as IoError.
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
}
