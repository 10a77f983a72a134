package bptree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lssdb/bptree/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Engine
// ───────────────────────────────────────────────────────────────────────────
//
// Engine is the embeddable B+tree index described by spec.md §4.7. It wraps
// an internal/pager.Pager and internal/pager.BTree with the reader/writer
// concurrency model from spec.md §5: Get and Range take the shared lock,
// Insert/BatchInsert/Checkpoint/Close take the exclusive lock. Observing a
// fatal error (CorruptPage, CorruptWal, IoError) poisons the Engine: every
// later call returns that same error until Close and reopen.

// Engine is a single embeddable B+tree index backed by one on-disk file.
type Engine struct {
	mu    sync.RWMutex // guards concurrent Get/Range vs. Insert/BatchInsert/Checkpoint/Close
	pager *pager.Pager
	tree  *pager.BTree
	opts  Options

	stateMu sync.Mutex // guards closed/fatal independently, so RLock-held readers can still poison
	closed  bool
	fatal   error // sticky error once a fatal kind is observed
}

// Open opens (or creates) a B+tree index at path with the given options.
// Reopening an existing file with a different order/key_size/value_size
// fails with ErrInvalidArgument; with a different page_size the metadata
// page cannot be read at that size and Open fails with ErrIoError.
func Open(path string, opts Options) (*Engine, error) {
	if opts.PageSize == 0 && opts.Order == 0 && opts.KeySize == 0 && opts.ValueSize == 0 {
		opts = DefaultOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	p, err := pager.OpenPager(pager.PagerConfig{
		DBPath:        path,
		PageSize:      opts.PageSize,
		MaxCachePages: opts.CacheSize,
		Order:         opts.Order,
		KeySize:       opts.KeySize,
		ValueSize:     opts.ValueSize,
	})
	if err != nil {
		return nil, classifyOpenErr(err)
	}

	sb := p.Superblock()
	var tree *pager.BTree
	if sb.RootPage == pager.InvalidPageID {
		txID, err := p.BeginTx()
		if err != nil {
			p.Close()
			return nil, wrapFatal(err)
		}
		tree, err = pager.CreateBTree(p, txID)
		if err != nil {
			p.AbortTx(txID)
			p.Close()
			return nil, wrapFatal(err)
		}
		p.UpdateSuperblock(func(s *pager.Superblock) { s.RootPage = tree.Root() })
		if err := p.CommitTx(txID); err != nil {
			p.Close()
			return nil, wrapFatal(err)
		}
	} else {
		tree = pager.NewBTree(p, sb.RootPage)
	}

	eng := &Engine{pager: p, tree: tree, opts: opts}
	return eng, nil
}

// classifyOpenErr turns a pager.OpenPager failure into a bptree error kind.
// Config mismatches (pager.ErrConfigMismatch) surface as ErrInvalidArgument;
// everything else as the fatal ErrIoError (there is no live Engine yet to
// poison).
func classifyOpenErr(err error) error {
	if errors.Is(err, pager.ErrConfigMismatch) {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return fmt.Errorf("%w: %v", ErrIoError, err)
}

// checkOpen returns ErrClosed or any sticky fatal error; otherwise nil.
func (e *Engine) checkOpen() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.fatal != nil {
		return e.fatal
	}
	return nil
}

// poison records err as the sticky fatal error if it is one of the fatal
// kinds, and returns it unchanged either way.
func (e *Engine) poison(err error) error {
	if err == nil {
		return nil
	}
	if isFatal(err) {
		e.stateMu.Lock()
		e.fatal = err
		e.stateMu.Unlock()
	}
	return err
}

// Get looks up key, returning ErrNotFound if absent.
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(key) != e.opts.KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrInvalidArgument, len(key), e.opts.KeySize)
	}
	val, found, err := e.tree.Get(key)
	if err != nil {
		return nil, e.poison(wrapFatal(err))
	}
	if !found {
		return nil, ErrNotFound
	}
	return val, nil
}

// Insert adds or overwrites the value for key.
func (e *Engine) Insert(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if len(key) != e.opts.KeySize {
		return fmt.Errorf("%w: key is %d bytes, want %d", ErrInvalidArgument, len(key), e.opts.KeySize)
	}
	return e.withTx(func(txID pager.TxID) error {
		return e.tree.Insert(txID, key, value)
	})
}

// BatchInsert inserts many key-value pairs as a single transaction. Keys
// must be supplied in ascending order (equal adjacent keys are allowed);
// a key that sorts before its predecessor returns
// ErrOutOfOrderBatch and inserts nothing. Duplicate keys within the batch
// resolve last-occurrence-wins.
func (e *Engine) BatchInsert(keys, values [][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if len(keys) != len(values) {
		return fmt.Errorf("%w: %d keys but %d values", ErrInvalidArgument, len(keys), len(values))
	}
	for _, k := range keys {
		if len(k) != e.opts.KeySize {
			return fmt.Errorf("%w: key is %d bytes, want %d", ErrInvalidArgument, len(k), e.opts.KeySize)
		}
	}
	return e.withTx(func(txID pager.TxID) error {
		if err := e.tree.BatchInsert(txID, keys, values); err != nil {
			if errors.Is(err, pager.ErrOutOfOrder) {
				return fmt.Errorf("%w: %v", ErrOutOfOrderBatch, err)
			}
			return err
		}
		return nil
	})
}

// withTx runs fn inside a pager transaction, committing on success and
// aborting (discarding the WAL transaction) on failure, per spec.md §7's
// propagation policy.
func (e *Engine) withTx(fn func(txID pager.TxID) error) error {
	txID, err := e.pager.BeginTx()
	if err != nil {
		return e.poison(wrapFatal(err))
	}
	if err := fn(txID); err != nil {
		e.pager.AbortTx(txID)
		if errors.Is(err, ErrOutOfOrderBatch) || errors.Is(err, ErrInvalidArgument) {
			return err
		}
		return e.poison(wrapFatal(err))
	}
	if err := e.pager.CommitTx(txID); err != nil {
		return e.poison(wrapFatal(err))
	}
	return nil
}

// Range calls fn for every key-value pair with lower <= key <= upper (a nil
// upper scans to the end of the tree). The shared lock is held for the
// duration of the scan, per spec.md §9's simple locked-scan model. Returning
// false from fn stops the scan early.
func (e *Engine) Range(lower, upper []byte, fn func(key, value []byte) bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.tree.ScanRange(lower, upper, fn); err != nil {
		return e.poison(wrapFatal(err))
	}
	return nil
}

// Keys calls fn with every key in ascending order.
func (e *Engine) Keys(fn func(key []byte) bool) error {
	return e.Range(nil, nil, func(k, _ []byte) bool { return fn(k) })
}

// Items calls fn with every key-value pair in ascending order.
func (e *Engine) Items(fn func(key, value []byte) bool) error {
	return e.Range(nil, nil, fn)
}

// Checkpoint flushes dirty pages and the free-list to the main file and
// truncates the WAL.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.pager.Checkpoint(); err != nil {
		return e.poison(wrapFatal(err))
	}
	return nil
}

// Close checkpoints and closes the underlying files. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateMu.Lock()
	if e.closed {
		e.stateMu.Unlock()
		return nil
	}
	e.closed = true
	e.stateMu.Unlock()
	if err := e.pager.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}
