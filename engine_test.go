package bptree

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
)

func testOptions() Options {
	return Options{PageSize: 4096, Order: 32, KeySize: 8, ValueSize: 8, CacheSize: 64}
}

func fk(i int) []byte { return []byte(fmt.Sprintf("k%07d", i)) }
func fv(i int) []byte { return []byte(fmt.Sprintf("v%07d", i)) }

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	eng, err := Open(filepath.Join(dir, "test.db"), testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestEngine_InsertGetRoundTrip(t *testing.T) {
	eng := openTestEngine(t)
	for i := 0; i < 1000; i++ {
		if err := eng.Insert(fk(i), fv(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < 1000; i++ {
		got, err := eng.Get(fk(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !bytes.Equal(got, fv(i)) {
			t.Fatalf("Get(%d) = %q, want %q", i, got, fv(i))
		}
	}
}

func TestEngine_GetMissingReturnsNotFound(t *testing.T) {
	eng := openTestEngine(t)
	_, err := eng.Get(fk(42))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty tree: got %v, want ErrNotFound", err)
	}
}

func TestEngine_CloseThenOperationReturnsErrClosed(t *testing.T) {
	dir := t.TempDir()
	eng, err := Open(filepath.Join(dir, "test.db"), testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := eng.Get(fk(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close: got %v, want ErrClosed", err)
	}
	if err := eng.Insert(fk(1), fv(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Insert after Close: got %v, want ErrClosed", err)
	}
	// Close is idempotent.
	if err := eng.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestEngine_ReopenPersistsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	eng, err := Open(path, testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := eng.Insert(fk(i), fv(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	eng2, err := Open(path, testOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer eng2.Close()
	for i := 0; i < 50; i++ {
		got, err := eng2.Get(fk(i))
		if err != nil {
			t.Fatalf("Get(%d) after reopen: %v", i, err)
		}
		if !bytes.Equal(got, fv(i)) {
			t.Fatalf("Get(%d) after reopen = %q, want %q", i, got, fv(i))
		}
	}
}

func TestEngine_ReopenWithMismatchedKeySizeFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	eng, err := Open(path, testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	badOpts := testOptions()
	badOpts.KeySize = 16
	if _, err := Open(path, badOpts); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("reopen with mismatched key_size: got %v, want ErrInvalidArgument", err)
	}
}

func TestEngine_RangeScanOrdered(t *testing.T) {
	eng := openTestEngine(t)
	n := 200
	for i := 0; i < n; i++ {
		if err := eng.Insert(fk(i), fv(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var seen [][]byte
	err := eng.Range(fk(50), fk(99), func(k, v []byte) bool {
		seen = append(seen, append([]byte{}, k...))
		return true
	})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(seen) != 50 {
		t.Fatalf("Range(50,99) yielded %d entries, want 50", len(seen))
	}
	for i, k := range seen {
		if !bytes.Equal(k, fk(50+i)) {
			t.Fatalf("Range(50,99) entry %d = %q, want %q", i, k, fk(50+i))
		}
	}
}

func TestEngine_RangeStopsEarly(t *testing.T) {
	eng := openTestEngine(t)
	for i := 0; i < 100; i++ {
		if err := eng.Insert(fk(i), fv(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	count := 0
	err := eng.Range(nil, nil, func(k, v []byte) bool {
		count++
		return count < 10
	})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if count != 10 {
		t.Fatalf("Range stopped after %d, want 10", count)
	}
}

func TestEngine_KeysAndItems(t *testing.T) {
	eng := openTestEngine(t)
	for i := 0; i < 20; i++ {
		if err := eng.Insert(fk(i), fv(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var keys [][]byte
	if err := eng.Keys(func(k []byte) bool { keys = append(keys, append([]byte{}, k...)); return true }); err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 20 {
		t.Fatalf("Keys returned %d entries, want 20", len(keys))
	}
	if !sort.SliceIsSorted(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 }) {
		t.Fatalf("Keys not in ascending order")
	}

	items := 0
	if err := eng.Items(func(k, v []byte) bool { items++; return true }); err != nil {
		t.Fatalf("Items: %v", err)
	}
	if items != 20 {
		t.Fatalf("Items returned %d entries, want 20", items)
	}
}

func TestEngine_BatchInsertAscending(t *testing.T) {
	eng := openTestEngine(t)
	n := 100
	keys := make([][]byte, n)
	values := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = fk(i)
		values[i] = fv(i)
	}
	if err := eng.BatchInsert(keys, values); err != nil {
		t.Fatalf("BatchInsert: %v", err)
	}
	for i := 0; i < n; i++ {
		got, err := eng.Get(fk(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !bytes.Equal(got, fv(i)) {
			t.Fatalf("Get(%d) = %q, want %q", i, got, fv(i))
		}
	}
}

func TestEngine_BatchInsertOutOfOrderRejected(t *testing.T) {
	eng := openTestEngine(t)
	keys := [][]byte{fk(5), fk(1)}
	values := [][]byte{fv(5), fv(1)}
	if err := eng.BatchInsert(keys, values); !errors.Is(err, ErrOutOfOrderBatch) {
		t.Fatalf("BatchInsert out of order: got %v, want ErrOutOfOrderBatch", err)
	}
}

func TestEngine_WrongSizeKeyRejected(t *testing.T) {
	eng := openTestEngine(t)
	if err := eng.Insert([]byte("short"), fv(1)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Insert with wrong key size: got %v, want ErrInvalidArgument", err)
	}
}

func TestEngine_Checkpoint(t *testing.T) {
	eng := openTestEngine(t)
	for i := 0; i < 30; i++ {
		if err := eng.Insert(fk(i), fv(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := eng.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	got, err := eng.Get(fk(15))
	if err != nil {
		t.Fatalf("Get after checkpoint: %v", err)
	}
	if !bytes.Equal(got, fv(15)) {
		t.Fatalf("Get(15) after checkpoint = %q, want %q", got, fv(15))
	}
}

// TestEngine_ConcurrentReadersMonotonicVisibility exercises spec.md §5/§8's
// reader/writer model: N reader goroutines repeatedly scan the tree while one
// writer goroutine inserts new keys in ascending order. Every reader must see
// a monotonically growing count across successive Range calls — the
// RWMutex-guarded Engine must never let a reader observe a key and then, on a
// later scan, fail to observe it.
func TestEngine_ConcurrentReadersMonotonicVisibility(t *testing.T) {
	eng := openTestEngine(t)
	const writes = 300
	const readers = 8

	var stop int32
	var wg sync.WaitGroup
	errCh := make(chan error, readers)

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for atomic.LoadInt32(&stop) == 0 {
				count := 0
				if err := eng.Items(func(k, v []byte) bool { count++; return true }); err != nil {
					errCh <- fmt.Errorf("reader Items: %w", err)
					return
				}
				if count < last {
					errCh <- fmt.Errorf("reader saw count regress from %d to %d", last, count)
					return
				}
				last = count
			}
		}()
	}

	for i := 0; i < writes; i++ {
		if err := eng.Insert(fk(i), fv(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	atomic.StoreInt32(&stop, 1)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}

	count := 0
	if err := eng.Items(func(k, v []byte) bool { count++; return true }); err != nil {
		t.Fatalf("final Items: %v", err)
	}
	if count != writes {
		t.Fatalf("final count = %d, want %d", count, writes)
	}
}

func TestEngine_OverflowValueRoundTrip(t *testing.T) {
	dir := t.TempDir()
	opts := Options{PageSize: 4096, Order: 16, KeySize: 8, ValueSize: 8, CacheSize: 32}
	eng, err := Open(filepath.Join(dir, "test.db"), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	big := make([]byte, opts.PageSize*2)
	if _, err := rand.Read(big); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	if err := eng.Insert(fk(1), big); err != nil {
		t.Fatalf("Insert overflow value: %v", err)
	}
	got, err := eng.Get(fk(1))
	if err != nil {
		t.Fatalf("Get overflow value: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Fatalf("overflow value round trip mismatch")
	}
}
