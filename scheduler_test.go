package bptree

import (
	"path/filepath"
	"testing"
	"time"
)

func TestScheduler_StartStopCheckpoints(t *testing.T) {
	dir := t.TempDir()
	eng, err := Open(filepath.Join(dir, "test.db"), testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	if err := eng.Insert(fk(1), fv(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	sched := NewScheduler(eng)
	if err := sched.Start("@every 1s"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	sched.Stop()

	got, err := eng.Get(fk(1))
	if err != nil {
		t.Fatalf("Get after scheduler stop: %v", err)
	}
	if string(got) != string(fv(1)) {
		t.Fatalf("Get(1) = %q, want %q", got, fv(1))
	}
}

func TestScheduler_StartTwiceIsNoop(t *testing.T) {
	dir := t.TempDir()
	eng, err := Open(filepath.Join(dir, "test.db"), testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	sched := NewScheduler(eng)
	if err := sched.Start("@every 1h"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := sched.Start("@every 1h"); err != nil {
		t.Fatalf("second Start should be a no-op, got: %v", err)
	}
	sched.Stop()
}
