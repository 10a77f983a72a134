package bptree

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// ───────────────────────────────────────────────────────────────────────────
// Scheduler
// ───────────────────────────────────────────────────────────────────────────
//
// Scheduler drives Engine.Checkpoint on a cron schedule, as an alternative
// (or addition) to the size-threshold trigger spec.md §4.6 mentions. It is
// optional: an Engine works fine with nobody ever calling Checkpoint other
// than Close's implicit final one.

// Scheduler periodically checkpoints an Engine according to a cron spec.
type Scheduler struct {
	mu      sync.Mutex
	engine  *Engine
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// NewScheduler creates a Scheduler bound to engine. It does not start
// running until Start is called.
func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{
		engine: engine,
		cron:   cron.New(),
	}
}

// Start schedules a periodic checkpoint using the given standard 5-field
// cron spec (e.g. "*/5 * * * *" for every five minutes) and starts running
// it in the background. Calling Start twice without an intervening Stop is
// a no-op.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	id, err := s.cron.AddFunc(spec, s.runCheckpoint)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	s.running = true
	log.Printf("bptree: scheduler started, spec=%q", spec)
	return nil
}

func (s *Scheduler) runCheckpoint() {
	if err := s.engine.Checkpoint(); err != nil {
		log.Printf("bptree: scheduled checkpoint failed: %v", err)
	}
}

// Stop halts the scheduler and waits for any in-flight checkpoint to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	log.Printf("bptree: scheduler stopped")
}
