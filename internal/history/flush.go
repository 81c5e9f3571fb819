package history

import (
	"sync"
	"time"
)

// Timer is a scheduled call that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// debouncer runs fn once after delay has passed without another Trigger.
type debouncer struct {
	scheduler Scheduler
	delay     time.Duration
	fn        func()

	mu      sync.Mutex
	timer   Timer
	seq     uint64
	stopped bool

	// Runs of fn that passed the seq check
	inflight sync.WaitGroup
}

func newDebouncer(scheduler Scheduler, delay time.Duration, fn func()) *debouncer {
	return &debouncer{scheduler: scheduler, delay: delay, fn: fn}
}

// Trigger cancels any pending run and schedules a new one.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	d.seq++
	seq := d.seq
	d.timer = d.scheduler.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A later Trigger or Cancel superseded this run
		if seq != d.seq || d.timer == nil {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.inflight.Add(1)
		d.mu.Unlock()

		defer d.inflight.Done()
		d.fn()
	})
}

// Cancel drops the pending run and reports whether there was one.
func (d *debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.seq++
	return true
}

// Stop cancels the pending run, ignores future triggers and waits for a run
// that already started to finish.
func (d *debouncer) Stop() bool {
	pending := d.Cancel()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.inflight.Wait()
	return pending
}
