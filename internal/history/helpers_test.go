package history

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readers-ear/internal/engines"
	"github.com/dgnsrekt/readers-ear/internal/handles"
	"github.com/dgnsrekt/readers-ear/internal/store"
)

var quietLogger = log.New(io.Discard)

// manualScheduler collects scheduled funcs until the test fires them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *manualScheduler) AfterFunc(_ time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &manualTimer{s: s, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Pending returns the number of timers neither stopped nor fired.
func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Fire runs every pending timer and returns how many ran.
func (s *manualScheduler) Fire() int {
	s.mu.Lock()
	var due []func()
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t.f)
		}
	}
	s.mu.Unlock()

	for _, f := range due {
		f()
	}
	return len(due)
}

type fixture struct {
	m      *Manager
	blobs  *store.MemoryBlobStore
	meta   *store.MemoryMetadataStore
	cache  *handles.Cache
	sched  *manualScheduler
	engine *engines.Mock
}

// newFixture builds a manager over memory stores. seed, when non-nil, is
// loaded into the metadata store first; Hydrate is not called.
func newFixture(t *testing.T, seed []store.Record) *fixture {
	t.Helper()

	f := &fixture{
		blobs:  store.NewMemoryBlobStore(),
		meta:   store.NewMemoryMetadataStore(),
		cache:  handles.New(),
		sched:  &manualScheduler{},
		engine: engines.NewMock(),
	}
	if seed != nil {
		f.meta.Seed(seed)
	}

	var n int
	clock := time.UnixMilli(1700000000000)
	f.m = New(Options{
		Blobs:       f.blobs,
		Metadata:    f.meta,
		Handles:     f.cache,
		Extractor:   f.engine,
		Synthesizer: f.engine,
		Logger:      quietLogger,
		Scheduler:   f.sched,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			n++
			return fmt.Sprintf("item-%d", n)
		},
	})
	return f
}

// hydrated returns a fixture that is already hydrated.
func hydrated(t *testing.T, seed []store.Record) *fixture {
	t.Helper()
	f := newFixture(t, seed)
	require.NoError(t, f.m.Hydrate(context.Background()))
	return f
}

// audioItems counts items with HasAudio.
func (f *fixture) audioItems() int {
	n := 0
	for _, it := range f.m.Items() {
		if it.HasAudio {
			n++
		}
	}
	return n
}

// requireHandlesMatchAudio checks that live handles match audio-bearing items.
func (f *fixture) requireHandlesMatchAudio(t *testing.T) {
	t.Helper()
	require.Equal(t, f.audioItems(), f.cache.Live(), "live handles must equal items with audio")
	for _, it := range f.m.Items() {
		require.Equal(t, it.HasAudio, it.Audio != nil, "item %s: handle iff HasAudio", it.ID)
	}
}
