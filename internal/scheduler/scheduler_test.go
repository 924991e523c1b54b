package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/internal/indexer"
)

// fakeClock fires timers synchronously from Advance
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, running every timer that falls due in order
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			if target.After(c.now) {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

// fakeIndexer records every call
type fakeIndexer struct {
	mu        sync.Mutex
	added     []string
	removed   []string
	reindexes []time.Time
	saves     int
	busy      bool
	addErr    error
	clock     Clock

	// duringReindex runs once inside the next ReindexAll, outside the lock
	duringReindex func()
}

func (f *fakeIndexer) AddFile(ctx context.Context, path, content string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return false, f.addErr
	}
	f.added = append(f.added, path)
	return true, nil
}

func (f *fakeIndexer) RemoveFile(ctx context.Context, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return true
}

func (f *fakeIndexer) ReindexAll(ctx context.Context) (*indexer.Statistics, error) {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return nil, indexer.ErrIndexBusy
	}
	f.reindexes = append(f.reindexes, f.clock.Now())
	during := f.duringReindex
	f.duringReindex = nil
	f.mu.Unlock()

	if during != nil {
		during()
	}
	return &indexer.Statistics{}, nil
}

func (f *fakeIndexer) Save(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeIndexer) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeIndexer) setBusy(b bool) {
	f.mu.Lock()
	f.busy = b
	f.mu.Unlock()
}

func (f *fakeIndexer) snapshot() (added, removed []string, reindexes, saves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...), append([]string(nil), f.removed...), len(f.reindexes), f.saves
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeIndexer, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	idx := &fakeIndexer{clock: clock}
	read := func(path string) (string, error) {
		if path == "gone.go" {
			return "", fs.ErrNotExist
		}
		return "package x // " + path, nil
	}
	s, err := New(idx, DefaultConfig(t.TempDir()), WithClock(clock), WithReadFunc(read))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, idx, clock
}

func unlinks(s *Scheduler, prefix string, n int) {
	for i := 0; i < n; i++ {
		s.Notify(Event{Type: EventUnlink, Path: fmt.Sprintf("%s/file%02d.go", prefix, i)})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig(".").Validate())

	cfg := DefaultConfig(".")
	cfg.Debounce = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig(".")
	cfg.BurstThreshold = 0
	assert.Error(t, cfg.Validate())

	_, err := New(nil, DefaultConfig("."))
	assert.Error(t, err)
}

func TestScheduler_DebounceBatch(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	s.Notify(Event{Type: EventAdd, Path: "a.go"})
	s.Notify(Event{Type: EventChange, Path: "b.go"})
	s.Notify(Event{Type: EventUnlink, Path: "c.go"})
	assert.Equal(t, StateDebouncing, s.State())

	clock.Advance(400 * time.Millisecond)
	s.Notify(Event{Type: EventChange, Path: "a.go"})

	// the timer restarted with the last event
	clock.Advance(400 * time.Millisecond)
	added, removed, _, saves := idx.snapshot()
	assert.Empty(t, added)
	assert.Empty(t, removed)
	assert.Zero(t, saves)

	clock.Advance(100 * time.Millisecond)
	added, removed, reindexes, saves := idx.snapshot()
	assert.Equal(t, []string{"a.go", "b.go"}, added)
	assert.Equal(t, []string{"c.go"}, removed)
	assert.Zero(t, reindexes)
	assert.Equal(t, 1, saves)

	// the deletion also queues a reindex on the normal delay
	assert.Equal(t, StateReindexPending, s.State())
	clock.Advance(DefaultDebounce)
	_, _, reindexes, saves = idx.snapshot()
	assert.Equal(t, 1, reindexes)
	assert.Equal(t, 2, saves)
	assert.Equal(t, StateIdle, s.State())
}

func TestScheduler_LastEventWins(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	s.Notify(Event{Type: EventAdd, Path: "a.go"})
	s.Notify(Event{Type: EventUnlink, Path: "a.go"})
	s.Notify(Event{Type: EventUnlink, Path: "b.go"})
	s.Notify(Event{Type: EventAdd, Path: "b.go"})
	clock.Advance(DefaultDebounce)

	added, removed, _, _ := idx.snapshot()
	assert.Equal(t, []string{"b.go"}, added)
	assert.Equal(t, []string{"a.go"}, removed)
}

func TestScheduler_VanishedFileIsRemoved(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	s.Notify(Event{Type: EventChange, Path: "gone.go"})
	clock.Advance(DefaultDebounce)

	added, removed, _, _ := idx.snapshot()
	assert.Empty(t, added)
	assert.Equal(t, []string{"gone.go"}, removed)
}

func TestScheduler_FailedFilesDoNotStopBatch(t *testing.T) {
	s, idx, clock := newTestScheduler(t)
	idx.addErr = errors.New("provider down")

	s.Notify(Event{Type: EventAdd, Path: "a.go"})
	s.Notify(Event{Type: EventUnlink, Path: "b.go"})
	clock.Advance(DefaultDebounce)

	_, removed, _, saves := idx.snapshot()
	assert.Equal(t, []string{"b.go"}, removed)
	assert.Equal(t, 1, saves)
}

func TestScheduler_DeleteBurstPromotesReindex(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	unlinks(s, "old", 12)
	assert.Equal(t, StateReindexPending, s.State())

	clock.Advance(DefaultBurstDelay)
	added, removed, reindexes, saves := idx.snapshot()
	assert.Equal(t, 1, reindexes, "burst triggers exactly one reindex")
	assert.Empty(t, removed, "the reindex supersedes per-file removals")
	assert.Empty(t, added)
	assert.Equal(t, 1, saves)

	// the superseded batch is never flushed
	clock.Advance(2 * DefaultDebounce)
	_, removed, reindexes, _ = idx.snapshot()
	assert.Empty(t, removed)
	assert.Equal(t, 1, reindexes)
	assert.Equal(t, StateIdle, s.State())
}

func TestScheduler_BelowThresholdReindexAfterDebounce(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	s.Notify(Event{Type: EventUnlink, Path: "a.go"})
	clock.Advance(DefaultDebounce)
	_, removed, reindexes, _ := idx.snapshot()
	assert.Equal(t, []string{"a.go"}, removed, "the window is flushed first")
	assert.Zero(t, reindexes)
	assert.Equal(t, StateReindexPending, s.State())

	clock.Advance(DefaultBurstDelay)
	_, _, reindexes, _ = idx.snapshot()
	assert.Zero(t, reindexes, "below threshold waits for the debounce delay")

	clock.Advance(DefaultDebounce - DefaultBurstDelay)
	_, _, reindexes, _ = idx.snapshot()
	assert.Equal(t, 1, reindexes)

	// the counter resets with each flushed window, and the next reindex honours cooldown
	unlinks(s, "older", DefaultBurstThreshold-1)
	clock.Advance(DefaultDebounce)
	_, removed, reindexes, _ = idx.snapshot()
	assert.Len(t, removed, DefaultBurstThreshold)
	assert.Equal(t, 1, reindexes)

	clock.Advance(DefaultCooldown)
	_, _, reindexes, _ = idx.snapshot()
	assert.Equal(t, 2, reindexes)
}

func TestScheduler_CooldownDefersSecondBurst(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	unlinks(s, "first", 12)
	clock.Advance(DefaultBurstDelay)
	_, _, reindexes, _ := idx.snapshot()
	require.Equal(t, 1, reindexes)

	clock.Advance(time.Second)
	unlinks(s, "second", 12)

	// normal flushes continue during cooldown
	clock.Advance(DefaultDebounce)
	_, removed, reindexes, _ := idx.snapshot()
	assert.Len(t, removed, 12)
	assert.Equal(t, 1, reindexes)
	assert.Equal(t, StateReindexPending, s.State())

	// still inside the cooldown window
	clock.Advance(DefaultCooldown - time.Second - DefaultDebounce - time.Millisecond)
	_, _, reindexes, _ = idx.snapshot()
	assert.Equal(t, 1, reindexes)

	clock.Advance(time.Millisecond)
	_, _, reindexes, _ = idx.snapshot()
	assert.Equal(t, 2, reindexes, "the deferred burst runs when cooldown elapses")

	idx.mu.Lock()
	gap := idx.reindexes[1].Sub(idx.reindexes[0])
	idx.mu.Unlock()
	assert.GreaterOrEqual(t, gap, DefaultCooldown)
}

func TestScheduler_BurstDuringReindexWaitsForCooldown(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	// a second burst arrives while the first reindex is still running and its
	// timer fires before that reindex has finished
	idx.duringReindex = func() {
		unlinks(s, "second", 12)
		clock.Advance(DefaultBurstDelay)
	}
	unlinks(s, "first", 12)
	clock.Advance(DefaultBurstDelay)
	_, _, reindexes, _ := idx.snapshot()
	require.Equal(t, 1, reindexes)
	finished := clock.Now()

	// the busy retry lands inside the cooldown and is deferred
	clock.Advance(2 * DefaultBusyRetry)
	_, removed, reindexes, _ := idx.snapshot()
	assert.Equal(t, 1, reindexes)
	assert.Len(t, removed, 12, "held-back events flush while deferred")
	assert.Equal(t, StateReindexPending, s.State())

	clock.Advance(DefaultCooldown)
	_, _, reindexes, _ = idx.snapshot()
	require.Equal(t, 2, reindexes)

	idx.mu.Lock()
	second := idx.reindexes[1]
	idx.mu.Unlock()
	assert.Equal(t, finished.Add(DefaultCooldown), second)
}

func TestScheduler_BusyRetry(t *testing.T) {
	s, idx, clock := newTestScheduler(t)
	idx.setBusy(true)

	unlinks(s, "old", 10)
	clock.Advance(DefaultBurstDelay)
	_, _, reindexes, _ := idx.snapshot()
	assert.Zero(t, reindexes)
	assert.Equal(t, StateReindexPending, s.State())

	clock.Advance(DefaultBusyRetry)
	_, _, reindexes, _ = idx.snapshot()
	assert.Zero(t, reindexes, "still busy")

	idx.setBusy(false)
	clock.Advance(DefaultBusyRetry)
	_, _, reindexes, _ = idx.snapshot()
	assert.Equal(t, 1, reindexes)
}

func TestScheduler_RequestReindex(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	s.RequestReindex()
	assert.Equal(t, StateReindexPending, s.State())

	clock.Advance(DefaultBurstDelay)
	_, _, reindexes, _ := idx.snapshot()
	assert.Zero(t, reindexes, "explicit requests wait for the debounce delay")

	clock.Advance(DefaultDebounce - DefaultBurstDelay)
	_, _, reindexes, _ = idx.snapshot()
	assert.Equal(t, 1, reindexes)

	// a second request lands in cooldown
	s.RequestReindex()
	clock.Advance(DefaultDebounce)
	_, _, reindexes, _ = idx.snapshot()
	assert.Equal(t, 1, reindexes)

	clock.Advance(DefaultCooldown)
	_, _, reindexes, _ = idx.snapshot()
	assert.Equal(t, 2, reindexes)
}

func TestScheduler_Close(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	s.Notify(Event{Type: EventAdd, Path: "a.go"})
	unlinks(s, "old", 12)
	require.NoError(t, s.Close())
	assert.Equal(t, StateShuttingDown, s.State())

	s.Notify(Event{Type: EventAdd, Path: "b.go"})
	s.RequestReindex()
	clock.Advance(DefaultCooldown)

	added, removed, reindexes, saves := idx.snapshot()
	assert.Empty(t, added)
	assert.Empty(t, removed)
	assert.Zero(t, reindexes)
	assert.Zero(t, saves)

	assert.NoError(t, s.Close(), "close is idempotent")
}

func TestScheduler_Run(t *testing.T) {
	s, idx, clock := newTestScheduler(t)

	events := make(chan Event, 2)
	events <- Event{Type: EventAdd, Path: "a.go"}
	events <- Event{Type: EventAdd, Path: ""}
	close(events)

	require.NoError(t, s.Run(context.Background(), events))
	clock.Advance(DefaultDebounce)
	added, _, _, _ := idx.snapshot()
	assert.Equal(t, []string{"a.go"}, added)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx, make(chan Event)), context.Canceled)
}

func TestScheduler_DefaultReadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\n"), 0o644))

	s, err := New(&fakeIndexer{clock: realClock{}}, DefaultConfig(root))
	require.NoError(t, err)
	defer s.Close()

	content, err := s.read("pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", content)

	_, err = s.read("pkg/missing.go")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "reindex-pending", StateReindexPending.String())
	assert.Equal(t, "state(42)", State(42).String())
}
