package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dshills/codeindex/internal/indexer"
)

// EventType is the kind of filesystem change
type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
	EventUnlink EventType = "unlink"
)

// Event is one filesystem change of a root-relative path
type Event struct {
	Type EventType
	Path string
}

// State is the scheduler's current phase
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateIndexing
	StateReindexPending
	StateReindexing
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateIndexing:
		return "indexing"
	case StateReindexPending:
		return "reindex-pending"
	case StateReindexing:
		return "reindexing"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Defaults
const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultBurstThreshold = 10
	DefaultBurstDelay     = 250 * time.Millisecond
	DefaultCooldown       = 60 * time.Second
	DefaultBusyRetry      = time.Second
)

// Indexer is the index the scheduler drives
type Indexer interface {
	AddFile(ctx context.Context, path, content string) (bool, error)
	RemoveFile(ctx context.Context, path string) bool
	ReindexAll(ctx context.Context) (*indexer.Statistics, error)
	Save(ctx context.Context) error
	Busy() bool
}

// ReadFunc returns the content of a root-relative path
type ReadFunc func(path string) (string, error)

// Config holds the scheduling policy
type Config struct {
	// Root resolves event paths for the default ReadFunc
	Root string

	Debounce       time.Duration
	BurstThreshold int
	BurstDelay     time.Duration
	Cooldown       time.Duration
	BusyRetry      time.Duration
}

// DefaultConfig returns the default policy for root
func DefaultConfig(root string) Config {
	return Config{
		Root:           root,
		Debounce:       DefaultDebounce,
		BurstThreshold: DefaultBurstThreshold,
		BurstDelay:     DefaultBurstDelay,
		Cooldown:       DefaultCooldown,
		BusyRetry:      DefaultBusyRetry,
	}
}

// Validate checks that every interval is usable
func (c Config) Validate() error {
	if c.Debounce <= 0 {
		return errors.New("debounce must be positive")
	}
	if c.BurstThreshold <= 0 {
		return errors.New("burst threshold must be positive")
	}
	if c.BurstDelay <= 0 {
		return errors.New("burst delay must be positive")
	}
	if c.Cooldown < 0 {
		return errors.New("cooldown cannot be negative")
	}
	if c.BusyRetry <= 0 {
		return errors.New("busy retry must be positive")
	}
	return nil
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithReadFunc replaces the file reader
func WithReadFunc(read ReadFunc) Option {
	return func(s *Scheduler) { s.read = read }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler turns filesystem events into index updates. Events are collected per
// path and flushed after a quiet period; a burst of deletions is promoted to a
// full reindex, which is rate limited by a cooldown. At most one cycle (flush or
// reindex) runs at a time and the index is saved after every completed cycle.
type Scheduler struct {
	idx    Indexer
	cfg    Config
	clock  Clock
	read   ReadFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]EventType
	deletes int

	debounce    Timer
	debounceSeq uint64

	reindexTimer    Timer
	reindexSeq      uint64
	reindexPending  bool
	reindexAt       time.Time
	reindexDeferred bool

	running      bool
	runningState State
	lastReindex  time.Time
	closed       bool
	cycles       sync.WaitGroup
}

// New creates a scheduler driving idx
func New(idx Indexer, cfg Config, opts ...Option) (*Scheduler, error) {
	if idx == nil {
		return nil, errors.New("scheduler: indexer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	s := &Scheduler{
		idx:     idx,
		cfg:     cfg,
		clock:   realClock{},
		pending: make(map[string]EventType),
	}
	s.read = s.readFile
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "scheduler")
	return s, nil
}

// Run feeds events into the scheduler until the channel closes or ctx is done
func (s *Scheduler) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Notify(ev)
		}
	}
}

// Notify records one filesystem event. The latest event for a path wins.
func (s *Scheduler) Notify(ev Event) {
	if ev.Path == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.pending[ev.Path] = ev.Type
	if ev.Type == EventUnlink {
		s.deletes++
		if s.deletes == s.cfg.BurstThreshold {
			s.logger.Info("deletion burst, scheduling reindex", "deletes", s.deletes)
			s.scheduleReindexLocked(s.cfg.BurstDelay)
		}
	}

	// a reindex about to run supersedes the batch
	if s.reindexPending && !s.reindexDeferred {
		return
	}
	s.armDebounceLocked(s.cfg.Debounce)
}

// RequestReindex schedules a full reindex after the debounce delay
func (s *Scheduler) RequestReindex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.scheduleReindexLocked(s.cfg.Debounce)
}

// State reports the current phase
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return StateShuttingDown
	case s.running:
		return s.runningState
	case s.reindexPending && !s.reindexDeferred:
		return StateReindexPending
	case s.debounce != nil:
		return StateDebouncing
	case s.reindexPending:
		return StateReindexPending
	default:
		return StateIdle
	}
}

// Close cancels pending timers and waits for an in-flight cycle to finish.
// Events that were not flushed yet are dropped.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopDebounceLocked()
	if s.reindexTimer != nil {
		s.reindexTimer.Stop()
		s.reindexTimer = nil
	}
	s.reindexPending = false
	dropped := len(s.pending)
	s.pending = make(map[string]EventType)
	s.mu.Unlock()

	s.cycles.Wait()
	s.logger.Debug("scheduler closed", "dropped", dropped)
	return nil
}

func (s *Scheduler) armDebounceLocked(d time.Duration) {
	s.stopDebounceLocked()
	s.debounceSeq++
	seq := s.debounceSeq
	s.debounce = s.clock.AfterFunc(d, func() { s.onDebounce(seq) })
}

func (s *Scheduler) stopDebounceLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.debounceSeq++
}

// scheduleReindexLocked arranges a reindex after delay, or at cooldown expiry if
// later. An earlier pending reindex is kept.
func (s *Scheduler) scheduleReindexLocked(delay time.Duration) {
	now := s.clock.Now()
	at := now.Add(delay)
	deferred := false
	if !s.lastReindex.IsZero() {
		if until := s.lastReindex.Add(s.cfg.Cooldown); until.After(at) {
			at = until
			deferred = true
		}
	}

	if s.reindexPending && !s.reindexAt.After(at) {
		return
	}
	s.setReindexTimerLocked(at.Sub(now))
	s.reindexAt = at
	s.reindexPending = true
	s.reindexDeferred = deferred

	if deferred {
		s.logger.Info("reindex deferred by cooldown", "at", at)
		return
	}
	s.stopDebounceLocked()
}

func (s *Scheduler) setReindexTimerLocked(d time.Duration) {
	if s.reindexTimer != nil {
		s.reindexTimer.Stop()
	}
	s.reindexSeq++
	seq := s.reindexSeq
	s.reindexTimer = s.clock.AfterFunc(d, func() { s.onReindex(seq) })
}

func (s *Scheduler) onDebounce(seq uint64) {
	s.mu.Lock()
	if s.closed || seq != s.debounceSeq {
		s.mu.Unlock()
		return
	}
	s.debounce = nil
	if s.running {
		s.armDebounceLocked(s.cfg.BusyRetry)
		s.mu.Unlock()
		return
	}

	batch := s.pending
	s.pending = make(map[string]EventType)
	if s.deletes < s.cfg.BurstThreshold {
		// deletions below the burst threshold still end in a full reindex,
		// on the normal delay
		if s.deletes > 0 {
			s.scheduleReindexLocked(s.cfg.Debounce)
		}
		s.deletes = 0
	}
	if len(batch) == 0 {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.runningState = StateIndexing
	s.cycles.Add(1)
	s.mu.Unlock()

	defer s.cycles.Done()
	s.flush(batch)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// flush applies one batch and saves
func (s *Scheduler) flush(batch map[string]EventType) {
	ctx := context.Background()
	paths := make([]string, 0, len(batch))
	for path := range batch {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var added, removed, failed int
	for _, path := range paths {
		if batch[path] == EventUnlink {
			if s.idx.RemoveFile(ctx, path) {
				removed++
			}
			continue
		}

		content, err := s.read(path)
		if errors.Is(err, fs.ErrNotExist) {
			if s.idx.RemoveFile(ctx, path) {
				removed++
			}
			continue
		}
		if err != nil {
			failed++
			s.logger.Warn("failed to read file", "path", path, "error", err)
			continue
		}
		changed, err := s.idx.AddFile(ctx, path, content)
		if err != nil {
			failed++
			s.logger.Warn("failed to index file", "path", path, "error", err)
			continue
		}
		if changed {
			added++
		}
	}

	if err := s.idx.Save(ctx); err != nil {
		s.logger.Error("failed to save index", "error", err)
	}
	s.logger.Info("batch flushed", "events", len(batch), "indexed", added, "removed", removed, "failed", failed)
}

func (s *Scheduler) onReindex(seq uint64) {
	s.mu.Lock()
	if s.closed || seq != s.reindexSeq {
		s.mu.Unlock()
		return
	}
	s.reindexTimer = nil
	if s.running || s.idx.Busy() {
		s.retryReindexLocked()
		s.mu.Unlock()
		return
	}
	// a reindex scheduled while the previous one ran has not seen its cooldown yet
	if now := s.clock.Now(); !s.lastReindex.IsZero() {
		if until := s.lastReindex.Add(s.cfg.Cooldown); now.Before(until) {
			s.deferReindexLocked(now, until)
			s.mu.Unlock()
			return
		}
	}

	s.reindexPending = false
	s.reindexDeferred = false
	s.pending = make(map[string]EventType)
	s.deletes = 0
	s.stopDebounceLocked()
	s.running = true
	s.runningState = StateReindexing
	s.cycles.Add(1)
	s.mu.Unlock()

	defer s.cycles.Done()
	ctx := context.Background()
	stats, err := s.idx.ReindexAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false

	if errors.Is(err, indexer.ErrIndexBusy) {
		if !s.closed {
			s.retryReindexLocked()
		}
		return
	}
	s.lastReindex = s.clock.Now()
	if err != nil {
		s.logger.Error("reindex failed", "error", err)
		return
	}
	if err := s.idx.Save(ctx); err != nil {
		s.logger.Error("failed to save index", "error", err)
	}
	s.logger.Info("reindex complete", "indexed", stats.FilesIndexed, "failed", stats.FilesFailed)
}

func (s *Scheduler) retryReindexLocked() {
	s.logger.Debug("index busy, retrying reindex", "after", s.cfg.BusyRetry)
	s.setReindexTimerLocked(s.cfg.BusyRetry)
	s.reindexAt = s.clock.Now().Add(s.cfg.BusyRetry)
	s.reindexPending = true
}

// deferReindexLocked moves the pending reindex to cooldown expiry. Events held
// back for it are flushed in the meantime.
func (s *Scheduler) deferReindexLocked(now, until time.Time) {
	s.logger.Info("reindex deferred by cooldown", "at", until)
	s.setReindexTimerLocked(until.Sub(now))
	s.reindexAt = until
	s.reindexPending = true
	s.reindexDeferred = true
	if len(s.pending) > 0 && s.debounce == nil {
		s.armDebounceLocked(s.cfg.Debounce)
	}
}

func (s *Scheduler) readFile(path string) (string, error) {
	content, err := os.ReadFile(filepath.Join(s.cfg.Root, filepath.FromSlash(path)))
	if err != nil {
		return "", err
	}
	return string(content), nil
}
