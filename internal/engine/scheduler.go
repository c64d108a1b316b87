package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"orderfeed/internal/domain"
	"orderfeed/internal/infra"
)

// DefaultFlushInterval is the publication cadence when none is configured.
const DefaultFlushInterval = 250 * time.Millisecond

// SchedulerConfig tunes publication cadence.
type SchedulerConfig struct {
	Interval      time.Duration
	EagerSnapshot bool   // publish a snapshot without waiting for the next tick
	DumpPath      string // post-mortem file written when a flush panics
}

// DefaultSchedulerConfig returns the 250ms cadence with eager snapshots.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Interval: DefaultFlushInterval, EagerSnapshot: true}
}

// Scheduler buffers feed messages and publishes coherent book states on a
// fixed interval. Ingest and Flush share one mutex, so a published state
// never contains part of a message. Published states are immutable.
type Scheduler struct {
	mu     sync.Mutex
	bids   domain.PriceLevelMap
	asks   domain.PriceLevelMap
	symbol domain.Product
	dirty  bool

	published atomic.Pointer[domain.OrderBookState]

	cfg     SchedulerConfig
	metrics *infra.Metrics

	subsMu      sync.RWMutex
	subscribers []func(domain.OrderBookState)

	kick chan struct{}

	runMu  sync.Mutex
	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler for symbol. A nil metrics gets a private instance.
func NewScheduler(symbol domain.Product, cfg SchedulerConfig, metrics *infra.Metrics) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFlushInterval
	}
	if cfg.DumpPath == "" {
		cfg.DumpPath = "panic_dump.json"
	}
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	s := &Scheduler{
		symbol:  symbol,
		cfg:     cfg,
		metrics: metrics,
		kick:    make(chan struct{}, 1),
	}
	initial := domain.NewOrderBookState(symbol)
	s.published.Store(&initial)
	return s
}

// Ingest merges one decoded feed message into the buffer and reports whether
// it changed anything. Event frames and frames for another product are dropped.
func (s *Scheduler) Ingest(msg *domain.FeedMessage) bool {
	if msg == nil || (msg.Kind != domain.FeedSnapshot && msg.Kind != domain.FeedDelta) {
		return false
	}
	start := time.Now()

	s.mu.Lock()
	if msg.ProductID != "" && msg.ProductID != s.symbol {
		s.mu.Unlock()
		s.metrics.RecordStale()
		slog.Debug("Dropping stale frame",
			slog.String("product", msg.ProductID.String()),
			slog.String("subscribed", s.symbol.String()))
		return false
	}
	snapshot := msg.Kind == domain.FeedSnapshot
	if snapshot {
		s.bids = ApplySnapshot(msg.Bids)
		s.asks = ApplySnapshot(msg.Asks)
	} else {
		ApplyDelta(&s.bids, msg.Bids)
		ApplyDelta(&s.asks, msg.Asks)
	}
	s.dirty = true
	levels := s.bids.Len() + s.asks.Len()
	s.mu.Unlock()

	s.metrics.RecordIngest(snapshot, time.Since(start).Nanoseconds(), levels)

	if snapshot && s.cfg.EagerSnapshot {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush publishes the buffer if it changed since the last publication and
// reports whether it did.
func (s *Scheduler) Flush() bool {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return false
	}
	next := Reduce(*s.published.Load(), ApplyEvent{Bids: s.bids, Asks: s.asks})
	s.published.Store(&next)
	s.dirty = false
	s.mu.Unlock()

	s.metrics.RecordFlush()
	s.notify(next)
	return true
}

// Reset empties the buffer, switches it to p and publishes the empty book.
func (s *Scheduler) Reset(p domain.Product) {
	s.mu.Lock()
	s.bids = domain.PriceLevelMap{}
	s.asks = domain.PriceLevelMap{}
	s.symbol = p
	s.dirty = false
	next := Reduce(*s.published.Load(), ChangeSubscriptionEvent{Product: p})
	s.published.Store(&next)
	s.mu.Unlock()

	s.metrics.SetBookLevels(0)
	s.notify(next)
}

// Switch moves the book to p. A running flush loop is stopped before the
// reset and restarted afterwards, so no stale tick publishes old data.
func (s *Scheduler) Switch(p domain.Product) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	wasRunning := s.cancel != nil
	if wasRunning {
		s.stopLocked()
	}
	s.Reset(p)
	if wasRunning {
		s.startLocked(s.parent)
	}
}

// Snapshot returns the last published state.
func (s *Scheduler) Snapshot() domain.OrderBookState {
	return *s.published.Load()
}

// Symbol returns the product currently buffered.
func (s *Scheduler) Symbol() domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbol
}

// Subscribe registers fn to receive every published state.
// fn runs on the publishing goroutine and must not block.
func (s *Scheduler) Subscribe(fn func(domain.OrderBookState)) {
	s.subsMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subsMu.Unlock()
}

func (s *Scheduler) notify(state domain.OrderBookState) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, fn := range s.subscribers {
		fn(state)
	}
}

// Start launches the flush loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	s.startLocked(ctx)
}

// Stop cancels the flush loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.stopLocked()
}

// Running reports whether the flush loop is active.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) startLocked(ctx context.Context) {
	s.parent = ctx
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.Debug("Scheduler started", slog.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Scheduler stopping")
			return
		case <-ticker.C:
			s.safeFlush()
		case <-s.kick:
			s.safeFlush()
		}
	}
}

// safeFlush keeps the loop alive if a subscriber panics. The state is dumped
// for post-mortem and the next tick publishes again.
func (s *Scheduler) safeFlush() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.String("panic", fmt.Sprint(r)))
			s.DumpState(s.cfg.DumpPath)
		}
	}()
	s.Flush()
}

// DumpState writes the buffer and last published state to a file (for post-mortem).
func (s *Scheduler) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	s.mu.Lock()
	data := struct {
		Symbol    domain.Product        `json:"symbol"`
		Dirty     bool                  `json:"dirty"`
		Bids      domain.PriceLevelMap  `json:"bids"`
		Asks      domain.PriceLevelMap  `json:"asks"`
		Published domain.OrderBookState `json:"published"`
	}{
		Symbol:    s.symbol,
		Dirty:     s.dirty,
		Bids:      s.bids.Clone(),
		Asks:      s.asks.Clone(),
		Published: *s.published.Load(),
	}
	s.mu.Unlock()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
