package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orderfeed/internal/domain"
	"orderfeed/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotMsg(p domain.Product, bids, asks []domain.PriceLevel) *domain.FeedMessage {
	return &domain.FeedMessage{Kind: domain.FeedSnapshot, ProductID: p, Bids: bids, Asks: asks}
}

func deltaMsg(p domain.Product, bids, asks []domain.PriceLevel) *domain.FeedMessage {
	return &domain.FeedMessage{Kind: domain.FeedDelta, ProductID: p, Bids: bids, Asks: asks}
}

func manualScheduler(metrics *infra.Metrics) *Scheduler {
	return NewScheduler(domain.ProductXBTUSD, SchedulerConfig{Interval: time.Hour}, metrics)
}

func TestScheduler_SnapshotThenDelta(t *testing.T) {
	s := manualScheduler(nil)

	require.True(t, s.Ingest(snapshotMsg(domain.ProductXBTUSD,
		[]domain.PriceLevel{lv("100.00", "5")},
		[]domain.PriceLevel{lv("101.00", "4")})))
	require.True(t, s.Ingest(deltaMsg(domain.ProductXBTUSD,
		[]domain.PriceLevel{lv("100.00", "0")},
		[]domain.PriceLevel{lv("101.50", "2")})))
	require.True(t, s.Flush())

	state := s.Snapshot()
	assert.Equal(t, 0, state.Bids.Len())
	want := domain.NewPriceLevelMap(lv("101.00", "4"), lv("101.50", "2"))
	assert.True(t, state.Asks.Equal(&want))
	assert.Equal(t, domain.ProductXBTUSD, state.Symbol)
}

func TestScheduler_TwoDeltasOnePublication(t *testing.T) {
	metrics := &infra.Metrics{}
	s := manualScheduler(metrics)

	var published []domain.OrderBookState
	s.Subscribe(func(st domain.OrderBookState) { published = append(published, st) })

	s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "1")}, nil))
	s.Ingest(deltaMsg(domain.ProductXBTUSD, nil, []domain.PriceLevel{lv("102", "3")}))
	s.Flush()
	s.Flush() // nothing new

	require.Len(t, published, 1)
	assert.Equal(t, 1, published[0].Bids.Len())
	assert.Equal(t, 1, published[0].Asks.Len())
	assert.Equal(t, uint64(1), published[0].Version)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.FlushesTotal)
	assert.Equal(t, uint64(2), snap.DeltasApplied)
	assert.Equal(t, int64(2), snap.BookLevels)
}

func TestScheduler_FlushWithoutChangesPublishesNothing(t *testing.T) {
	s := manualScheduler(nil)
	assert.False(t, s.Flush())
	assert.Equal(t, uint64(0), s.Snapshot().Version)
}

func TestScheduler_PublishedStateIsImmutable(t *testing.T) {
	s := manualScheduler(nil)
	s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "1")}, nil))
	s.Flush()
	first := s.Snapshot()

	s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "0"), lv("99", "4")}, nil))
	s.Flush()

	got, ok := first.Bids.Get(10000)
	require.True(t, ok, "earlier snapshot lost its level")
	assert.Equal(t, "1", got.Size.String())
	assert.Equal(t, 1, first.Bids.Len())
	assert.Equal(t, uint64(2), s.Snapshot().Version)
}

func TestScheduler_DropsStaleAndEventFrames(t *testing.T) {
	metrics := &infra.Metrics{}
	s := manualScheduler(metrics)

	assert.False(t, s.Ingest(deltaMsg(domain.ProductETHUSD, []domain.PriceLevel{lv("2000", "1")}, nil)))
	assert.False(t, s.Ingest(&domain.FeedMessage{Kind: domain.FeedEvent, Event: "subscribed"}))
	assert.False(t, s.Ingest(nil))
	assert.False(t, s.Flush())
	assert.Equal(t, uint64(1), metrics.Snapshot().StaleDropped)

	// Frames without a product id belong to the current subscription.
	assert.True(t, s.Ingest(deltaMsg("", []domain.PriceLevel{lv("100", "1")}, nil)))
}

func TestScheduler_ResetPublishesEmptyBook(t *testing.T) {
	s := manualScheduler(nil)
	s.Ingest(snapshotMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "5")}, []domain.PriceLevel{lv("101", "4")}))
	s.Flush()

	var last domain.OrderBookState
	s.Subscribe(func(st domain.OrderBookState) { last = st })

	s.Reset(domain.ProductETHUSD)

	assert.True(t, last.IsEmpty())
	assert.Equal(t, domain.ProductETHUSD, last.Symbol)
	assert.Equal(t, domain.ProductETHUSD, s.Symbol())
	assert.Equal(t, last, s.Snapshot())
	assert.False(t, s.Flush(), "reset must leave the buffer clean")

	// Old product frames are now stale.
	assert.False(t, s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "1")}, nil)))
}

func TestScheduler_TickerPublishes(t *testing.T) {
	s := NewScheduler(domain.ProductXBTUSD, SchedulerConfig{Interval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "1")}, nil))

	require.Eventually(t, func() bool {
		return s.Snapshot().Bids.Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_EagerSnapshot(t *testing.T) {
	s := NewScheduler(domain.ProductXBTUSD, SchedulerConfig{Interval: time.Hour, EagerSnapshot: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	s.Ingest(snapshotMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "5")}, nil))

	require.Eventually(t, func() bool {
		return s.Snapshot().Bids.Len() == 1
	}, time.Second, 5*time.Millisecond)

	// Deltas still wait for the (hour-long) tick.
	s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("99", "1")}, nil))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, s.Snapshot().Bids.Len())
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(domain.ProductXBTUSD, DefaultSchedulerConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // no-op
	assert.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())
	s.Stop() // no-op
}

func TestScheduler_SwitchRestartsLoop(t *testing.T) {
	s := NewScheduler(domain.ProductXBTUSD, SchedulerConfig{Interval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "1")}, nil))
	s.Switch(domain.ProductETHUSD)

	assert.True(t, s.Running())
	state := s.Snapshot()
	assert.True(t, state.IsEmpty())
	assert.Equal(t, domain.ProductETHUSD, state.Symbol)

	s.Ingest(deltaMsg(domain.ProductETHUSD, nil, []domain.PriceLevel{lv("2000.05", "3")}))
	require.Eventually(t, func() bool {
		return s.Snapshot().Asks.Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_SwitchWhileStopped(t *testing.T) {
	s := manualScheduler(nil)
	s.Switch(domain.ProductETHUSD)

	assert.False(t, s.Running())
	assert.Equal(t, domain.ProductETHUSD, s.Snapshot().Symbol)
}

func TestScheduler_ConcurrentIngestAndFlush(t *testing.T) {
	s := NewScheduler(domain.ProductXBTUSD, SchedulerConfig{Interval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var publications atomic.Int64
	var lastVersion atomic.Uint64
	s.Subscribe(func(st domain.OrderBookState) {
		publications.Add(1)
		lastVersion.Store(st.Version)
	})
	s.Start(ctx)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				price := domain.PriceKey(10000 + g*1000 + i).Price()
				s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{{Price: price, Size: lv("1", "1").Size}}, nil))
			}
		}(g)
	}
	wg.Wait()
	s.Stop()
	s.Flush()

	assert.Equal(t, 800, s.Snapshot().Bids.Len())
	assert.Positive(t, publications.Load())
	assert.Equal(t, s.Snapshot().Version, lastVersion.Load())
}

func TestScheduler_DumpState(t *testing.T) {
	s := manualScheduler(nil)
	s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "1")}, nil))

	file := filepath.Join(t.TempDir(), "dump.json")
	s.DumpState(file)

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"symbol": "PI_XBTUSD"`)
	assert.Contains(t, string(b), `"dirty": true`)
}

func TestScheduler_SubscriberPanicDoesNotStopLoop(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "panic_dump.json")
	s := NewScheduler(domain.ProductXBTUSD, SchedulerConfig{Interval: 5 * time.Millisecond, DumpPath: dump}, nil)

	var calls atomic.Int64
	s.Subscribe(func(domain.OrderBookState) {
		if calls.Add(1) == 1 {
			panic("render failed")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("100", "1")}, nil))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Ingest(deltaMsg(domain.ProductXBTUSD, []domain.PriceLevel{lv("101", "1")}, nil))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	_, err := os.Stat(dump)
	assert.NoError(t, err, "expected a post-mortem dump")
}
