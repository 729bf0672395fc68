package manager

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/linabrihoum/microcap-trader/internal/cache"
	"github.com/linabrihoum/microcap-trader/internal/domain"
	"github.com/linabrihoum/microcap-trader/internal/policy"
	"github.com/linabrihoum/microcap-trader/internal/refresh"
)

// MockFetcher is a mock implementation of domain.Fetcher
type MockFetcher struct {
	mock.Mock
}

var _ domain.Fetcher = (*MockFetcher)(nil)

func (m *MockFetcher) Fetch(ctx context.Context, symbol string) (*domain.Quote, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Quote), args.Error(1)
}

func testQuote(symbol string, price float64) *domain.Quote {
	return &domain.Quote{
		Symbol:     symbol,
		Price:      price,
		Volume:     100000,
		DataSource: domain.DataSourceSimulated,
		FetchedAt:  time.Now(),
	}
}

// newTestManager builds a manager around the given fetcher. The scheduler
// polls fast so background work shows up quickly in assertions.
func newTestManager(t *testing.T, f domain.Fetcher) *Manager {
	t.Helper()

	policies := policy.Default()
	store := cache.NewStore(cache.Options{MaxSize: 100}, policies, zaptest.NewLogger(t))
	sched := refresh.NewScheduler(store, f, policies, refresh.Options{
		MaxQueueSize: 100,
		MaxRetries:   0,
		RetryDelay:   10 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))

	m := NewManager(store, sched, f, policies, zaptest.NewLogger(t))
	t.Cleanup(m.Shutdown)
	return m
}

func TestManagerColdMissFetchesSynchronously(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "ABCD").Return(testQuote("ABCD", 12.5), nil).Once()

	m := newTestManager(t, fetcher)
	m.Shutdown() // keep the background worker out of this test

	got, ok := m.ForAnalysis(context.Background(), "ABCD")
	require.True(t, ok)
	assert.Equal(t, 12.5, got.Price)

	// Second read is served from cache; the fetcher must not be called again.
	got, ok = m.ForAnalysis(context.Background(), "ABCD")
	require.True(t, ok)
	assert.Equal(t, 12.5, got.Price)

	fetcher.AssertExpectations(t)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, int64(1), stats.Cache.Misses)
}

func TestManagerFetchErrorMeansNoData(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "ABCD").Return(nil, errors.New("upstream down"))

	m := newTestManager(t, fetcher)
	m.Shutdown()

	got, ok := m.ForTrading(context.Background(), "ABCD")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestManagerNilQuoteMeansNoData(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "ABCD").Return(nil, nil)

	m := newTestManager(t, fetcher)
	m.Shutdown()

	got, ok := m.ForAnalysis(context.Background(), "ABCD")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestManagerHitQueuesKeepWarmRefresh(t *testing.T) {
	var fetches int64
	fetch := domain.FetcherFunc(func(ctx context.Context, symbol string) (*domain.Quote, error) {
		atomic.AddInt64(&fetches, 1)
		return testQuote(symbol, 10), nil
	})

	m := newTestManager(t, fetch)

	// Cold miss fetches synchronously (1 fetch), the following hit queues
	// a background refresh (a 2nd fetch, done by the worker).
	_, ok := m.ForTrading(context.Background(), "ABCD")
	require.True(t, ok)
	_, ok = m.ForTrading(context.Background(), "ABCD")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&fetches) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerSetActivePositionQueuesRefresh(t *testing.T) {
	var fetches int64
	fetch := domain.FetcherFunc(func(ctx context.Context, symbol string) (*domain.Quote, error) {
		atomic.AddInt64(&fetches, 1)
		return testQuote(symbol, 10), nil
	})

	m := newTestManager(t, fetch)

	m.SetActivePosition("ABCD", true)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&fetches) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, m.Stats().ActivePositions)

	m.SetActivePosition("ABCD", false)
	assert.Equal(t, 0, m.Stats().ActivePositions)
}

func TestManagerSetWatchlistBatchQueues(t *testing.T) {
	var fetches int64
	fetch := domain.FetcherFunc(func(ctx context.Context, symbol string) (*domain.Quote, error) {
		atomic.AddInt64(&fetches, 1)
		return testQuote(symbol, 10), nil
	})

	m := newTestManager(t, fetch)

	symbols := []string{"AAA", "BBB", "CCC"}
	m.SetWatchlist(symbols)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&fetches) == int64(len(symbols))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, m.Stats().Watchlist)

	// Replacing the watchlist swaps the whole set.
	m.SetWatchlist([]string{"DDD"})
	assert.Equal(t, 1, m.Stats().Watchlist)
}

func TestManagerPortfolioClassification(t *testing.T) {
	fetch := domain.FetcherFunc(func(ctx context.Context, symbol string) (*domain.Quote, error) {
		return testQuote(symbol, 10), nil
	})

	m := newTestManager(t, fetch)
	m.SetActivePosition("ACT", true)
	m.SetHighVolume([]string{"VOL"})

	data := m.PortfolioData(context.Background(), []string{"ACT", "VOL", "RES"})
	require.Len(t, data, 3)
	for _, symbol := range []string{"ACT", "VOL", "RES"} {
		assert.NotNil(t, data[symbol], symbol)
	}
}

func TestManagerPortfolioMissingSymbolIsNil(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "GOOD").Return(testQuote("GOOD", 10), nil)
	fetcher.On("Fetch", mock.Anything, "BAD").Return(nil, errors.New("no such symbol"))

	m := newTestManager(t, fetcher)
	m.Shutdown()

	data := m.PortfolioData(context.Background(), []string{"GOOD", "BAD"})
	assert.NotNil(t, data["GOOD"])
	assert.Nil(t, data["BAD"])
}

func TestManagerSubscribeBothPaths(t *testing.T) {
	var notifications int64
	fetch := domain.FetcherFunc(func(ctx context.Context, symbol string) (*domain.Quote, error) {
		return testQuote(symbol, 10), nil
	})

	m := newTestManager(t, fetch)

	sub := m.Subscribe("ABCD", func(symbol string, q *domain.Quote) {
		atomic.AddInt64(&notifications, 1)
	})

	// Cold miss writes through the store, which notifies store subscribers.
	_, ok := m.ForAnalysis(context.Background(), "ABCD")
	require.True(t, ok)
	assert.Equal(t, int64(1), atomic.LoadInt64(&notifications))

	// A background refresh notifies both the store and scheduler sides.
	m.SetActivePosition("ABCD", true)
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&notifications) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	m.Unsubscribe(sub)
	before := atomic.LoadInt64(&notifications)
	m.Invalidate("ABCD", "test")
	_, _ = m.ForAnalysis(context.Background(), "ABCD")
	assert.Equal(t, before, atomic.LoadInt64(&notifications))
}

func TestManagerInvalidate(t *testing.T) {
	fetch := domain.FetcherFunc(func(ctx context.Context, symbol string) (*domain.Quote, error) {
		return testQuote(symbol, 10), nil
	})

	m := newTestManager(t, fetch)

	_, ok := m.ForAnalysis(context.Background(), "ABCD")
	require.True(t, ok)

	assert.True(t, m.Invalidate("ABCD", "manual"))
	assert.False(t, m.Invalidate("ABCD", "manual"))
}

func TestManagerStats(t *testing.T) {
	fetch := domain.FetcherFunc(func(ctx context.Context, symbol string) (*domain.Quote, error) {
		return testQuote(symbol, 10), nil
	})

	m := newTestManager(t, fetch)
	m.SetActivePosition("A", true)
	m.SetWatchlist([]string{"B", "C"})
	m.SetHighVolume([]string{"D"})

	stats := m.Stats()
	assert.Equal(t, 1, stats.ActivePositions)
	assert.Equal(t, 2, stats.Watchlist)
	assert.Equal(t, 1, stats.HighVolume)
	assert.Equal(t, 100, stats.Cache.MaxSize)
}
