// Package manager provides the high-level quote access façade. It
// classifies each request by use-case, serves it from the cache store and
// keeps hot symbols warm through the background refresh scheduler.
package manager

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/linabrihoum/microcap-trader/internal/cache"
	"github.com/linabrihoum/microcap-trader/internal/domain"
	"github.com/linabrihoum/microcap-trader/internal/policy"
	"github.com/linabrihoum/microcap-trader/internal/refresh"
)

// Subscription ties together the per-component callback handles created by
// Subscribe, so Unsubscribe can undo both registrations.
type Subscription struct {
	Symbol      string
	storeID     uuid.UUID
	schedulerID uuid.UUID
}

// Manager is the façade used by trading and research code. Reads never pay
// for a network fetch when a usably-fresh cached quote exists; cold misses
// fetch synchronously, once per symbol thanks to singleflight.
type Manager struct {
	store     *cache.Store
	scheduler *refresh.Scheduler
	fetcher   domain.Fetcher
	policies  *policy.Table
	logger    *zap.Logger

	sf singleflight.Group

	setsMu          sync.RWMutex
	activePositions map[string]struct{}
	watchlist       map[string]struct{}
	highVolume      map[string]struct{}
}

// NewManager wires the store, scheduler and fetcher together and starts
// the background refresh worker.
func NewManager(store *cache.Store, scheduler *refresh.Scheduler, fetcher domain.Fetcher, policies *policy.Table, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		store:           store,
		scheduler:       scheduler,
		fetcher:         fetcher,
		policies:        policies,
		logger:          logger,
		activePositions: make(map[string]struct{}),
		watchlist:       make(map[string]struct{}),
		highVolume:      make(map[string]struct{}),
	}
	m.scheduler.Start()
	return m
}

// ForTrading returns real-time data for active trading decisions
func (m *Manager) ForTrading(ctx context.Context, symbol string) (*domain.Quote, bool) {
	return m.get(ctx, symbol, domain.UseCaseActivePosition, domain.PriorityHigh)
}

// ForAnalysis returns cached data for research and analysis
func (m *Manager) ForAnalysis(ctx context.Context, symbol string) (*domain.Quote, bool) {
	return m.get(ctx, symbol, domain.UseCaseResearch, domain.PriorityLow)
}

// ForWatchlist returns near real-time data for a watched symbol
func (m *Manager) ForWatchlist(ctx context.Context, symbol string) (*domain.Quote, bool) {
	return m.get(ctx, symbol, domain.UseCaseWatchlist, domain.PriorityMedium)
}

// ForHistorical returns long-term cached data for historical analysis
func (m *Manager) ForHistorical(ctx context.Context, symbol string) (*domain.Quote, bool) {
	return m.get(ctx, symbol, domain.UseCaseHistorical, domain.PriorityLow)
}

// PortfolioData fetches quotes for a portfolio, classifying each symbol by
// its membership: active positions get real-time treatment, high-volume
// symbols frequent updates, everything else research caching. Symbols with
// no data map to nil.
func (m *Manager) PortfolioData(ctx context.Context, symbols []string) map[string]*domain.Quote {
	out := make(map[string]*domain.Quote, len(symbols))
	for _, symbol := range symbols {
		uc := policy.ForSymbol(m.isActivePosition(symbol), m.isHighVolume(symbol))
		quote, _ := m.get(ctx, symbol, uc, m.policies.Priority(uc))
		out[symbol] = quote
	}
	return out
}

// WatchlistData fetches quotes for watchlist symbols at medium priority
func (m *Manager) WatchlistData(ctx context.Context, symbols []string) map[string]*domain.Quote {
	out := make(map[string]*domain.Quote, len(symbols))
	for _, symbol := range symbols {
		quote, _ := m.ForWatchlist(ctx, symbol)
		out[symbol] = quote
	}
	return out
}

// HistoricalData fetches quotes for symbols with long-term caching
func (m *Manager) HistoricalData(ctx context.Context, symbols []string) map[string]*domain.Quote {
	out := make(map[string]*domain.Quote, len(symbols))
	for _, symbol := range symbols {
		quote, _ := m.ForHistorical(ctx, symbol)
		out[symbol] = quote
	}
	return out
}

// SetActivePosition marks or unmarks a symbol as an active position.
// Marking queues an immediate high-priority refresh.
func (m *Manager) SetActivePosition(symbol string, active bool) {
	m.setsMu.Lock()
	if active {
		m.activePositions[symbol] = struct{}{}
	} else {
		delete(m.activePositions, symbol)
	}
	m.setsMu.Unlock()

	if active {
		m.scheduler.Enqueue(symbol, domain.UseCaseActivePosition, domain.PriorityHigh)
	}
}

// SetWatchlist replaces the watchlist and batch-queues medium-priority
// refreshes for every symbol on it.
func (m *Manager) SetWatchlist(symbols []string) {
	m.setsMu.Lock()
	m.watchlist = make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		m.watchlist[symbol] = struct{}{}
	}
	m.setsMu.Unlock()

	m.scheduler.EnqueueBatch(symbols, domain.UseCaseWatchlist)
}

// SetHighVolume replaces the high-volume set and batch-queues refreshes
// for every symbol in it.
func (m *Manager) SetHighVolume(symbols []string) {
	m.setsMu.Lock()
	m.highVolume = make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		m.highVolume[symbol] = struct{}{}
	}
	m.setsMu.Unlock()

	m.scheduler.EnqueueBatch(symbols, domain.UseCaseHighVolume)
}

// Invalidate removes a symbol from the cache
func (m *Manager) Invalidate(symbol, reason string) bool {
	return m.store.Invalidate(symbol, reason)
}

// Subscribe registers a callback for both direct cache writes and
// background refreshes of the symbol.
func (m *Manager) Subscribe(symbol string, cb domain.Callback) Subscription {
	return Subscription{
		Symbol:      symbol,
		storeID:     m.store.Subscribe(symbol, cb),
		schedulerID: m.scheduler.Subscribe(symbol, cb),
	}
}

// Unsubscribe removes a subscription created by Subscribe
func (m *Manager) Unsubscribe(sub Subscription) {
	m.store.Unsubscribe(sub.Symbol, sub.storeID)
	m.scheduler.Unsubscribe(sub.Symbol, sub.schedulerID)
}

// Stats returns a combined snapshot across the store, the scheduler and
// the membership sets. Monitoring only, not for control decisions.
func (m *Manager) Stats() Stats {
	m.setsMu.RLock()
	active := len(m.activePositions)
	watch := len(m.watchlist)
	highVol := len(m.highVolume)
	m.setsMu.RUnlock()

	return Stats{
		Cache:           m.store.Stats(),
		Refresh:         m.scheduler.Stats(),
		ActivePositions: active,
		Watchlist:       watch,
		HighVolume:      highVol,
	}
}

// Shutdown stops the background refresh worker
func (m *Manager) Shutdown() {
	m.scheduler.Stop()
	m.logger.Info("cache manager shut down")
}

// get serves one symbol for one use-case: cache hit plus a best-effort
// keep-warm refresh, or a synchronous fetch-and-populate on a cold miss.
func (m *Manager) get(ctx context.Context, symbol string, useCase domain.UseCase, priority domain.Priority) (*domain.Quote, bool) {
	if quote, ok := m.store.Get(symbol, useCase); ok {
		m.scheduler.Enqueue(symbol, useCase, priority)
		return quote, true
	}
	return m.fetchAndCache(ctx, symbol, useCase)
}

// fetchAndCache is the cold-miss path. Concurrent misses for the same
// symbol collapse into one upstream fetch; the synchronous path never
// retries, that is the scheduler's job for background refreshes.
func (m *Manager) fetchAndCache(ctx context.Context, symbol string, useCase domain.UseCase) (*domain.Quote, bool) {
	v, err, _ := m.sf.Do(symbol, func() (interface{}, error) {
		quote, err := m.fetcher.Fetch(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if quote == nil {
			return nil, nil
		}
		m.store.Set(symbol, quote, useCase)
		return quote, nil
	})
	if err != nil {
		m.logger.Warn("failed to fetch quote",
			zap.String("symbol", symbol),
			zap.String("use_case", string(useCase)),
			zap.Error(err),
		)
		return nil, false
	}
	if v == nil {
		m.logger.Warn("no data returned for symbol",
			zap.String("symbol", symbol),
		)
		return nil, false
	}
	return v.(*domain.Quote).Clone(), true
}

func (m *Manager) isActivePosition(symbol string) bool {
	m.setsMu.RLock()
	defer m.setsMu.RUnlock()
	_, ok := m.activePositions[symbol]
	return ok
}

func (m *Manager) isHighVolume(symbol string) bool {
	m.setsMu.RLock()
	defer m.setsMu.RUnlock()
	_, ok := m.highVolume[symbol]
	return ok
}

// Stats is the combined monitoring snapshot exposed by the manager
type Stats struct {
	Cache           cache.Stats   `json:"cache"`
	Refresh         refresh.Stats `json:"background_refresh"`
	ActivePositions int           `json:"active_positions"`
	Watchlist       int           `json:"watchlist"`
	HighVolume      int           `json:"high_volume_stocks"`
}
