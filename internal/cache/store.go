// Package cache implements the bounded real-time quote store.
//
// The store is an LRU-ordered map with lazy TTL expiry: entries are only
// checked for age when they are read, there is no sweep goroutine. Expiry,
// eviction and explicit invalidation are all expected outcomes reported
// through return values and counters, never through errors.
package cache

import (
	"container/list"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linabrihoum/microcap-trader/internal/domain"
	"github.com/linabrihoum/microcap-trader/internal/policy"
)

const (
	defaultMaxSize               = 1000
	defaultPriceChangeThreshold  = 0.02
	defaultVolumeChangeThreshold = 0.50
)

// Entry is a cached quote together with its bookkeeping metadata
type Entry struct {
	Symbol             string
	Quote              *domain.Quote
	UseCase            domain.UseCase
	CreatedAt          time.Time
	AccessCount        int64
	LastAccessed       time.Time
	InvalidationReason string
}

// Age returns how long the entry has been in the cache
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	MaxSize               int
	PriceChangeThreshold  float64
	VolumeChangeThreshold float64
}

type subscription struct {
	id       uuid.UUID
	callback domain.Callback
}

// Store is a bounded quote cache with recency ordering and TTL expiry.
// One mutex serializes every operation, so Get/Set/Invalidate are each
// atomic with respect to each other.
type Store struct {
	mu sync.Mutex

	maxSize               int
	priceChangeThreshold  float64
	volumeChangeThreshold float64

	policies *policy.Table
	logger   *zap.Logger

	// order front = least recently touched, back = most recently touched
	order   *list.List
	entries map[string]*list.Element

	hits          int64
	misses        int64
	invalidations int64
	evictions     int64
	totalRequests int64

	subscribers map[string][]subscription

	recorder Recorder

	// now is replaceable in tests to simulate the passage of time
	now func() time.Time
}

// NewStore creates a quote store
func NewStore(opts Options, policies *policy.Table, logger *zap.Logger) *Store {
	if opts.MaxSize < 1 {
		opts.MaxSize = defaultMaxSize
	}
	if opts.PriceChangeThreshold <= 0 {
		opts.PriceChangeThreshold = defaultPriceChangeThreshold
	}
	if opts.VolumeChangeThreshold <= 0 {
		opts.VolumeChangeThreshold = defaultVolumeChangeThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		maxSize:               opts.MaxSize,
		priceChangeThreshold:  opts.PriceChangeThreshold,
		volumeChangeThreshold: opts.VolumeChangeThreshold,
		policies:              policies,
		logger:                logger,
		order:                 list.New(),
		entries:               make(map[string]*list.Element),
		subscribers:           make(map[string][]subscription),
		recorder:              NoopRecorder{},
		now:                   time.Now,
	}
}

// SetRecorder installs a metrics recorder. Must be called before the store
// is shared between goroutines.
func (s *Store) SetRecorder(r Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// Get returns a copy of the cached quote for the symbol, if a usably-fresh
// one exists. An entry older than its use-case TTL counts as a miss and is
// removed as a side effect, so a second Get is also a plain miss.
func (s *Store) Get(symbol string, useCase domain.UseCase) (*domain.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++

	elem, ok := s.entries[symbol]
	if !ok {
		s.misses++
		s.recorder.Miss()
		return nil, false
	}

	entry := elem.Value.(*Entry)
	now := s.now()

	// Expiry supersedes presence: the TTL check uses the use-case the entry
	// was stored under, not the one the caller asks with.
	if entry.Age(now) > s.policies.TTL(entry.UseCase) {
		s.removeLocked(symbol, "expired")
		s.misses++
		s.recorder.Miss()
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccessed = now
	s.order.MoveToBack(elem)

	s.hits++
	s.recorder.Hit()

	return entry.Quote.Clone(), true
}

// Set stores a quote under the given use-case, evicting the least recently
// touched entry first if the cache is at capacity. Subscribers of the
// symbol are notified synchronously, in registration order.
func (s *Store) Set(symbol string, quote *domain.Quote, useCase domain.UseCase) {
	s.mu.Lock()

	now := s.now()

	entry := &Entry{
		Symbol:       symbol,
		Quote:        quote,
		UseCase:      useCase,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if elem, ok := s.entries[symbol]; ok {
		elem.Value = entry
		s.order.MoveToBack(elem)
	} else {
		if s.order.Len() >= s.maxSize {
			s.evictOldestLocked()
		}
		s.entries[symbol] = s.order.PushBack(entry)
	}

	subs := append([]subscription(nil), s.subscribers[symbol]...)
	s.mu.Unlock()

	// Fired outside the lock so a callback reading the cache cannot
	// deadlock. Mutation of the entry itself stayed atomic above.
	s.notify(symbol, quote, subs)
}

// Invalidate removes the entry for a symbol, reporting whether anything
// was actually removed.
func (s *Store) Invalidate(symbol, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[symbol]; !ok {
		return false
	}
	s.removeLocked(symbol, reason)
	return true
}

// ShouldInvalidate compares a fresh quote against the cached one and
// reports whether it changed materially. The check is advisory: it never
// mutates the cache, the refresh path replaces the entry regardless.
func (s *Store) ShouldInvalidate(symbol string, newQuote *domain.Quote) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[symbol]
	if !ok || newQuote == nil {
		return false, ""
	}
	old := elem.Value.(*Entry).Quote

	if old.Price != 0 {
		priceChange := math.Abs(newQuote.Price-old.Price) / old.Price
		if priceChange > s.priceChangeThreshold {
			return true, fmt.Sprintf("price_change_%.2f%%", priceChange*100)
		}
	}

	if old.Volume > 0 {
		volumeChange := math.Abs(float64(newQuote.Volume-old.Volume)) / float64(old.Volume)
		if volumeChange > s.volumeChangeThreshold {
			return true, fmt.Sprintf("volume_change_%.2f%%", volumeChange*100)
		}
	}

	return false, ""
}

// Subscribe registers a callback for writes to a symbol and returns the
// handle needed to unsubscribe.
func (s *Store) Subscribe(symbol string, cb domain.Callback) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.subscribers[symbol] = append(s.subscribers[symbol], subscription{id: id, callback: cb})
	return id
}

// Unsubscribe removes a previously registered callback
func (s *Store) Unsubscribe(symbol string, id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[symbol]
	for i, sub := range subs {
		if sub.id == id {
			s.subscribers[symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subscribers[symbol]) == 0 {
		delete(s.subscribers, symbol)
	}
}

// Stats returns a snapshot of the store's counters
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.totalRequests
	if total < 1 {
		total = 1
	}

	return Stats{
		Hits:          s.hits,
		Misses:        s.misses,
		Invalidations: s.invalidations,
		Evictions:     s.evictions,
		TotalRequests: s.totalRequests,
		HitRate:       float64(s.hits) / float64(total),
		Size:          s.order.Len(),
		MaxSize:       s.maxSize,
	}
}

// Len returns the current number of cached entries
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Clear removes all entries and resets the counters
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order.Init()
	s.entries = make(map[string]*list.Element)
	s.hits = 0
	s.misses = 0
	s.invalidations = 0
	s.evictions = 0
	s.totalRequests = 0
}

// SetClock replaces the store's time source. Test hook only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// removeLocked drops an entry and counts it as an invalidation.
// Caller must hold s.mu.
func (s *Store) removeLocked(symbol, reason string) {
	elem, ok := s.entries[symbol]
	if !ok {
		return
	}
	entry := elem.Value.(*Entry)
	entry.InvalidationReason = reason
	s.order.Remove(elem)
	delete(s.entries, symbol)
	s.invalidations++
	s.recorder.Invalidation()

	s.logger.Debug("cache entry invalidated",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
	)
}

// evictOldestLocked removes the least recently touched entry.
// Caller must hold s.mu.
func (s *Store) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*Entry)
	s.order.Remove(front)
	delete(s.entries, entry.Symbol)
	s.evictions++
	s.recorder.Eviction()

	s.logger.Debug("cache entry evicted",
		zap.String("symbol", entry.Symbol),
	)
}

// notify fires subscriber callbacks for a write. A panicking callback is
// recovered and logged so it never aborts the remaining notifications.
func (s *Store) notify(symbol string, quote *domain.Quote, subs []subscription) {
	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("subscriber notification failed",
						zap.String("symbol", symbol),
						zap.Any("error", r),
					)
				}
			}()
			sub.callback(symbol, quote.Clone())
		}()
	}
}

// Stats is a read-only snapshot of the store's counters
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Invalidations int64   `json:"invalidations"`
	Evictions     int64   `json:"evictions"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
	Size          int     `json:"cache_size"`
	MaxSize       int     `json:"max_size"`
}
