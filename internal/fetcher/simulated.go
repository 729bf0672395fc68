// Package fetcher provides Fetcher implementations for upstream quote
// sources.
package fetcher

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/linabrihoum/microcap-trader/internal/domain"
)

// Simulated generates plausible microcap quotes locally. It stands in for
// a real market-data API so the system runs without credentials.
type Simulated struct {
	logger  *zap.Logger
	latency time.Duration
}

// NewSimulated creates a simulated fetcher. A non-zero latency is slept on
// every call to mimic a network round trip.
func NewSimulated(latency time.Duration, logger *zap.Logger) *Simulated {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{logger: logger, latency: latency}
}

// Fetch returns a randomized quote in the microcap range
func (f *Simulated) Fetch(ctx context.Context, symbol string) (*domain.Quote, error) {
	if f.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.latency):
		}
	}

	volume := int64(rand.Intn(1951)+50) * 1000

	quote := &domain.Quote{
		Symbol:      symbol,
		Price:       round2(1.0 + rand.Float64()*24.0),
		MarketCap:   round2(0.05 + rand.Float64()*1.75),
		Volume:      volume,
		AvgVolume:   volume,
		PctChange1D: round2(-15.0 + rand.Float64()*30.0),
		PctChange5D: round2(-25.0 + rand.Float64()*50.0),
		DataSource:  domain.DataSourceSimulated,
		FetchedAt:   time.Now(),
	}

	f.logger.Debug("simulated quote generated",
		zap.String("symbol", symbol),
		zap.Float64("price", quote.Price),
	)
	return quote, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var _ domain.Fetcher = (*Simulated)(nil)
