package domain

import "time"

// DataSource identifies where a quote came from
type DataSource string

const (
	DataSourceSimulated DataSource = "simulated"
	DataSourcePolygon   DataSource = "polygon"
	DataSourceFinnhub   DataSource = "finnhub"
)

// Quote represents a snapshot of market data for a single symbol.
// Upstream providers disagree on which fields they populate, so anything
// beyond the common set goes into Extra.
type Quote struct {
	Symbol      string             `json:"symbol"`
	Price       float64            `json:"price"`
	MarketCap   float64            `json:"market_cap"` // in billions
	Volume      int64              `json:"volume"`
	AvgVolume   int64              `json:"avg_volume"`
	PctChange1D float64            `json:"pct_change_1d"`
	PctChange5D float64            `json:"pct_change_5d"`
	DataSource  DataSource         `json:"data_source"`
	FetchedAt   time.Time          `json:"fetched_at"`
	Extra       map[string]float64 `json:"extra,omitempty"`
}

// Clone returns a deep copy of the quote. The cache hands out clones so
// callers can never mutate a stored entry.
func (q *Quote) Clone() *Quote {
	if q == nil {
		return nil
	}
	c := *q
	if q.Extra != nil {
		c.Extra = make(map[string]float64, len(q.Extra))
		for k, v := range q.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// UseCase is the caller-declared intent behind a quote request.
// It selects the TTL and refresh priority applied to the symbol.
type UseCase string

const (
	UseCaseActivePosition UseCase = "active_position"
	UseCaseWatchlist      UseCase = "watchlist"
	UseCaseHighVolume     UseCase = "high_volume"
	UseCaseResearch       UseCase = "research"
	UseCaseHistorical     UseCase = "historical"
)

// Priority is the urgency class controlling refresh queue ordering
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight returns the numeric ordering weight for a priority.
// Unknown priorities weigh zero and sort behind everything else.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}
