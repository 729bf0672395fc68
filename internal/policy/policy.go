// Package policy holds the static table mapping use-cases to TTL and
// refresh-priority settings. The table is built once at startup and never
// mutated, so lookups need no locking.
package policy

import (
	"fmt"
	"time"

	"github.com/linabrihoum/microcap-trader/internal/domain"
)

// Entry describes the caching behavior for one use-case
type Entry struct {
	TTL         time.Duration
	Priority    domain.Priority
	RealTime    bool
	Description string
}

// Table maps use-cases to their policy entries
type Table struct {
	entries map[domain.UseCase]Entry
}

// Default returns the built-in policy table covering all known use-cases.
func Default() *Table {
	return &Table{
		entries: map[domain.UseCase]Entry{
			domain.UseCaseActivePosition: {
				TTL:         30 * time.Second,
				Priority:    domain.PriorityHigh,
				RealTime:    true,
				Description: "Active trading positions - real-time data",
			},
			domain.UseCaseWatchlist: {
				TTL:         2 * time.Minute,
				Priority:    domain.PriorityMedium,
				RealTime:    true,
				Description: "Watchlist stocks - near real-time data",
			},
			domain.UseCaseHighVolume: {
				TTL:         time.Minute,
				Priority:    domain.PriorityHigh,
				RealTime:    true,
				Description: "High volume stocks - frequent updates",
			},
			domain.UseCaseResearch: {
				TTL:         5 * time.Minute,
				Priority:    domain.PriorityLow,
				RealTime:    false,
				Description: "Research and analysis - cached data",
			},
			domain.UseCaseHistorical: {
				TTL:         15 * time.Minute,
				Priority:    domain.PriorityLow,
				RealTime:    false,
				Description: "Historical analysis - long-term cached data",
			},
		},
	}
}

// New builds a table from explicit entries. A table that is missing a
// use-case or carries a non-positive TTL is a programming error, so this
// is the one place that fails hard.
func New(entries map[domain.UseCase]Entry) (*Table, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("policy table must not be empty")
	}
	for uc, e := range entries {
		if e.TTL <= 0 {
			return nil, fmt.Errorf("use case %q: ttl must be positive, got %v", uc, e.TTL)
		}
		if e.Priority.Weight() == 0 {
			return nil, fmt.Errorf("use case %q: unknown priority %q", uc, e.Priority)
		}
	}
	return &Table{entries: entries}, nil
}

// Lookup returns the policy entry for a use-case. Unknown use-cases fall
// back to the research policy, the most conservative of the real entries.
func (t *Table) Lookup(uc domain.UseCase) Entry {
	if e, ok := t.entries[uc]; ok {
		return e
	}
	return t.entries[domain.UseCaseResearch]
}

// TTL returns the time-to-live for a use-case
func (t *Table) TTL(uc domain.UseCase) time.Duration {
	return t.Lookup(uc).TTL
}

// Priority returns the refresh priority for a use-case
func (t *Table) Priority(uc domain.UseCase) domain.Priority {
	return t.Lookup(uc).Priority
}

// RealTime reports whether a use-case requires real-time data
func (t *Table) RealTime(uc domain.UseCase) bool {
	return t.Lookup(uc).RealTime
}

// ForSymbol picks the use-case for a symbol based on membership context,
// mirroring how callers classify symbols: active position wins over high
// volume, everything else is research.
func ForSymbol(isActivePosition, isHighVolume bool) domain.UseCase {
	switch {
	case isActivePosition:
		return domain.UseCaseActivePosition
	case isHighVolume:
		return domain.UseCaseHighVolume
	default:
		return domain.UseCaseResearch
	}
}
