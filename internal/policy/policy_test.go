package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linabrihoum/microcap-trader/internal/domain"
)

func TestDefaultTable(t *testing.T) {
	table := Default()

	tests := []struct {
		useCase  domain.UseCase
		ttl      time.Duration
		priority domain.Priority
		realTime bool
	}{
		{domain.UseCaseActivePosition, 30 * time.Second, domain.PriorityHigh, true},
		{domain.UseCaseWatchlist, 2 * time.Minute, domain.PriorityMedium, true},
		{domain.UseCaseHighVolume, time.Minute, domain.PriorityHigh, true},
		{domain.UseCaseResearch, 5 * time.Minute, domain.PriorityLow, false},
		{domain.UseCaseHistorical, 15 * time.Minute, domain.PriorityLow, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.useCase), func(t *testing.T) {
			assert.Equal(t, tt.ttl, table.TTL(tt.useCase))
			assert.Equal(t, tt.priority, table.Priority(tt.useCase))
			assert.Equal(t, tt.realTime, table.RealTime(tt.useCase))
		})
	}
}

func TestLookupUnknownFallsBackToResearch(t *testing.T) {
	table := Default()

	entry := table.Lookup(domain.UseCase("made_up"))
	assert.Equal(t, 5*time.Minute, entry.TTL)
	assert.Equal(t, domain.PriorityLow, entry.Priority)
}

func TestNewRejectsMalformedTables(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(map[domain.UseCase]Entry{
		domain.UseCaseResearch: {TTL: 0, Priority: domain.PriorityLow},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ttl must be positive")

	_, err = New(map[domain.UseCase]Entry{
		domain.UseCaseResearch: {TTL: time.Minute, Priority: domain.Priority("urgent")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown priority")
}

func TestNewAcceptsValidTable(t *testing.T) {
	table, err := New(map[domain.UseCase]Entry{
		domain.UseCaseResearch: {TTL: time.Minute, Priority: domain.PriorityLow},
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, table.TTL(domain.UseCaseResearch))
}

func TestForSymbol(t *testing.T) {
	assert.Equal(t, domain.UseCaseActivePosition, ForSymbol(true, true), "active position wins")
	assert.Equal(t, domain.UseCaseHighVolume, ForSymbol(false, true))
	assert.Equal(t, domain.UseCaseResearch, ForSymbol(false, false))
}

func TestPriorityWeights(t *testing.T) {
	assert.Equal(t, 3, domain.PriorityHigh.Weight())
	assert.Equal(t, 2, domain.PriorityMedium.Weight())
	assert.Equal(t, 1, domain.PriorityLow.Weight())
	assert.Equal(t, 0, domain.Priority("bogus").Weight())
}
