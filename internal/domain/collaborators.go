package domain

import "context"

// Fetcher retrieves a fresh quote for a symbol from an upstream source.
// Both the synchronous cold-miss path and the background refresh worker go
// through the same implementation. A nil quote or an error both mean
// "no data" to the caller.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (*Quote, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface
type FetcherFunc func(ctx context.Context, symbol string) (*Quote, error)

func (f FetcherFunc) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	return f(ctx, symbol)
}

// Callback is invoked after a cache write or a successful background refresh
// of the subscribed symbol. Callbacks run synchronously on the writer's
// goroutine; a panicking callback is recovered and logged by the firing
// component and never aborts the write.
type Callback func(symbol string, quote *Quote)
