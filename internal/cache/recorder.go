package cache

// Recorder receives cache lifecycle events. The store calls it under its
// lock, so implementations must be cheap and must not call back into the
// store.
type Recorder interface {
	Hit()
	Miss()
	Eviction()
	Invalidation()
}

// NoopRecorder ignores all events. Installed by default so the store never
// has to nil-check its recorder.
type NoopRecorder struct{}

func (NoopRecorder) Hit()          {}
func (NoopRecorder) Miss()         {}
func (NoopRecorder) Eviction()     {}
func (NoopRecorder) Invalidation() {}
