// Package refresh implements the background refresh scheduler: a bounded
// priority queue drained by a single worker that re-fetches cached symbols
// and writes the results back into the store.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linabrihoum/microcap-trader/internal/cache"
	"github.com/linabrihoum/microcap-trader/internal/domain"
	"github.com/linabrihoum/microcap-trader/internal/policy"
)

const (
	defaultMaxQueueSize = 500
	defaultMaxRetries   = 3
	defaultRetryDelay   = 5 * time.Second
	defaultPollInterval = time.Second

	stopTimeout = 5 * time.Second
)

// Options configures a Scheduler. Zero values fall back to defaults,
// except MaxRetries where zero is honored and disables retries.
type Options struct {
	MaxQueueSize int
	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration
}

type subscription struct {
	id       uuid.UUID
	callback domain.Callback
}

// Scheduler owns the refresh queue and the single background worker.
// Refreshes are never parallelized: the worker handles one task at a time,
// but retry delays park the task instead of blocking the worker, so other
// queued work keeps draining during backoff.
type Scheduler struct {
	store    *cache.Store
	fetcher  domain.Fetcher
	policies *policy.Table
	queue    *Queue
	logger   *zap.Logger

	maxRetries   int
	retryDelay   time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	statsMu          sync.Mutex
	tasksProcessed   int64
	tasksFailed      int64
	tasksRetried     int64
	totalRefreshTime time.Duration

	subMu       sync.Mutex
	subscribers map[string][]subscription

	recorder Recorder
}

// NewScheduler creates a scheduler writing into the given store
func NewScheduler(store *cache.Store, fetcher domain.Fetcher, policies *policy.Table, opts Options, logger *zap.Logger) *Scheduler {
	if opts.MaxQueueSize < 1 {
		opts.MaxQueueSize = defaultMaxQueueSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		store:        store,
		fetcher:      fetcher,
		policies:     policies,
		queue:        NewQueue(opts.MaxQueueSize),
		logger:       logger,
		maxRetries:   opts.MaxRetries,
		retryDelay:   opts.RetryDelay,
		pollInterval: opts.PollInterval,
		subscribers:  make(map[string][]subscription),
		recorder:     NoopRecorder{},
	}
}

// SetRecorder installs a metrics recorder. Must be called before Start.
func (s *Scheduler) SetRecorder(r Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// Start launches the background worker. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.workerLoop(ctx)

	s.logger.Info("background refresh scheduler started")
}

// Stop signals the worker to exit and waits, bounded, for it to finish.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn("timed out waiting for refresh worker to stop")
	}

	s.logger.Info("background refresh scheduler stopped")
}

// Running reports whether the worker is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Enqueue queues a symbol for background refresh. An empty priority falls
// back to the use-case's policy priority. It reports false when the queue
// is full; the caller proceeds without a scheduled refresh.
func (s *Scheduler) Enqueue(symbol string, useCase domain.UseCase, priority domain.Priority) bool {
	if priority == "" {
		priority = s.policies.Priority(useCase)
	}

	task := &Task{
		Symbol:    symbol,
		UseCase:   useCase,
		Priority:  priority,
		CreatedAt: time.Now(),
	}

	if !s.queue.Push(task) {
		s.logger.Warn("refresh queue full, skipping symbol",
			zap.String("symbol", symbol),
			zap.String("use_case", string(useCase)),
		)
		return false
	}

	s.recorder.QueueDepth(s.queue.Len())
	return true
}

// EnqueueBatch queues each symbol independently and returns how many were
// accepted.
func (s *Scheduler) EnqueueBatch(symbols []string, useCase domain.UseCase) int {
	queued := 0
	for _, symbol := range symbols {
		if s.Enqueue(symbol, useCase, "") {
			queued++
		}
	}

	s.logger.Debug("batch refresh queued",
		zap.Int("queued", queued),
		zap.Int("requested", len(symbols)),
		zap.String("use_case", string(useCase)),
	)
	return queued
}

// Subscribe registers a callback invoked after every successful refresh of
// the symbol and returns the handle needed to unsubscribe.
func (s *Scheduler) Subscribe(symbol string, cb domain.Callback) uuid.UUID {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := uuid.New()
	s.subscribers[symbol] = append(s.subscribers[symbol], subscription{id: id, callback: cb})
	return id
}

// Unsubscribe removes a previously registered callback
func (s *Scheduler) Unsubscribe(symbol string, id uuid.UUID) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

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

// Stats returns a snapshot of the scheduler's counters
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	var avg time.Duration
	if s.tasksProcessed > 0 {
		avg = s.totalRefreshTime / time.Duration(s.tasksProcessed)
	}

	return Stats{
		QueueSize:          s.queue.Len(),
		TasksProcessed:     s.tasksProcessed,
		TasksFailed:        s.tasksFailed,
		TasksRetried:       s.tasksRetried,
		AverageRefreshTime: avg,
		WorkerRunning:      s.Running(),
	}
}

// workerLoop drains the queue until the context is canceled. The bounded
// wait inside Pop is the loop's only idle point.
func (s *Scheduler) workerLoop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := s.queue.Pop(ctx, s.pollInterval)
		if !ok {
			continue
		}
		s.processTask(ctx, task)
		s.recorder.QueueDepth(s.queue.Len())
	}
}

// processTask fetches a fresh quote for the task's symbol and writes it
// into the store. An error or a nil quote both count as a failure.
func (s *Scheduler) processTask(ctx context.Context, task *Task) {
	start := time.Now()
	task.LastAttempt = start

	quote, err := s.fetcher.Fetch(ctx, task.Symbol)
	if err != nil || quote == nil {
		s.handleTaskError(task, err)
		return
	}

	// Advisory only: the entry is replaced on every successful refresh,
	// the check just surfaces material moves in the log.
	if changed, reason := s.store.ShouldInvalidate(task.Symbol, quote); changed {
		s.logger.Info("quote changed materially",
			zap.String("symbol", task.Symbol),
			zap.String("reason", reason),
		)
	}

	s.store.Set(task.Symbol, quote, task.UseCase)
	s.notifySubscribers(task.Symbol, quote)

	elapsed := time.Since(start)
	s.statsMu.Lock()
	s.tasksProcessed++
	s.totalRefreshTime += elapsed
	s.statsMu.Unlock()
	s.recorder.TaskProcessed(elapsed)

	s.logger.Debug("symbol refreshed",
		zap.String("symbol", task.Symbol),
		zap.Duration("duration", elapsed),
	)
}

// handleTaskError retries a failed task up to maxRetries, parking it for
// retryDelay so the worker stays free, then drops it for good.
func (s *Scheduler) handleTaskError(task *Task, err error) {
	task.ErrorCount++

	if task.RetryCount < s.maxRetries {
		task.RetryCount++
		task.NotBefore = time.Now().Add(s.retryDelay)

		s.statsMu.Lock()
		s.tasksRetried++
		s.statsMu.Unlock()
		s.recorder.TaskRetried()

		s.logger.Warn("refresh failed, retrying",
			zap.String("symbol", task.Symbol),
			zap.Int("retry", task.RetryCount),
			zap.Int("max_retries", s.maxRetries),
			zap.Error(err),
		)

		if s.queue.Push(task) {
			return
		}
		// Queue filled up while the task was in flight; nothing left to
		// do for it but record the loss.
		s.logger.Warn("refresh queue full, dropping retry",
			zap.String("symbol", task.Symbol),
		)
	}

	s.statsMu.Lock()
	s.tasksFailed++
	s.statsMu.Unlock()
	s.recorder.TaskFailed()

	s.logger.Error("refresh permanently failed",
		zap.String("symbol", task.Symbol),
		zap.Int("attempts", task.ErrorCount),
		zap.Error(err),
	)
}

// notifySubscribers fires refresh callbacks for a symbol. A panicking
// callback is recovered and logged, the rest still run.
func (s *Scheduler) notifySubscribers(symbol string, quote *domain.Quote) {
	s.subMu.Lock()
	subs := append([]subscription(nil), s.subscribers[symbol]...)
	s.subMu.Unlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("refresh subscriber notification failed",
						zap.String("symbol", symbol),
						zap.Any("error", r),
					)
				}
			}()
			sub.callback(symbol, quote.Clone())
		}()
	}
}

// Stats is a read-only snapshot of the scheduler's counters
type Stats struct {
	QueueSize          int           `json:"queue_size"`
	TasksProcessed     int64         `json:"tasks_processed"`
	TasksFailed        int64         `json:"tasks_failed"`
	TasksRetried       int64         `json:"tasks_retried"`
	AverageRefreshTime time.Duration `json:"average_refresh_time"`
	WorkerRunning      bool          `json:"worker_running"`
}

// Recorder receives scheduler lifecycle events for metrics export
type Recorder interface {
	TaskProcessed(d time.Duration)
	TaskRetried()
	TaskFailed()
	QueueDepth(n int)
}

// NoopRecorder ignores all events
type NoopRecorder struct{}

func (NoopRecorder) TaskProcessed(time.Duration) {}
func (NoopRecorder) TaskRetried()                {}
func (NoopRecorder) TaskFailed()                 {}
func (NoopRecorder) QueueDepth(int)              {}
