package fetcher

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wallplay/wallplay/internal/httpclient"
)

// Errors returned by the fetcher.
var (
	ErrClosed   = errors.New("fetcher closed")
	ErrCanceled = errors.New("fetch canceled")
)

// Priority orders queued chunk requests. Higher values are served first.
type Priority int

const (
	// PriorityBackground is lookahead buffering for hidden content.
	PriorityBackground Priority = iota
	// PriorityPreload is buffering for the next item's preload.
	PriorityPreload
	// PriorityActive is buffering for the currently shown asset.
	PriorityActive
	// PriorityInit is initialization metadata that blocks a session start.
	PriorityInit
)

// RangeClient fetches one byte range. *httpclient.Client satisfies it.
type RangeClient interface {
	GetRange(ctx context.Context, url string, start, end int64) (*httpclient.RangeResult, error)
}

// Result is the outcome of one chunk fetch.
type Result struct {
	// Data is the fetched byte range.
	Data []byte

	// TotalSize is the asset's total size from the Content-Range header,
	// or -1 when unknown.
	TotalSize int64
}

// Config holds fetcher configuration.
type Config struct {
	// MaxConcurrent caps simultaneous in-flight requests. Kept small so
	// parallel buffering sessions cannot exhaust the connection pool.
	MaxConcurrent int

	// Timeout bounds each individual fetch attempt; a timed-out attempt
	// counts as one retry.
	Timeout time.Duration

	// Retry is the retry/backoff policy applied per chunk.
	Retry RetryPolicy

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 1,
		Timeout:       8 * time.Second,
		Retry:         DefaultRetryPolicy(),
		Logger:        slog.Default(),
	}
}

// chunkKey identifies a request for deduplication.
type chunkKey struct {
	url   string
	start int64
	end   int64
}

// task is one deduplicated chunk request in the queue or in flight.
type task struct {
	key      chunkKey
	priority Priority
	seq      uint64

	// index is the heap position, or -1 once dequeued.
	index int

	// cancel aborts the in-flight attempt; nil while queued.
	cancel context.CancelFunc
	// canceled marks the task as canceled before completion.
	canceled bool

	done   chan struct{}
	result *Result
	err    error
}

// Fetcher is a process-wide byte-range fetch service with a priority queue,
// request deduplication, bounded concurrency, and per-URL cancellation.
// External callers never bypass it to fetch chunks directly.
type Fetcher struct {
	mu       sync.Mutex
	queue    taskHeap
	tasks    map[chunkKey]*task
	inflight int
	seq      uint64
	closed   bool

	client RangeClient
	config Config
	logger *slog.Logger
}

// New creates a fetcher over the given range client.
func New(client RangeClient, cfg Config) *Fetcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		tasks:  make(map[chunkKey]*task),
		client: client,
		config: cfg,
		logger: cfg.Logger,
	}
}

// Request fetches the inclusive byte range [start, end] of url at the given
// priority and blocks until the chunk arrives, the retries are exhausted,
// or ctx is done.
//
// An identical (url, range) already queued or in flight is deduplicated:
// the caller joins the existing request, and a higher priority upgrades the
// queued request's position instead of issuing a duplicate network call.
func (f *Fetcher) Request(ctx context.Context, url string, start, end int64, priority Priority) (*Result, error) {
	key := chunkKey{url: url, start: start, end: end}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}

	t, ok := f.tasks[key]
	if ok {
		// Joining an existing request; upgrade its queue position if the
		// newcomer is more urgent and the task has not started yet.
		if priority > t.priority && t.index >= 0 {
			t.priority = priority
			heap.Fix(&f.queue, t.index)
		}
	} else {
		f.seq++
		t = &task{
			key:      key,
			priority: priority,
			seq:      f.seq,
			index:    -1,
			done:     make(chan struct{}),
		}
		f.tasks[key] = t
		heap.Push(&f.queue, t)
		f.dispatchLocked()
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		// The task keeps running for any other waiters.
		return nil, ctx.Err()
	case <-t.done:
		return t.result, t.err
	}
}

// dispatchLocked starts queued tasks while concurrency slots are free.
// Callers must hold f.mu.
func (f *Fetcher) dispatchLocked() {
	for f.inflight < f.config.MaxConcurrent && f.queue.Len() > 0 {
		t := heap.Pop(&f.queue).(*task)
		if t.canceled {
			continue
		}
		f.inflight++

		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel

		go f.run(ctx, t)
	}
}

// run executes one task with retries, then frees its concurrency slot.
func (f *Fetcher) run(ctx context.Context, t *task) {
	result, err := f.fetchWithRetries(ctx, t)

	f.mu.Lock()
	// Cancellation already removed the task from the map, and the key may
	// since have been re-registered by a fresh request. Only evict our own
	// entry.
	if f.tasks[t.key] == t {
		delete(f.tasks, t.key)
	}
	f.inflight--
	if !t.canceled {
		t.result = result
		t.err = err
		close(t.done)
	}
	f.dispatchLocked()
	f.mu.Unlock()
}

// fetchWithRetries runs the configured retry loop for one chunk.
func (f *Fetcher) fetchWithRetries(ctx context.Context, t *task) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= f.config.Retry.Attempts(); attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ErrCanceled
			case <-time.After(f.config.Retry.Delay(attempt - 1)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		res, err := f.client.GetRange(attemptCtx, t.key.url, t.key.start, t.key.end)
		cancel()

		if err == nil {
			return &Result{Data: res.Data, TotalSize: res.TotalSize}, nil
		}
		if ctx.Err() != nil {
			return nil, ErrCanceled
		}

		lastErr = err
		f.logger.Warn("chunk fetch failed",
			slog.String("url", t.key.url),
			slog.Int64("start", t.key.start),
			slog.Int64("end", t.key.end),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("chunk %s [%d-%d]: %w", t.key.url, t.key.start, t.key.end, lastErr)
}

// CancelURL immediately drops all queued and in-flight requests for url.
// Requests for other URLs are unaffected even though they share the queue.
func (f *Fetcher) CancelURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelLocked(func(k chunkKey) bool { return k.url == url })
}

// CancelAll drops every queued and in-flight request.
func (f *Fetcher) CancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelLocked(func(chunkKey) bool { return true })
}

// cancelLocked cancels all tasks matching the scope predicate.
// Callers must hold f.mu.
func (f *Fetcher) cancelLocked(match func(chunkKey) bool) {
	for key, t := range f.tasks {
		if !match(key) || t.canceled {
			continue
		}
		t.canceled = true
		t.err = ErrCanceled
		close(t.done)

		// Drop the task from the bookkeeping now so a new request for the
		// same chunk starts clean instead of joining the dead task. A
		// queued task's heap entry is skipped at dispatch time via the
		// canceled flag; an in-flight task's goroutine drains on its own.
		delete(f.tasks, key)

		if t.cancel != nil {
			t.cancel()
		}
	}
}

// Close cancels all outstanding requests and rejects new ones.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.cancelLocked(func(chunkKey) bool { return true })
}

// Pending returns the number of queued plus in-flight requests.
func (f *Fetcher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// Inflight returns the number of in-flight requests.
func (f *Fetcher) Inflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight
}

// taskHeap orders tasks by priority, FIFO within equal priority.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
