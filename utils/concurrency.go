package utils

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool runs jobs on a bounded number of goroutines. A panicking job is
// recovered and reported through the pool's panic handler so that one item
// can never take down a batch.
type WorkerPool struct {
	semaphore chan struct{}
	wg        sync.WaitGroup
	onPanic   func(recovered any)
}

// NewWorkerPool creates a WorkerPool with the given concurrency.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		semaphore: make(chan struct{}, maxWorkers),
		onPanic:   func(any) {},
	}
}

// OnPanic installs the handler invoked with the value of a recovered panic.
func (wp *WorkerPool) OnPanic(fn func(recovered any)) {
	wp.onPanic = fn
}

// Submit enqueues a job for execution in the pool. It blocks while the pool
// is saturated and returns ctx.Err() if the context ends first, in which case
// the job is not run.
func (wp *WorkerPool) Submit(ctx context.Context, job func(ctx context.Context)) error {
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()
		defer func() {
			if r := recover(); r != nil {
				wp.onPanic(r)
			}
		}()

		job(ctx)
	}()
	return nil
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// HostLimiter enforces a minimum delay between consecutive requests to the
// same host. Limiters are created lazily per host.
type HostLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a HostLimiter allowing one request per interval per
// host. A zero interval disables limiting.
func NewHostLimiter(interval time.Duration) *HostLimiter {
	return &HostLimiter{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to rawURL's host is allowed.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if h == nil || h.interval <= 0 {
		return ctx.Err()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("limiter: parse url %q: %w", rawURL, err)
	}

	h.mu.Lock()
	lim, ok := h.limiters[u.Hostname()]
	if !ok {
		lim = rate.NewLimiter(rate.Every(h.interval), 1)
		h.limiters[u.Hostname()] = lim
	}
	h.mu.Unlock()

	return lim.Wait(ctx)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// URLSet is a thread-safe set for tracking visited URLs.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Contains returns true if the URL has already been visited.
func (s *URLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[url]
	return exists
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
