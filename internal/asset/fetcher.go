// Package asset fetches large assets (scan meshes) in the background and
// caches them on disk.
//
// Fetches are never cancelled: each one either succeeds or exhausts its
// retry budget. The owner goroutine only learns the outcome through the done
// callback, which callers route back through engine.Post.
package asset

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults match the scan download policy of the mapping tools.
const (
	DefaultRetries     = 60
	DefaultDelay       = 10 * time.Second
	DefaultConcurrency = 4
)

// Fetcher runs keyed background fetches with a fixed retry budget.
//
// At most one fetch per key is in flight; Start returns false for a key
// already being fetched.
type Fetcher struct {
	retries int
	delay   time.Duration
	log     *slog.Logger
	sleep   func(time.Duration)

	g errgroup.Group

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithConcurrency bounds how many fetches run at once. Default: 4.
func WithConcurrency(n int) FetcherOption {
	return func(f *Fetcher) {
		f.g.SetLimit(n)
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.log = l
	}
}

// NewFetcher creates a fetcher that tries each fetch up to retries times,
// sleeping delay between attempts.
func NewFetcher(retries int, delay time.Duration, opts ...FetcherOption) *Fetcher {
	if retries < 1 {
		retries = 1
	}
	f := &Fetcher{
		retries:  retries,
		delay:    delay,
		log:      slog.Default(),
		sleep:    time.Sleep,
		inflight: make(map[string]struct{}),
	}
	f.g.SetLimit(DefaultConcurrency)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start fetches key in the background by calling try until it returns nil
// or the retry budget is spent, then calls done with the last error. key
// stays in flight until done returns.
//
// Returns false without starting anything if key is already in flight, the
// concurrency limit is reached, or the fetcher is closed.
func (f *Fetcher) Start(key string, try func() error, done func(error)) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	if _, busy := f.inflight[key]; busy {
		f.mu.Unlock()
		return false
	}
	f.inflight[key] = struct{}{}
	f.mu.Unlock()

	started := f.g.TryGo(func() error {
		err := f.run(key, try)
		// done records the result before key can be started again
		if done != nil {
			done(err)
		}
		f.finish(key)
		return nil
	})
	if !started {
		f.finish(key)
		f.log.Debug("fetch deferred, concurrency limit reached", "key", key)
	}
	return started
}

func (f *Fetcher) run(key string, try func() error) error {
	var err error
	for attempt := 1; attempt <= f.retries; attempt++ {
		if err = try(); err == nil {
			f.log.Info("asset fetched", "key", key, "attempt", attempt)
			return nil
		}
		f.log.Debug("asset fetch failed", "key", key, "attempt", attempt, "error", err)
		if attempt < f.retries {
			f.sleep(f.delay)
		}
	}
	f.log.Warn("asset fetch gave up", "key", key, "attempts", f.retries, "error", err)
	return fmt.Errorf("fetch %s: %d attempts: %w", key, f.retries, err)
}

func (f *Fetcher) finish(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inflight, key)
}

// InFlight reports whether key is being fetched.
func (f *Fetcher) InFlight(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.inflight[key]
	return ok
}

// Wait blocks until every started fetch has finished.
func (f *Fetcher) Wait() {
	_ = f.g.Wait()
}

// Close rejects further Start calls. Fetches already running continue.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}
