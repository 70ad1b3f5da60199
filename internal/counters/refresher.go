package counters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/domain"
)

// Fetcher loads the aggregate counters from the backend.
type Fetcher interface {
	FetchTicketCounts(ctx context.Context) (domain.Counters, error)
}

// Refresher owns the process-wide counters and refreshes them through a Limiter.
type Refresher struct {
	fetcher  Fetcher
	limiter  *Limiter
	timeout  time.Duration
	logger   *zap.Logger
	onChange func(domain.Counters)

	mu       sync.RWMutex
	counters domain.Counters
}

// Options configures a Refresher.
type Options struct {
	Delay   time.Duration
	Window  time.Duration
	Timeout time.Duration
	// OnChange is called, without locks held, each time the counters are replaced.
	OnChange func(domain.Counters)
	Logger   *zap.Logger
}

// NewRefresher creates a Refresher fetching through f.
func NewRefresher(f Fetcher, opts Options) *Refresher {
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		fetcher:  f,
		limiter:  NewLimiter(opts.Delay, opts.Window),
		timeout:  opts.Timeout,
		logger:   logger,
		onChange: opts.OnChange,
	}
}

// Trigger requests a debounced refresh. Requests made while a fetch is running
// or while the last result is still fresh are dropped.
func (r *Refresher) Trigger() {
	if !r.limiter.Schedule(r.fetch) {
		r.logger.Debug("counters refresh dropped")
	}
}

// Refresh fetches immediately regardless of freshness, unless a fetch is
// already running.
func (r *Refresher) Refresh(ctx context.Context) error {
	_, err := r.limiter.Run(func() error { return r.fetchCtx(ctx) })
	return err
}

// Set replaces the counters with a server-pushed value.
func (r *Refresher) Set(c domain.Counters) {
	r.mu.Lock()
	r.counters = c
	r.mu.Unlock()
	if r.onChange != nil {
		r.onChange(c)
	}
}

// Get returns the current counters.
func (r *Refresher) Get() domain.Counters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters
}

// Close cancels any scheduled refresh.
func (r *Refresher) Close() {
	r.limiter.Stop()
}

func (r *Refresher) fetch() error {
	return r.fetchCtx(context.Background())
}

func (r *Refresher) fetchCtx(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	c, err := r.fetcher.FetchTicketCounts(ctx)
	if err != nil {
		r.logger.Error("fetch ticket counts", zap.Error(err))
		return fmt.Errorf("fetch ticket counts: %w", err)
	}
	r.Set(c)
	return nil
}
