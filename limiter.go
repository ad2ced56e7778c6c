// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// NetworkConcurrency is the name of the limiter gating transport calls.
const NetworkConcurrency = "networkConcurrency"

// Limiter admits at most a fixed number of concurrent operations.
//
// Waiters are served in FIFO order, so a burst of requests for one key
// cannot starve requests queued earlier for another.
type Limiter struct {
	name    string
	limit   int64
	sem     *semaphore.Weighted
	logger  SLogger
	metrics *MetricsCollector
	timeNow func() time.Time
}

// Limit returns the maximum number of concurrent operations.
func (l *Limiter) Limit() int64 {
	return l.limit
}

// Do runs fn while holding one slot, waiting for capacity if needed.
//
// The slot is released when fn returns, whatever its outcome. Do only fails
// without calling fn when ctx is done while waiting.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	t0 := l.timeNow()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	wait := l.timeNow().Sub(t0)
	l.metrics.recordLimiterWait(l.name, wait)
	l.logger.Debug(
		"limiterWait",
		slog.Int64("limit", l.limit),
		slog.String("name", l.name),
		slog.Time("t0", t0),
		slog.Duration("wait", wait),
	)

	defer l.sem.Release(1)
	l.metrics.addInFlight(1)
	defer l.metrics.addInFlight(-1)
	return fn(ctx)
}

// LimiterRegistry hands out named [*Limiter] instances shared process-wide.
//
// Construct using [NewLimiterRegistry].
type LimiterRegistry struct {
	cfg      *Config
	logger   SLogger
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewLimiterRegistry returns a registry whose limits come from cfg.Limits.
func NewLimiterRegistry(cfg *Config, logger SLogger) *LimiterRegistry {
	return &LimiterRegistry{
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*Limiter),
	}
}

// Get returns the limiter called name, creating it on first use.
//
// A missing or non-positive limit means unlimited.
func (r *LimiterRegistry) Get(name string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[name]; ok {
		return limiter
	}
	limit := r.cfg.Limits[name]
	if limit <= 0 {
		limit = math.MaxInt64
	}
	limiter := &Limiter{
		name:    name,
		limit:   limit,
		sem:     semaphore.NewWeighted(limit),
		logger:  r.logger,
		metrics: r.cfg.Metrics,
		timeNow: r.cfg.TimeNow,
	}
	r.limiters[name] = limiter
	return limiter
}
