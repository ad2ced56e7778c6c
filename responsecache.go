// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import "context"

// ResponseCache memoizes successful response bodies by request target.
//
// Concurrent GetOrFetch calls for the same key collapse onto one fetch and all
// observe its result. Successful bodies are kept for the lifetime of the
// process; failures are not cached, so the next caller fetches again.
//
// The zero value is ready to use.
type ResponseCache struct {
	// Metrics records hits, misses and deduplicated waits; nil disables metrics.
	Metrics *MetricsCollector

	memo memo[[]byte]
}

// NewResponseCache returns a new [*ResponseCache] using cfg.Metrics.
func NewResponseCache(cfg *Config) *ResponseCache {
	return &ResponseCache{Metrics: cfg.Metrics}
}

// GetOrFetch returns the cached body for key or calls fetch to obtain it.
//
// The returned slice is shared between callers and must not be modified.
func (rc *ResponseCache) GetOrFetch(ctx context.Context,
	key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	body, outcome, err := rc.memo.getOrFetch(ctx, key, fetch)
	rc.Metrics.observeCache("response", outcome, rc.memo.len())
	return body, err
}
