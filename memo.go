// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// memo is a process-lifetime cache with at most one fetch in flight per key.
//
// Resolved values live in a mutex-guarded map; in-flight fetches are
// collapsed by a [singleflight.Group]. No lock is held while fetching, and
// failed fetches are not remembered.
//
// The shared fetch runs under a context that is never canceled by a single
// caller: a caller whose context is done stops waiting and gets its context
// error, while the others keep waiting for the fetch.
type memo[V any] struct {
	group  singleflight.Group
	mu     sync.Mutex
	values map[string]V

	// waiting counts callers that missed the map and entered a flight.
	waiting atomic.Int64
}

// memoOutcome tells how getOrFetch obtained its value.
type memoOutcome int

const (
	memoFetched memoOutcome = iota
	memoHit
	memoShared
)

func (m *memo[V]) lookup(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok
}

func (m *memo[V]) store(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]V)
	}
	m.values[key] = value
}

func (m *memo[V]) getOrFetch(ctx context.Context,
	key string, fetch func(ctx context.Context) (V, error)) (V, memoOutcome, error) {
	var zero V
	if value, ok := m.lookup(key); ok {
		return value, memoHit, nil
	}

	m.waiting.Add(1)
	defer m.waiting.Add(-1)
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		// A flight for key may have completed between lookup and DoChan.
		if value, ok := m.lookup(key); ok {
			return value, nil
		}
		value, err := fetch(flightCtx)
		if err != nil {
			return nil, err
		}
		m.store(key, value)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return zero, memoFetched, ctx.Err()
	case res := <-ch:
		outcome := memoFetched
		if res.Shared {
			outcome = memoShared
		}
		if res.Err != nil {
			return zero, outcome, res.Err
		}
		return res.Val.(V), outcome, nil
	}
}

// len returns the number of resolved entries.
func (m *memo[V]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
