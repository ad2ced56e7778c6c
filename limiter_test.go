// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterRegistry(t *testing.T) {
	t.Run("returns the same limiter for a name", func(t *testing.T) {
		registry := NewLimiterRegistry(newTestConfig(), DefaultSLogger())

		first := registry.Get(NetworkConcurrency)
		second := registry.Get(NetworkConcurrency)

		assert.Same(t, first, second)
		assert.Equal(t, int64(50), first.Limit())
	})

	t.Run("missing or non-positive limits mean unlimited", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.Limits["zero"] = 0
		registry := NewLimiterRegistry(cfg, DefaultSLogger())

		assert.Equal(t, int64(math.MaxInt64), registry.Get("zero").Limit())
		assert.Equal(t, int64(math.MaxInt64), registry.Get("unknown").Limit())
	})
}

func TestLimiterDo(t *testing.T) {
	t.Run("bounds the number of active operations", func(t *testing.T) {
		const (
			limit   = 2
			callers = 6
		)
		cfg := newTestConfig()
		cfg.Limits[NetworkConcurrency] = limit
		limiter := NewLimiterRegistry(cfg, DefaultSLogger()).Get(NetworkConcurrency)

		var (
			active    atomic.Int64
			finished  atomic.Int64
			maxActive atomic.Int64
			wg        sync.WaitGroup
		)
		release := make(chan struct{})
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := limiter.Do(context.Background(), func(ctx context.Context) error {
					current := active.Add(1)
					for {
						seen := maxActive.Load()
						if current <= seen || maxActive.CompareAndSwap(seen, current) {
							break
						}
					}
					<-release
					active.Add(-1)
					finished.Add(1)
					return nil
				})
				assert.NoError(t, err)
			}()
		}

		// the holders are parked; the others must stay queued
		require.Eventually(t, func() bool {
			return active.Load() == limit
		}, 5*time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int64(limit), active.Load())
		assert.Equal(t, int64(0), finished.Load())

		close(release)
		wg.Wait()

		assert.Equal(t, int64(limit), maxActive.Load())
		assert.Equal(t, int64(callers), finished.Load())
		assert.Equal(t, int64(0), active.Load())
	})

	t.Run("releases the slot on failure", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.Limits[NetworkConcurrency] = 1
		limiter := NewLimiterRegistry(cfg, DefaultSLogger()).Get(NetworkConcurrency)
		wantErr := errors.New("mocked error")

		err := limiter.Do(context.Background(), func(ctx context.Context) error {
			return wantErr
		})
		require.ErrorIs(t, err, wantErr)

		called := false
		err = limiter.Do(context.Background(), func(ctx context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("gives up waiting when the context is done", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.Limits[NetworkConcurrency] = 1
		limiter := NewLimiterRegistry(cfg, DefaultSLogger()).Get(NetworkConcurrency)

		holding := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = limiter.Do(context.Background(), func(ctx context.Context) error {
				close(holding)
				<-release
				return nil
			})
		}()
		<-holding

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := limiter.Do(ctx, func(ctx context.Context) error {
			called = true
			return nil
		})

		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
		close(release)
		<-done
	})

	t.Run("logs the wait", func(t *testing.T) {
		logger, sink := newCapturingLogger()
		limiter := NewLimiterRegistry(newTestConfig(), logger).Get(NetworkConcurrency)

		require.NoError(t, limiter.Do(context.Background(), func(ctx context.Context) error {
			return nil
		}))

		record, ok := sink.find("limiterWait")
		require.True(t, ok)
		attrs := recordAttrs(record)
		assert.Equal(t, NetworkConcurrency, attrs["name"].String())
		assert.Equal(t, int64(50), attrs["limit"].Int64())
	})
}
