// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCache(t *testing.T) {
	t.Run("zero value is usable", func(t *testing.T) {
		var rc ResponseCache

		body, err := rc.GetOrFetch(context.Background(), "https://example.com/", func(ctx context.Context) ([]byte, error) {
			return []byte("body"), nil
		})

		require.NoError(t, err)
		assert.Equal(t, []byte("body"), body)
	})

	t.Run("concurrent gets share one fetch", func(t *testing.T) {
		rc := NewResponseCache(newTestConfig())
		var fetches atomic.Int64
		release := make(chan struct{})
		fetch := func(ctx context.Context) ([]byte, error) {
			fetches.Add(1)
			<-release
			return []byte("body"), nil
		}

		var wg sync.WaitGroup
		bodies := make([][]byte, 4)
		for idx := range bodies {
			wg.Add(1)
			go func() {
				defer wg.Done()
				body, err := rc.GetOrFetch(context.Background(), "https://example.com/", fetch)
				assert.NoError(t, err)
				bodies[idx] = body
			}()
		}
		waitForFlightWaiters(t, &rc.memo.waiting, int64(len(bodies)))
		close(release)
		wg.Wait()

		assert.Equal(t, int64(1), fetches.Load())
		for _, body := range bodies {
			assert.Equal(t, []byte("body"), body)
		}
	})

	t.Run("failures reach every waiter and are not cached", func(t *testing.T) {
		rc := NewResponseCache(newTestConfig())
		wantErr := errors.New("mocked error")

		_, err := rc.GetOrFetch(context.Background(), "https://example.com/", func(ctx context.Context) ([]byte, error) {
			return nil, wantErr
		})
		require.ErrorIs(t, err, wantErr)

		body, err := rc.GetOrFetch(context.Background(), "https://example.com/", func(ctx context.Context) ([]byte, error) {
			return []byte("recovered"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("recovered"), body)
	})

	t.Run("records cache metrics", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.Metrics = NewMetricsCollector(prometheus.NewRegistry())
		rc := NewResponseCache(cfg)
		fetch := func(ctx context.Context) ([]byte, error) {
			return []byte("body"), nil
		}

		for range 3 {
			_, err := rc.GetOrFetch(context.Background(), "https://example.com/", fetch)
			require.NoError(t, err)
		}

		assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.cacheMisses.WithLabelValues("response")))
		assert.Equal(t, 2.0, testutil.ToFloat64(cfg.Metrics.cacheHits.WithLabelValues("response")))
		assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.cacheSize.WithLabelValues("response")))
	})
}
