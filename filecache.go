// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

// ErrIO indicates that reading local TLS material failed.
var ErrIO = errors.New("reqflow: cannot read file")

// FileCache memoizes file contents by path for the lifetime of the process.
//
// Concurrent Get calls for the same path share a single read. Contents are
// assumed static: a path is never read again once resolved, and nothing is
// evicted. Failed reads are not cached.
//
// Construct using [NewFileCache].
type FileCache struct {
	// FS is the filesystem to read from.
	//
	// Set by [NewFileCache] from [Config.FS].
	FS afero.Fs

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Metrics records cache hits and misses; nil disables metrics.
	Metrics *MetricsCollector

	// TimeNow is the function to get the current time (configurable for testing).
	TimeNow func() time.Time

	memo memo[[]byte]
}

// NewFileCache returns a new [*FileCache] reading from cfg.FS.
func NewFileCache(cfg *Config, logger SLogger) *FileCache {
	return &FileCache{
		FS:      cfg.FS,
		Logger:  logger,
		Metrics: cfg.Metrics,
		TimeNow: cfg.TimeNow,
	}
}

// Get returns the contents of path, reading it at most once.
//
// The returned slice is shared between callers and must not be modified.
// Read failures wrap both [ErrIO] and the underlying error.
func (fc *FileCache) Get(ctx context.Context, path string) ([]byte, error) {
	data, outcome, err := fc.memo.getOrFetch(ctx, path, func(context.Context) ([]byte, error) {
		return fc.read(path)
	})
	fc.Metrics.observeCache("file", outcome, fc.memo.len())
	return data, err
}

func (fc *FileCache) read(path string) ([]byte, error) {
	t0 := fc.TimeNow()
	data, err := afero.ReadFile(fc.FS, path)
	fc.Logger.Debug(
		"fileCacheRead",
		slog.Any("err", err),
		slog.String("path", path),
		slog.Int("size", len(data)),
		slog.Time("t0", t0),
		slog.Time("t", fc.TimeNow()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return data, nil
}
