// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"net"
	"time"

	"github.com/spf13/afero"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// By making the agents depend on an abstract implementation we
// allow for unit testing and for using alternative dialers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds the process-wide configuration read by the pipeline.
//
// The pipeline only reads these fields; it never mutates them. Fields must not
// be mutated after passing the Config to [New]. All fields have sensible
// defaults set by [NewConfig].
type Config struct {
	// NetworkSettings is the ordered hostname-pattern rule table.
	//
	// Set by [NewConfig] to an empty table.
	NetworkSettings []SettingsRule

	// Defaults provides the value of every setting no matching rule sets.
	//
	// Set by [NewConfig] to enable the network with no proxy and no TLS files.
	//
	// EnableNetwork is a plain bool here, so a Config built by hand with a
	// zero-value Defaults blocks every request no rule enables. Start from
	// [NewConfig] (or [LoadConfigFile]) unless that is the intent.
	Defaults NetworkSettings

	// HTTPTimeout bounds dialing, the TLS handshake and each read from the
	// connection, so a peer that stalls in the middle of a body times out too.
	//
	// Set by [NewConfig] to 60 seconds.
	HTTPTimeout time.Duration

	// HTTPRetry is the number of times the transport retries a failed call.
	//
	// Set by [NewConfig] to 3.
	HTTPRetry int

	// EnableStrictSSL enables TLS certificate verification.
	//
	// Set by [NewConfig] to true.
	EnableStrictSSL bool

	// UnsafeHTTPWhitelist lists the hostname globs allowed over plain http.
	//
	// Set by [NewConfig] to an empty list.
	UnsafeHTTPWhitelist []string

	// Limits maps limiter names to their maximum concurrency.
	//
	// Set by [NewConfig] to 50 for [NetworkConcurrency].
	Limits map[string]int64

	// Hooks are the registered request wrappers, applied in order after the
	// per-call [Options.WrapNetworkRequest].
	//
	// Set by [NewConfig] to nil.
	Hooks []WrapNetworkRequestFunc

	// Dialer is used by the agents to establish connections.
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// FS is the filesystem TLS material is read from.
	//
	// Set by [NewConfig] to [afero.NewOsFs].
	FS afero.Fs

	// Metrics collects Prometheus metrics; nil disables them.
	//
	// Set by [NewConfig] to nil.
	Metrics *MetricsCollector

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		NetworkSettings:     []SettingsRule{},
		Defaults:            NetworkSettings{EnableNetwork: true},
		HTTPTimeout:         60 * time.Second,
		HTTPRetry:           3,
		EnableStrictSSL:     true,
		UnsafeHTTPWhitelist: []string{},
		Limits:              map[string]int64{NetworkConcurrency: 50},
		Dialer:              &net.Dialer{},
		ErrClassifier:       DefaultErrClassifier,
		FS:                  afero.NewOsFs(),
		TimeNow:             time.Now,
	}
}
