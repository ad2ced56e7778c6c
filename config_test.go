// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)

	// Network policy defaults
	assert.Empty(t, cfg.NetworkSettings)
	assert.Equal(t, NetworkSettings{EnableNetwork: true}, cfg.Defaults)
	assert.Empty(t, cfg.UnsafeHTTPWhitelist)
	assert.True(t, cfg.EnableStrictSSL)

	// Transport defaults
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 3, cfg.HTTPRetry)
	assert.Equal(t, int64(50), cfg.Limits[NetworkConcurrency])
	assert.Nil(t, cfg.Hooks)
	assert.Nil(t, cfg.Metrics)

	// Dialer should be set to *net.Dialer
	_, ok := cfg.Dialer.(*net.Dialer)
	assert.True(t, ok, "Dialer should be *net.Dialer")

	// FS should be the OS filesystem
	_, ok = cfg.FS.(*afero.OsFs)
	assert.True(t, ok, "FS should be *afero.OsFs")

	// ErrClassifier should be DefaultErrClassifier
	assert.Equal(t, "", cfg.ErrClassifier.Classify(nil))

	// TimeNow should be set and return a valid time
	now := cfg.TimeNow()
	assert.False(t, now.IsZero())
}
