// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying one request.
//
// Every log event emitted while serving a request, from settings resolution
// down to each transport attempt, carries the same spanID attribute.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
