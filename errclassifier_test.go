// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bassosimone/errclass"
	"github.com/stretchr/testify/assert"
)

func TestDefaultErrClassifier(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, errclass.ETIMEDOUT},
		{"unknown", errors.New("unknown error"), errclass.EGENERIC},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultErrClassifier.Classify(tc.err))
		})
	}
}

func TestErrClassifierFunc(t *testing.T) {
	classifier := ErrClassifierFunc(func(err error) string {
		if errors.Is(err, ErrNetworkDisabled) {
			return "EBLOCKED"
		}
		return "EOTHER"
	})

	assert.Equal(t, "EBLOCKED", classifier.Classify(fmt.Errorf("request: %w", ErrNetworkDisabled)))
	assert.Equal(t, "EOTHER", classifier.Classify(errors.New("boom")))
}
