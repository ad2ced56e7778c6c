// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNotFoundError(body string) *TransportError {
	resp := &Response{Body: []byte(body), StatusCode: 404, StatusMessage: "Not Found"}
	return &TransportError{
		Kind:       KindHTTPStatus,
		Message:    newHTTPStatusError(resp).Error(),
		Method:     "GET",
		URL:        "https://registry.example.com/pkg",
		RetryCount: 0,
		RetryLimit: 3,
		Response:   resp,
	}
}

func TestClassifyNetworkError(t *testing.T) {
	t.Run("bad status uses the generic message", func(t *testing.T) {
		te := newNotFoundError("")

		err := ClassifyNetworkError(te, nil)

		var re *ReportError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, MessageNetworkError, re.Name)
		assert.Equal(t, "The remote server failed to provide the requested resource", re.Message)
		assert.Equal(t, &Diagnostic{
			StatusCode:     404,
			StatusMessage:  "Not Found",
			Method:         "GET",
			URL:            "https://registry.example.com/pkg",
			RetryCount:     0,
			RetryExhausted: false,
		}, re.Diagnostic)
		assert.ErrorIs(t, err, te)
	})

	t.Run("custom message wins", func(t *testing.T) {
		te := newNotFoundError(`{"error":"package not found"}`)
		custom := func(err *TransportError) (string, bool) {
			return "custom " + err.Method, true
		}

		err := ClassifyNetworkError(te, custom)

		assert.Equal(t, "custom GET", err.Error())
	})

	t.Run("custom message may decline", func(t *testing.T) {
		te := newNotFoundError("")
		custom := func(err *TransportError) (string, bool) {
			return "", false
		}

		err := ClassifyNetworkError(te, custom)

		assert.Equal(t, genericStatusMessage, err.Error())
	})

	t.Run("server error field", func(t *testing.T) {
		te := newNotFoundError(`{"error":"package not found"}`)

		err := ClassifyNetworkError(te, nil)

		assert.Equal(t, "package not found", err.Error())
	})

	t.Run("body without error field", func(t *testing.T) {
		te := newNotFoundError(`<html>Not Found</html>`)

		err := ClassifyNetworkError(te, nil)

		assert.Equal(t, genericStatusMessage, err.Error())
	})

	t.Run("timeout gets the hint", func(t *testing.T) {
		te := &TransportError{
			Kind:       KindTimeout,
			Message:    "context deadline exceeded",
			Method:     "GET",
			URL:        "https://registry.example.com/pkg",
			RetryCount: 3,
			RetryLimit: 3,
			Err:        context.DeadlineExceeded,
		}

		err := ClassifyNetworkError(te, nil)

		var re *ReportError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "context deadline exceeded (can be increased via httpTimeout)", re.Message)
		assert.True(t, re.Diagnostic.RetryExhausted)
		assert.Equal(t, 3, re.Diagnostic.RetryCount)
		assert.Equal(t, 0, re.Diagnostic.StatusCode)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unrecognized status text is kept verbatim", func(t *testing.T) {
		te := &TransportError{
			Kind:      KindHTTPStatus,
			Message:   "upstream answered 599",
			Method:    "PUT",
			URL:       "https://registry.example.com/final",
			Redirects: []string{"https://registry.example.com/final"},
			Response:  &Response{Body: []byte("<html>"), StatusCode: 599},
		}

		err := ClassifyNetworkError(te, nil)

		var re *ReportError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "upstream answered 599", re.Message)
		assert.Equal(t, []string{"https://registry.example.com/final"}, re.Diagnostic.Redirects)
	})

	t.Run("connection errors pass through", func(t *testing.T) {
		te := &TransportError{
			Kind:    KindConnection,
			Message: "dial tcp 127.0.0.1:1: connect: connection refused",
			Method:  "POST",
			URL:     "http://127.0.0.1:1/x",
		}

		err := ClassifyNetworkError(te, func(*TransportError) (string, bool) {
			return "unused", true
		})

		assert.Same(t, te, err)
	})

	t.Run("other kinds pass through", func(t *testing.T) {
		te := &TransportError{Kind: KindOther, Message: "cannot parse JSON response"}

		err := ClassifyNetworkError(te, nil)

		assert.Same(t, te, err)
	})

	t.Run("non transport errors pass through", func(t *testing.T) {
		for _, want := range []error{
			errors.New("mocked error"),
			newPolicyError(MessageNetworkDisabled, ErrNetworkDisabled, "blocked"),
		} {
			assert.Equal(t, want, ClassifyNetworkError(want, nil))
		}
	})

	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, ClassifyNetworkError(nil, nil))
	})
}
