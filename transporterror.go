// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import "fmt"

// TransportErrorKind tags the failure modes of a [Transport].
type TransportErrorKind int

const (
	// KindOther covers failures that are not about the network exchange
	// itself, e.g. an undecodable JSON body or too many redirects.
	KindOther TransportErrorKind = iota

	// KindTimeout is a dial, handshake or header wait that timed out.
	KindTimeout

	// KindHTTPStatus is a response with a non-2xx status code.
	KindHTTPStatus

	// KindConnection is any other failure to exchange the request.
	KindConnection
)

// String implements [fmt.Stringer].
func (k TransportErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindHTTPStatus:
		return "HTTPStatus"
	case KindConnection:
		return "ConnectionError"
	default:
		return "Other"
	}
}

// TransportError is the failure returned by a [Transport].
//
// The Kind tag is what [ClassifyNetworkError] matches on; the other fields
// are filled in when the transport knows them.
type TransportError struct {
	// Kind is the failure mode.
	Kind TransportErrorKind

	// Message is the low-level description of the failure.
	Message string

	// Code is the errno-style class of Err (e.g. "ETIMEDOUT"), if any.
	Code string

	// Method is the request method.
	Method string

	// URL is the last URL requested, after redirects.
	URL string

	// Redirects lists the redirect URLs followed, in order.
	Redirects []string

	// RetryCount is the number of retries performed before giving up.
	RetryCount int

	// RetryLimit is the configured maximum number of retries.
	RetryLimit int

	// Response is the received response, for KindHTTPStatus.
	Response *Response

	// Err is the underlying error.
	Err error
}

var _ error = &TransportError{}

// Error implements error.
func (e *TransportError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

func newHTTPStatusError(resp *Response) error {
	return fmt.Errorf("Response code %d (%s)", resp.StatusCode, resp.StatusMessage)
}
