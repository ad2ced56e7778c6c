// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"errors"
	"fmt"
	"strings"
)

// MessageName identifies the kind of a [*ReportError] for the report collaborator.
type MessageName string

const (
	// MessageNetworkError marks a classified transport failure.
	MessageNetworkError MessageName = "NETWORK_ERROR"

	// MessageNetworkDisabled marks a request blocked by enableNetwork.
	MessageNetworkDisabled MessageName = "NETWORK_DISABLED"

	// MessageNetworkUnsafeHTTP marks a plain http request to a hostname
	// missing from the unsafe-http allow-list.
	MessageNetworkUnsafeHTTP MessageName = "NETWORK_UNSAFE_HTTP"
)

var (
	// ErrNetworkDisabled is wrapped by the [*ReportError] returned when the
	// resolved settings disable the network for the target hostname.
	ErrNetworkDisabled = errors.New("reqflow: network disabled")

	// ErrUnsafeHTTPBlocked is wrapped by the [*ReportError] returned for plain
	// http targets that are not explicitly allowed.
	ErrUnsafeHTTPBlocked = errors.New("reqflow: unsafe http blocked")
)

// Reporter receives diagnostics for display. Rendering is up to the implementation.
type Reporter interface {
	ReportError(name MessageName, text string)
}

// ReportError is a user-facing error.
//
// Message is meant for humans. Err keeps the underlying error for programmatic
// inspection with [errors.Is] and [errors.As].
type ReportError struct {
	// Name is the message kind.
	Name MessageName

	// Message is the headline shown to the user.
	Message string

	// Diagnostic carries request details; nil for policy blocks.
	Diagnostic *Diagnostic

	// Err is the original error.
	Err error
}

var _ error = &ReportError{}

// Error implements error.
func (e *ReportError) Error() string {
	return e.Message
}

// Unwrap returns the original error.
func (e *ReportError) Unwrap() error {
	return e.Err
}

// Report sends the headline and then one indented line per diagnostic field to r.
func (e *ReportError) Report(r Reporter) {
	r.ReportError(e.Name, e.Message)
	if e.Diagnostic == nil {
		return
	}
	for _, field := range e.Diagnostic.Fields() {
		r.ReportError(e.Name, fmt.Sprintf("  %s: %s", field.Label, field.Value))
	}
}

// Diagnostic is the structured context of a failed request.
//
// Zero-valued fields were not available.
type Diagnostic struct {
	// StatusCode is the response status code.
	StatusCode int

	// StatusMessage is the response reason phrase.
	StatusMessage string

	// Method is the request method.
	Method string

	// URL is the final request URL, after redirects.
	URL string

	// Redirects lists the URLs of the redirects that were followed, in order.
	Redirects []string

	// RetryCount is the number of retries performed.
	RetryCount int

	// RetryExhausted is true when RetryCount reached the configured limit.
	RetryExhausted bool
}

// ReportField is one labeled line of a [*Diagnostic].
type ReportField struct {
	Label string
	Value string

	// Href optionally links to documentation about Value.
	Href string
}

// Fields returns the available fields in display order.
func (d *Diagnostic) Fields() []ReportField {
	var fields []ReportField
	if d.StatusCode > 0 {
		value := fmt.Sprintf("%d", d.StatusCode)
		if d.StatusMessage != "" {
			value = fmt.Sprintf("%d (%s)", d.StatusCode, d.StatusMessage)
		}
		fields = append(fields, ReportField{
			Label: "Response Code",
			Value: value,
			Href:  fmt.Sprintf("https://developer.mozilla.org/en-US/docs/Web/HTTP/Status/%d", d.StatusCode),
		})
	}
	if d.Method != "" {
		fields = append(fields, ReportField{Label: "Request Method", Value: d.Method})
	}
	if d.URL != "" {
		fields = append(fields, ReportField{Label: "Request URL", Value: d.URL})
	}
	if len(d.Redirects) > 0 {
		fields = append(fields, ReportField{Label: "Request Redirects", Value: strings.Join(d.Redirects, ", ")})
	}
	if d.RetryExhausted {
		fields = append(fields, ReportField{
			Label: "Request Retry Count",
			Value: fmt.Sprintf("%d (can be increased via httpRetry)", d.RetryCount),
		})
	}
	return fields
}

func newPolicyError(name MessageName, sentinel error, message string) *ReportError {
	return &ReportError{Name: name, Message: message, Err: sentinel}
}
