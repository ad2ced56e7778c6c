// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"encoding/json"
	"errors"
	"strings"
)

// CustomErrorMessageFunc lets a caller choose the headline of a classified
// failure. Returning false falls back to the default message.
type CustomErrorMessageFunc func(err *TransportError) (string, bool)

// genericStatusMessage replaces the low-level "Response code ..." text.
const genericStatusMessage = "The remote server failed to provide the requested resource"

// ClassifyNetworkError turns a transport failure into a [*ReportError].
//
// Only [*TransportError] values of kind [KindHTTPStatus] and [KindTimeout]
// are classified; any other error, including policy blocks, [KindConnection]
// and [KindOther] failures, is returned unchanged. The headline comes from custom
// when it provides one, then from the "error" field of a JSON response body,
// then from a generic text for bad status codes, and finally from the
// low-level message. The returned error wraps err.
func ClassifyNetworkError(err error, custom CustomErrorMessageFunc) error {
	var te *TransportError
	if !errors.As(err, &te) {
		return err
	}
	switch te.Kind {
	case KindHTTPStatus, KindTimeout:
	default:
		return err
	}

	message, ok := "", false
	if custom != nil {
		message, ok = custom(te)
	}
	if !ok {
		message, ok = serverErrorMessage(te.Response)
	}
	if !ok {
		message = te.Message
		if strings.HasPrefix(te.Message, "Response code") {
			message = genericStatusMessage
		}
	}
	if te.Kind == KindTimeout {
		message += " (can be increased via httpTimeout)"
	}

	diag := &Diagnostic{
		Method:         te.Method,
		URL:            te.URL,
		Redirects:      te.Redirects,
		RetryCount:     te.RetryCount,
		RetryExhausted: te.RetryCount == te.RetryLimit,
	}
	if te.Response != nil {
		diag.StatusCode = te.Response.StatusCode
		diag.StatusMessage = te.Response.StatusMessage
	}
	return &ReportError{
		Name:       MessageNetworkError,
		Message:    message,
		Diagnostic: diag,
		Err:        err,
	}
}

// serverErrorMessage extracts the "error" string of a JSON object body.
func serverErrorMessage(resp *Response) (string, bool) {
	if resp == nil || len(resp.Body) == 0 {
		return "", false
	}
	var body struct {
		Error *string `json:"error"`
	}
	if json.Unmarshal(resp.Body, &body) != nil || body.Error == nil {
		return "", false
	}
	return *body.Error, true
}
