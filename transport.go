//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/httpslog/httpslog.go
//

package reqflow

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bassosimone/errclass"
	"github.com/bassosimone/safeconn"
	"github.com/sethvargo/go-retry"
)

// Response is a completed HTTP exchange with a fully read body.
type Response struct {
	// Body is the raw response body.
	Body []byte

	// JSON is the decoded body when the request asked for a JSON response.
	JSON any

	// Headers contains the response headers.
	Headers http.Header

	// StatusCode is the response status code.
	StatusCode int

	// StatusMessage is the reason phrase (e.g. "Not Found").
	StatusMessage string
}

// TransportRequest is what the [*RequestExecutor] hands to a [Transport].
type TransportRequest struct {
	// URL is the target URL.
	URL *url.URL

	// Method is the HTTP method.
	Method string

	// Header contains the request headers.
	Header http.Header

	// Body is the encoded request body, or nil.
	Body []byte

	// JSONResponse requests decoding the body into [Response.JSON].
	JSONResponse bool

	// RoundTripper is the agent selected for this request.
	RoundTripper http.RoundTripper

	// RetryLimit is the maximum number of retries.
	RetryLimit int

	// SpanID identifies the request in log events.
	SpanID string
}

// Transport performs HTTP exchanges.
//
// Failures must be reported as [*TransportError] so [ClassifyNetworkError]
// can recognize them.
type Transport interface {
	RoundTrip(ctx context.Context, req *TransportRequest) (*Response, error)
}

// errTooManyRedirects is returned by CheckRedirect past [HTTPTransport.MaxRedirects].
var errTooManyRedirects = errors.New("reqflow: too many redirects")

// retryStatusCodes are the statuses worth retrying.
var retryStatusCodes = []int{408, 413, 429, 500, 502, 503, 504, 521, 522, 524}

// retryErrClasses are the [TransportError.Code] values of transient
// connection failures. Other failures, such as certificate errors, fail fast.
var retryErrClasses = []string{
	"EADDRINUSE",
	"EAI_AGAIN",
	"ECONNABORTED",
	"ECONNREFUSED",
	"ECONNRESET",
	"EHOSTUNREACH",
	"ENETDOWN",
	"ENETUNREACH",
	"EPIPE",
	errclass.ETIMEDOUT,
}

// retryMethods are the idempotent methods we retry.
var retryMethods = []string{"GET", "PUT", "HEAD", "DELETE", "OPTIONS", "TRACE"}

// HTTPTransport is the default [Transport], built on [net/http].
//
// It follows redirects, retries idempotent requests that failed at the network
// level or with a retryable status, reads the whole body and turns non-2xx
// responses into [KindHTTPStatus] errors.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [RoundTrip].
type HTTPTransport struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewHTTPTransport] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewHTTPTransport] to the user-provided logger.
	Logger SLogger

	// MaxRedirects is the maximum number of redirects to follow.
	//
	// Set by [NewHTTPTransport] to 10.
	MaxRedirects int

	// RetryBackoff is the base of the exponential delay between retries.
	//
	// Set by [NewHTTPTransport] to one second.
	RetryBackoff time.Duration

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewHTTPTransport] from [Config.TimeNow].
	TimeNow func() time.Time
}

// NewHTTPTransport returns a new [*HTTPTransport].
func NewHTTPTransport(cfg *Config, logger SLogger) *HTTPTransport {
	return &HTTPTransport{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		MaxRedirects:  10,
		RetryBackoff:  time.Second,
		TimeNow:       cfg.TimeNow,
	}
}

var _ Transport = &HTTPTransport{}

// RoundTrip implements [Transport].
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *TransportRequest) (*Response, error) {
	limit := max(req.RetryLimit, 0)
	backoff := retry.WithMaxRetries(uint64(limit), retry.NewExponential(t.RetryBackoff))

	var (
		attempts int
		resp     *Response
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		var err error
		resp, err = t.roundTripOnce(ctx, req, attempts-1)
		if err != nil && attempts <= limit && shouldRetry(req.Method, err) {
			t.Logger.Debug(
				"httpRetry",
				slog.Int("attempt", attempts),
				slog.Any("err", err),
				slog.String("httpMethod", req.Method),
				slog.String("httpUrl", req.URL.String()),
				slog.String("spanID", req.SpanID),
			)
			return retry.RetryableError(err)
		}
		return err
	})

	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			// the context was done while waiting to retry
			te = t.newTransportError(req, err, nil)
		}
		te.RetryCount = attempts - 1
		te.RetryLimit = req.RetryLimit
		return nil, te
	}
	return resp, nil
}

func shouldRetry(method string, err error) bool {
	var te *TransportError
	if !errors.As(err, &te) || !slices.Contains(retryMethods, method) {
		return false
	}
	switch te.Kind {
	case KindTimeout:
		return true
	case KindConnection:
		return slices.Contains(retryErrClasses, te.Code)
	case KindHTTPStatus:
		return slices.Contains(retryStatusCodes, te.Response.StatusCode)
	default:
		return false
	}
}

// connMeta holds the connection metadata captured through [httptrace].
type connMeta struct {
	localAddr  string
	protocol   string
	remoteAddr string
}

func (t *HTTPTransport) roundTripOnce(ctx context.Context, req *TransportRequest, attempt int) (*Response, error) {
	// 1. Prepare the client, tracking redirects and the connection in use
	var redirects []string
	client := &http.Client{
		Transport: req.RoundTripper,
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if len(via) > t.MaxRedirects {
				return errTooManyRedirects
			}
			redirects = append(redirects, next.URL.String())
			return nil
		},
	}
	var conn atomic.Pointer[connMeta]
	var tlsT0 atomic.Pointer[time.Time]
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			conn.Store(&connMeta{
				localAddr:  safeconn.LocalAddr(info.Conn),
				protocol:   safeconn.Network(info.Conn),
				remoteAddr: safeconn.RemoteAddr(info.Conn),
			})
		},
		TLSHandshakeStart: func() {
			t0 := t.TimeNow()
			tlsT0.Store(&t0)
			t.Logger.Info(
				"tlsHandshakeStart",
				slog.String("httpUrl", req.URL.String()),
				slog.String("spanID", req.SpanID),
				slog.Time("t", t0),
			)
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			t.logTLSHandshakeDone(req, tlsT0.Load(), state, err)
		},
	})

	// 2. Build the request
	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, &TransportError{Kind: KindOther, Message: err.Error(), Method: req.Method, URL: req.URL.String(), Err: err}
	}
	for key, values := range req.Header {
		httpReq.Header[key] = slices.Clone(values)
	}

	// 3. Perform the round trip and read the body
	t0 := t.TimeNow()
	t.logRoundTripStart(httpReq, req.SpanID, attempt, t0)
	httpResp, err := client.Do(httpReq)
	var data []byte
	if err == nil {
		data, err = io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
	}
	t.logRoundTripDone(httpReq, req.SpanID, attempt, t0, conn.Load(), httpResp, err)

	// 4. Map the outcome
	if err != nil {
		return nil, t.newTransportError(req, err, redirects)
	}
	resp := &Response{
		Body:          data,
		Headers:       httpResp.Header,
		StatusCode:    httpResp.StatusCode,
		StatusMessage: statusMessage(httpResp),
	}
	finalURL := httpResp.Request.URL.String()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := newHTTPStatusError(resp)
		return nil, &TransportError{
			Kind:      KindHTTPStatus,
			Message:   err.Error(),
			Method:    req.Method,
			URL:       finalURL,
			Redirects: redirects,
			Response:  resp,
			Err:       err,
		}
	}
	if req.JSONResponse && len(data) > 0 {
		if err := json.Unmarshal(data, &resp.JSON); err != nil {
			return nil, &TransportError{
				Kind:      KindOther,
				Message:   fmt.Sprintf("cannot parse JSON response from %s: %s", finalURL, err.Error()),
				Method:    req.Method,
				URL:       finalURL,
				Redirects: redirects,
				Response:  resp,
				Err:       err,
			}
		}
	}
	return resp, nil
}

func (t *HTTPTransport) newTransportError(req *TransportRequest, err error, redirects []string) *TransportError {
	finalURL := req.URL.String()
	if len(redirects) > 0 {
		finalURL = redirects[len(redirects)-1]
	}
	kind := KindConnection
	switch {
	case errors.Is(err, errTooManyRedirects):
		kind = KindOther
	case isTimeout(err):
		kind = KindTimeout
	}
	return &TransportError{
		Kind:      kind,
		Message:   err.Error(),
		Code:      t.ErrClassifier.Classify(err),
		Method:    req.Method,
		URL:       finalURL,
		Redirects: redirects,
		Err:       err,
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errclass.New(err) == errclass.ETIMEDOUT
}

// statusMessage extracts the reason phrase from a "404 Not Found" status line.
func statusMessage(resp *http.Response) string {
	message := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return message
}

func (t *HTTPTransport) logRoundTripStart(req *http.Request, spanID string, attempt int, t0 time.Time) {
	deadline, _ := req.Context().Deadline()
	t.Logger.Info(
		"httpRoundTripStart",
		slog.Int("attempt", attempt),
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)
}

func (t *HTTPTransport) logRoundTripDone(req *http.Request, spanID string,
	attempt int, t0 time.Time, conn *connMeta, resp *http.Response, err error) {
	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode = resp.StatusCode
		headers = resp.Header
	}
	if conn == nil {
		conn = &connMeta{}
	}
	deadline, _ := req.Context().Deadline()
	t.Logger.Info(
		"httpRoundTripDone",
		slog.Int("attempt", attempt),
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", t.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("localAddr", conn.localAddr),
		slog.String("protocol", conn.protocol),
		slog.String("remoteAddr", conn.remoteAddr),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", t.TimeNow()),
	)
}

func (t *HTTPTransport) logTLSHandshakeDone(req *TransportRequest, t0 *time.Time, state tls.ConnectionState, err error) {
	start := t.TimeNow()
	if t0 != nil {
		start = *t0
	}
	t.Logger.Info(
		"tlsHandshakeDone",
		slog.Any("err", err),
		slog.String("errClass", t.ErrClassifier.Classify(err)),
		slog.String("httpUrl", req.URL.String()),
		slog.String("spanID", req.SpanID),
		slog.Time("t0", start),
		slog.Time("t", t.TimeNow()),
		slog.String("tlsCipherSuite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("tlsNegotiatedProtocol", state.NegotiatedProtocol),
		slog.String("tlsServerName", state.ServerName),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
	)
}
