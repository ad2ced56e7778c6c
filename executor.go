// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestExecutor runs a single request under the configured network policy.
//
// For each request it resolves the [NetworkSettings] of the target hostname,
// refuses requests the policy blocks, encodes the body, loads TLS material
// through the [*FileCache], selects an agent and calls the [Transport] while
// holding a [NetworkConcurrency] slot.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
//
// Construct using [NewRequestExecutor].
type RequestExecutor struct {
	// Config is the process-wide configuration.
	//
	// Set by [NewRequestExecutor] to the user-provided config.
	Config *Config

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewRequestExecutor] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Files caches TLS material.
	//
	// Set by [NewRequestExecutor] to a new [*FileCache].
	Files *FileCache

	// Limiters provides the [NetworkConcurrency] limiter.
	//
	// Set by [NewRequestExecutor] to a new [*LimiterRegistry].
	Limiters *LimiterRegistry

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewRequestExecutor] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewRequestExecutor] from [Config.TimeNow].
	TimeNow func() time.Time

	// Transport performs the HTTP exchange.
	//
	// Set by [NewRequestExecutor] to a new [*HTTPTransport].
	Transport Transport

	agents *agents
}

// NewRequestExecutor returns a new [*RequestExecutor].
//
// The cfg argument contains the process-wide configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewRequestExecutor(cfg *Config, logger SLogger) *RequestExecutor {
	return &RequestExecutor{
		Config:        cfg,
		ErrClassifier: cfg.ErrClassifier,
		Files:         NewFileCache(cfg, logger),
		Limiters:      NewLimiterRegistry(cfg, logger),
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
		Transport:     NewHTTPTransport(cfg, logger),
		agents:        newAgents(cfg, logger),
	}
}

var _ Func[*RequestInfo, *Response] = &RequestExecutor{}

// Call executes the request described by info.
//
// Policy blocks are returned as [*ReportError] wrapping [ErrNetworkDisabled]
// or [ErrUnsafeHTTPBlocked] without any transport call. Transport failures are
// returned as produced by the [Transport], not yet classified.
func (e *RequestExecutor) Call(ctx context.Context, info *RequestInfo) (*Response, error) {
	prepare := FuncAdapter[*RequestInfo, *TransportRequest](e.prepare)
	dispatch := FuncAdapter[*TransportRequest, *Response](e.dispatch)
	return Compose2[*RequestInfo, *TransportRequest, *Response](prepare, dispatch).Call(ctx, info)
}

// prepare applies the network policy and builds the [*TransportRequest].
func (e *RequestExecutor) prepare(ctx context.Context, info *RequestInfo) (*TransportRequest, error) {
	// 1. Parse the target
	target, err := url.Parse(info.Target)
	if err != nil {
		return nil, err
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("reqflow: unsupported URL scheme %q in %s", target.Scheme, info.Target)
	}
	hostname := strings.ToLower(target.Hostname())
	spanID := NewSpanID()

	// 2. Resolve the settings and enforce the policy
	settings := ResolveNetworkSettings(hostname, e.Config.NetworkSettings, e.Config.Defaults)
	if !settings.EnableNetwork {
		return nil, e.block(spanID, target, newPolicyError(MessageNetworkDisabled, ErrNetworkDisabled,
			fmt.Sprintf("Request to '%s' has been blocked because of your configuration settings", target.String())))
	}
	if target.Scheme == "http" && !matchAnyHostname(hostname, e.Config.UnsafeHTTPWhitelist) {
		return nil, e.block(spanID, target, newPolicyError(MessageNetworkUnsafeHTTP, ErrUnsafeHTTPBlocked,
			fmt.Sprintf("Unsafe http requests must be explicitly whitelisted in your configuration (%s)", hostname)))
	}

	// 3. Encode headers and body
	header := http.Header{}
	for key, value := range info.Headers {
		header.Set(key, value)
	}
	if info.JSONResponse && header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	body, err := encodeBody(info, header)
	if err != nil {
		return nil, err
	}

	// 4. Load the TLS material and select the agent
	material, err := e.loadTLSMaterial(ctx, settings)
	if err != nil {
		return nil, err
	}
	agent, err := e.agents.forRequest(target, settings, material)
	if err != nil {
		return nil, err
	}

	method := string(info.Method)
	if method == "" {
		method = string(MethodGet)
	}
	return &TransportRequest{
		URL:          target,
		Method:       method,
		Header:       header,
		Body:         body,
		JSONResponse: info.JSONResponse,
		RoundTripper: agent,
		RetryLimit:   e.Config.HTTPRetry,
		SpanID:       spanID,
	}, nil
}

// dispatch calls the transport while holding a concurrency slot.
func (e *RequestExecutor) dispatch(ctx context.Context, req *TransportRequest) (*Response, error) {
	t0 := e.TimeNow()
	e.logRequestStart(req, t0)

	var resp *Response
	err := e.Limiters.Get(NetworkConcurrency).Do(ctx, func(ctx context.Context) (err error) {
		resp, err = e.Transport.RoundTrip(ctx, req)
		return
	})

	e.Config.Metrics.RecordRequest(req.Method, responseStatus(resp, err), e.TimeNow().Sub(t0))
	e.logRequestDone(req, t0, resp, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *RequestExecutor) loadTLSMaterial(ctx context.Context, settings NetworkSettings) (tlsMaterial, error) {
	m := tlsMaterial{paths: tlsPaths{
		ca:   settings.HTTPSCAFilePath,
		cert: settings.HTTPSCertFilePath,
		key:  settings.HTTPSKeyFilePath,
	}}
	for _, entry := range []struct {
		path string
		dst  *[]byte
	}{
		{m.paths.ca, &m.ca},
		{m.paths.cert, &m.cert},
		{m.paths.key, &m.key},
	} {
		if entry.path == "" {
			continue
		}
		data, err := e.Files.Get(ctx, entry.path)
		if err != nil {
			return m, err
		}
		*entry.dst = data
	}
	return m, nil
}

// encodeBody sends []byte and (unless JSONRequest) string bodies verbatim
// and JSON-encodes everything else.
func encodeBody(info *RequestInfo, header http.Header) ([]byte, error) {
	switch body := info.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return body, nil
	case string:
		if !info.JSONRequest {
			return []byte(body), nil
		}
	}
	data, err := json.Marshal(info.Body)
	if err != nil {
		return nil, fmt.Errorf("reqflow: cannot encode JSON body: %w", err)
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	return data, nil
}

func (e *RequestExecutor) block(spanID string, target *url.URL, err *ReportError) error {
	e.Config.Metrics.RecordBlocked(err.Name)
	e.Logger.Info(
		"networkRequestBlocked",
		slog.Any("err", err),
		slog.String("httpUrl", target.String()),
		slog.String("reason", string(err.Name)),
		slog.String("spanID", spanID),
		slog.Time("t", e.TimeNow()),
	)
	return err
}

func responseStatus(resp *Response, err error) int {
	if resp != nil {
		return resp.StatusCode
	}
	var te *TransportError
	if errors.As(err, &te) && te.Response != nil {
		return te.Response.StatusCode
	}
	return 0
}

func (e *RequestExecutor) logRequestStart(req *TransportRequest, t0 time.Time) {
	e.Logger.Info(
		"networkRequestStart",
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Int("retryLimit", req.RetryLimit),
		slog.String("spanID", req.SpanID),
		slog.Time("t", t0),
	)
}

func (e *RequestExecutor) logRequestDone(req *TransportRequest, t0 time.Time, resp *Response, err error) {
	e.Logger.Info(
		"networkRequestDone",
		slog.Any("err", err),
		slog.String("errClass", e.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.Int("httpResponseStatusCode", responseStatus(resp, err)),
		slog.String("httpUrl", req.URL.String()),
		slog.String("spanID", req.SpanID),
		slog.Time("t0", t0),
		slog.Time("t", e.TimeNow()),
	)
}
