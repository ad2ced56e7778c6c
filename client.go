// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/bassosimone/runtimex"
)

// Method is an HTTP method supported by [*Client].
type Method string

const (
	MethodGet    Method = "GET"
	MethodPut    Method = "PUT"
	MethodPost   Method = "POST"
	MethodDelete Method = "DELETE"
)

// RequestInfo describes a request. Hooks receive it as request metadata and
// must not modify it.
type RequestInfo struct {
	// Target is the request URL.
	Target string

	// Method is the request method; empty means GET.
	Method Method

	// Headers contains the request headers.
	Headers map[string]string

	// Body is nil, []byte, string or any JSON-encodable value.
	Body any

	// JSONRequest forces JSON encoding of string bodies.
	JSONRequest bool

	// JSONResponse decodes the response body into [Response.JSON].
	JSONResponse bool
}

// WrapNetworkRequestFunc wraps the execution closure of a request.
//
// It receives the closure built so far and returns the closure to use
// instead, e.g. one adding retries or telemetry around next, or one that
// never calls next at all.
type WrapNetworkRequestFunc func(next Func[Unit, *Response], info *RequestInfo) Func[Unit, *Response]

// Options contains the per-call options of the [*Client] verbs.
//
// A nil *Options is equivalent to the zero value.
type Options struct {
	// Headers contains the request headers.
	Headers map[string]string

	// JSONRequest forces JSON encoding of string bodies.
	JSONRequest bool

	// JSONResponse decodes the response body as JSON (see [*Client.Request]).
	JSONResponse bool

	// CustomErrorMessage optionally overrides the headline of classified failures.
	CustomErrorMessage CustomErrorMessageFunc

	// WrapNetworkRequest wraps the execution closure before [Config.Hooks] do.
	// Setting it disables the response cache of [*Client.Get].
	WrapNetworkRequest WrapNetworkRequestFunc
}

// Client is the entry point of the request pipeline.
//
// A Client should be created once per process and shared: its caches, agents
// and concurrency limiter are only effective when shared. It is safe for
// concurrent use.
//
// Construct using [New].
type Client struct {
	// Config is the process-wide configuration.
	Config *Config

	// Executor runs the requests.
	//
	// Set by [New] to a new [*RequestExecutor].
	Executor *RequestExecutor

	// Responses caches the bodies returned by [*Client.Get].
	//
	// Set by [New] to a new [*ResponseCache].
	Responses *ResponseCache
}

// New returns a new [*Client].
//
// The cfg argument contains the process-wide configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func New(cfg *Config, logger SLogger) *Client {
	runtimex.Assert(cfg != nil)
	return &Client{
		Config:    cfg,
		Executor:  NewRequestExecutor(cfg, logger),
		Responses: NewResponseCache(cfg),
	}
}

// Close closes the idle connections kept alive by the client's agents.
//
// The client remains usable afterwards.
func (c *Client) Close() error {
	c.Executor.agents.closeIdle()
	return nil
}

// Request performs a request through the hook chain.
//
// The execution closure is wrapped first by opts.WrapNetworkRequest, then by
// each of [Config.Hooks] in order, and the outermost closure is invoked.
// Failures are returned unclassified; the other verbs classify them with
// [ClassifyNetworkError].
func (c *Client) Request(ctx context.Context, method Method, target string, body any, opts *Options) (*Response, error) {
	if opts == nil {
		opts = &Options{}
	}
	info := &RequestInfo{
		Target:       target,
		Method:       method,
		Headers:      maps.Clone(opts.Headers),
		Body:         body,
		JSONRequest:  opts.JSONRequest,
		JSONResponse: opts.JSONResponse,
	}

	fn := Apply[*RequestInfo, *Response](c.Executor, info)
	if opts.WrapNetworkRequest != nil {
		fn = opts.WrapNetworkRequest(fn, info)
	}
	for _, hook := range c.Config.Hooks {
		fn = hook(fn, info)
	}
	return fn.Call(ctx, Unit{})
}

// Get returns the body of a GET request to target.
//
// Unless opts.WrapNetworkRequest is set, bodies are cached by target for the
// lifetime of the client and concurrent calls for the same target share a
// single request. The cache key ignores headers and opts.JSONResponse; the
// body is always fetched raw, use [*Client.GetJSON] to decode it.
func (c *Client) Get(ctx context.Context, target string, opts *Options) ([]byte, error) {
	if opts == nil {
		opts = &Options{}
	}
	raw := *opts
	raw.JSONResponse = false

	run := func(ctx context.Context) ([]byte, error) {
		resp, err := c.Request(ctx, MethodGet, target, nil, &raw)
		if err != nil {
			return nil, ClassifyNetworkError(err, opts.CustomErrorMessage)
		}
		return resp.Body, nil
	}
	if opts.WrapNetworkRequest != nil {
		return run(ctx)
	}
	return c.Responses.GetOrFetch(ctx, target, run)
}

// GetJSON is like [*Client.Get] but decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, target string, opts *Options, v any) error {
	body, err := c.Get(ctx, target, opts)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// Put performs a PUT request and returns the response body.
func (c *Client) Put(ctx context.Context, target string, body any, opts *Options) ([]byte, error) {
	return c.send(ctx, MethodPut, target, body, opts)
}

// Post performs a POST request and returns the response body.
func (c *Client) Post(ctx context.Context, target string, body any, opts *Options) ([]byte, error) {
	return c.send(ctx, MethodPost, target, body, opts)
}

// Delete performs a DELETE request and returns the response body.
func (c *Client) Delete(ctx context.Context, target string, opts *Options) ([]byte, error) {
	return c.send(ctx, MethodDelete, target, nil, opts)
}

func (c *Client) send(ctx context.Context, method Method, target string, body any, opts *Options) ([]byte, error) {
	var custom CustomErrorMessageFunc
	if opts != nil {
		custom = opts.CustomErrorMessage
	}
	resp, err := c.Request(ctx, method, target, body, opts)
	if err != nil {
		return nil, ClassifyNetworkError(err, custom)
	}
	return resp.Body, nil
}
