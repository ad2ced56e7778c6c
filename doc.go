// SPDX-License-Identifier: GPL-3.0-or-later

// Package reqflow is the network request layer of a dependency-update tool.
//
// # Core Abstraction
//
// Like every stage of the pipeline, a request is a [Func]:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// The [*RequestExecutor] is a Func[*RequestInfo, *Response] composed of a
// preparation stage (policy, body encoding, TLS material, agent selection) and
// a dispatch stage (concurrency slot, [Transport] call). The [*Client] binds
// the request to the executor with [Apply] and lets hooks wrap the resulting
// Func[Unit, *Response] before invoking it.
//
// # Request Flow
//
// For each request:
//
//  1. [ResolveNetworkSettings] computes the [NetworkSettings] of the target
//     hostname from the glob rules in [Config.NetworkSettings], the most
//     specific pattern first, falling back to [Config.Defaults].
//  2. Requests to hostnames with the network disabled, and plain http requests
//     to hostnames missing from [Config.UnsafeHTTPWhitelist], fail with a
//     [*ReportError] without touching the network.
//  3. TLS material named by the settings is loaded once per path through the
//     [*FileCache] and selects a keep-alive agent; proxied requests get a
//     dedicated agent.
//  4. The [Transport] runs while holding a [NetworkConcurrency] slot.
//  5. The verbs of [*Client] turn transport failures into [*ReportError]
//     values with [ClassifyNetworkError].
//
// [*Client.Get] additionally shares a single request among concurrent callers
// for the same target and caches successful bodies in a [*ResponseCache].
//
// # Hooks
//
// A [WrapNetworkRequestFunc] receives the execution closure and returns a new
// one. The per-call [Options.WrapNetworkRequest] wraps first, then each of
// [Config.Hooks] in order, so the last registered hook runs outermost. A hook
// may skip the network entirely by returning [ConstFunc].
//
// # Observability
//
// All components support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled.
//
// Components emit span events (*Start/*Done pairs) at [slog.LevelInfo] and
// supporting events at [slog.LevelDebug]. Every event concerning a request
// carries the same spanID, generated with [NewSpanID]. Completion events
// include t0, t, err and errClass, where errClass comes from [ErrClassifier].
//
// Connections dialed by the client also log connectStart/connectDone and
// tlsHandshakeStart/tlsHandshakeDone, and since keep-alive connections
// outlive requests, connClose reports the bytes exchanged over their lifetime.
//
// Setting [Config.Metrics] to a [*MetricsCollector] exports Prometheus
// metrics about requests, policy blocks, limiter waits and caches.
//
// # Configuration
//
// [NewConfig] returns sensible defaults. [LoadConfigFile] reads them from a
// JSON, YAML or TOML file with REQFLOW_ environment overrides.
package reqflow
