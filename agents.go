//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package reqflow

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
	"golang.org/x/net/http2"
)

// ErrInvalidTLSMaterial indicates unusable CA, certificate or key contents.
var ErrInvalidTLSMaterial = errors.New("reqflow: invalid TLS material")

// tlsPaths identifies the TLS files named by resolved settings.
type tlsPaths struct {
	ca   string
	cert string
	key  string
}

func (p tlsPaths) empty() bool {
	return p == tlsPaths{}
}

// tlsMaterial is the content of the files named by [tlsPaths].
type tlsMaterial struct {
	paths tlsPaths
	ca    []byte
	cert  []byte
	key   []byte
}

// agents owns the connection pools used by the executor.
//
// The plain and TLS keep-alive transports are shared by every request that
// has neither a proxy nor custom TLS material. Requests naming TLS files
// share a keep-alive transport per distinct set of paths. Proxied requests
// get a short-lived transport without keep-alives.
type agents struct {
	cfg    *Config
	logger SLogger

	httpAgent  *http.Transport
	httpsAgent *http.Transport

	mu        sync.Mutex
	tlsAgents map[tlsPaths]*http.Transport
}

func newAgents(cfg *Config, logger SLogger) *agents {
	a := &agents{cfg: cfg, logger: logger, tlsAgents: make(map[tlsPaths]*http.Transport)}
	a.httpAgent = a.newTransport(nil, nil)
	a.httpsAgent = a.newTransport(a.baseTLSConfig(), nil)
	return a
}

// newTransport creates a transport; proxyURL nil means a direct keep-alive one.
func (a *agents) newTransport(tlsConfig *tls.Config, proxyURL *url.URL) *http.Transport {
	txp := &http.Transport{
		DialContext:           a.dialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   a.cfg.HTTPTimeout,
		ResponseHeaderTimeout: a.cfg.HTTPTimeout,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if proxyURL != nil {
		txp.Proxy = http.ProxyURL(proxyURL)
		txp.DisableKeepAlives = true
		return txp
	}
	// A custom TLSClientConfig disables the implicit HTTP/2 upgrade.
	_, err := http2.ConfigureTransports(txp)
	runtimex.Assert(err == nil)
	return txp
}

// dialContext dials address within [Config.HTTPTimeout].
func (a *agents) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.HTTPTimeout)
	defer cancel()

	t0 := a.cfg.TimeNow()
	deadline, _ := ctx.Deadline()
	a.logConnectStart(network, address, t0, deadline)
	conn, err := a.cfg.Dialer.DialContext(ctx, network, address)
	a.logConnectDone(network, address, t0, deadline, conn, err)
	if err != nil {
		return nil, err
	}
	return newObservedConn(a.cfg, a.logger, conn), nil
}

func (a *agents) logConnectStart(network, address string, t0 time.Time, deadline time.Time) {
	a.logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", network),
		slog.String("remoteAddr", address),
		slog.Time("t", t0),
	)
}

func (a *agents) logConnectDone(
	network, address string, t0 time.Time, deadline time.Time, conn net.Conn, err error) {
	a.logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", a.cfg.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", network),
		slog.String("remoteAddr", address),
		slog.Time("t0", t0),
		slog.Time("t", a.cfg.TimeNow()),
	)
}

func (a *agents) baseTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: !a.cfg.EnableStrictSSL, // #nosec G402 -- user-controlled enableStrictSsl
	}
}

// tlsConfig returns the TLS configuration carrying the given material.
func (a *agents) tlsConfig(m tlsMaterial) (*tls.Config, error) {
	config := a.baseTLSConfig()
	if len(m.ca) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(m.ca) {
			return nil, fmt.Errorf("%w: no PEM certificates in %s", ErrInvalidTLSMaterial, m.paths.ca)
		}
		config.RootCAs = pool
	}
	switch {
	case len(m.cert) > 0 && len(m.key) > 0:
		pair, err := tls.X509KeyPair(m.cert, m.key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTLSMaterial, err)
		}
		config.Certificates = []tls.Certificate{pair}
	case len(m.cert) > 0 || len(m.key) > 0:
		return nil, fmt.Errorf("%w: httpsCertFilePath and httpsKeyFilePath must be set together", ErrInvalidTLSMaterial)
	}
	return config, nil
}

// forRequest selects the agent for target given the resolved settings.
func (a *agents) forRequest(target *url.URL, settings NetworkSettings, m tlsMaterial) (http.RoundTripper, error) {
	proxy := settings.HTTPProxy
	if target.Scheme == "https" {
		proxy = settings.HTTPSProxy
	}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("reqflow: invalid proxy URL %q: %w", proxy, err)
		}
		tlsConfig, err := a.tlsConfig(m)
		if err != nil {
			return nil, err
		}
		return a.newTransport(tlsConfig, proxyURL), nil
	}

	if target.Scheme != "https" {
		return a.httpAgent, nil
	}
	if m.paths.empty() {
		return a.httpsAgent, nil
	}
	return a.forTLSMaterial(m)
}

func (a *agents) forTLSMaterial(m tlsMaterial) (http.RoundTripper, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if txp, ok := a.tlsAgents[m.paths]; ok {
		return txp, nil
	}
	tlsConfig, err := a.tlsConfig(m)
	if err != nil {
		return nil, err
	}
	txp := a.newTransport(tlsConfig, nil)
	a.tlsAgents[m.paths] = txp
	return txp, nil
}

// closeIdle closes the idle connections of every keep-alive transport.
func (a *agents) closeIdle() {
	a.httpAgent.CloseIdleConnections()
	a.httpsAgent.CloseIdleConnections()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, txp := range a.tlsAgents {
		txp.CloseIdleConnections()
	}
}
