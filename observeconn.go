//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/conn.go
//

package reqflow

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
)

// observedConn wraps the connections dialed by the agents.
//
// Keep-alive connections outlive the requests they serve, so besides logging
// each read and write it accounts the bytes exchanged over its whole lifetime
// and reports them when the pool closes it.
//
// Each Read first pushes the read deadline readTimeout into the future, so a
// peer that stops sending (for example in the middle of a response body)
// fails the read with a timeout instead of holding the connection forever.
type observedConn struct {
	net.Conn
	closeonce     sync.Once
	errClassifier ErrClassifier
	laddr         string
	logger        SLogger
	protocol      string
	raddr         string
	readTimeout   time.Duration
	t0            time.Time
	timeNow       func() time.Time

	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

func newObservedConn(cfg *Config, logger SLogger, conn net.Conn) *observedConn {
	return &observedConn{
		Conn:          conn,
		errClassifier: cfg.ErrClassifier,
		laddr:         safeconn.LocalAddr(conn),
		logger:        logger,
		protocol:      safeconn.Network(conn),
		raddr:         safeconn.RemoteAddr(conn),
		readTimeout:   cfg.HTTPTimeout,
		t0:            cfg.TimeNow(),
		timeNow:       cfg.TimeNow,
	}
}

// Close implements [net.Conn].
//
// Subsequent calls return [net.ErrClosed], consistent with Go's standard
// library behavior for closed connections.
func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		err = c.Conn.Close()
		c.logger.Info(
			"connClose",
			slog.Int64("bytesRead", c.bytesRead.Load()),
			slog.Int64("bytesWritten", c.bytesWritten.Load()),
			slog.Any("err", err),
			slog.String("errClass", c.errClassifier.Classify(err)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", c.raddr),
			slog.Time("t0", c.t0),
			slog.Time("t", c.timeNow()),
		)
	})
	return
}

// Read implements [net.Conn].
func (c *observedConn) Read(buf []byte) (int, error) {
	t0 := c.timeNow()
	if c.readTimeout > 0 {
		// socket deadlines need the wall clock, not the configured one
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			c.logIO("readDone", len(buf), 0, t0, err)
			return 0, err
		}
	}
	count, err := c.Conn.Read(buf)
	c.bytesRead.Add(int64(count))
	c.logIO("readDone", len(buf), count, t0, err)
	return count, err
}

// Write implements [net.Conn].
func (c *observedConn) Write(data []byte) (int, error) {
	t0 := c.timeNow()
	count, err := c.Conn.Write(data)
	c.bytesWritten.Add(int64(count))
	c.logIO("writeDone", len(data), count, t0, err)
	return count, err
}

func (c *observedConn) logIO(message string, size, count int, t0 time.Time, err error) {
	c.logger.Debug(
		message,
		slog.Int("ioBufferSize", size),
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", c.errClassifier.Classify(err)),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t0", t0),
		slog.Time("t", c.timeNow()),
	)
}
