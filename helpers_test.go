// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/spf13/afero"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned recorder. The caller can inspect the records after exercising the
// code under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *recordSink) {
	sink := &recordSink{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			sink.add(record)
			return nil
		},
	}
	return slog.New(handler), sink
}

// recordSink collects records from concurrent goroutines.
type recordSink struct {
	mu      sync.Mutex
	records []slog.Record
}

func (s *recordSink) add(record slog.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

// messages returns the message of each captured record, in order.
func (s *recordSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, record := range s.records {
		out = append(out, record.Message)
	}
	return out
}

// find returns the first record with the given message.
func (s *recordSink) find(message string) (slog.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.Message == message {
			return record, true
		}
	}
	return slog.Record{}, false
}

// recordAttrs flattens the attributes of record into a map.
func recordAttrs(record slog.Record) map[string]slog.Value {
	attrs := make(map[string]slog.Value)
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value
		return true
	})
	return attrs
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc,
// RemoteAddrFunc, CloseFunc and SetReadDeadFunc set. This is the minimum
// needed for code that calls [safeconn.LocalAddr], [safeconn.RemoteAddr],
// and [safeconn.Network], reads through an [*observedConn] and later closes
// the connection.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:   func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		CloseFunc:       func() error { return nil },
		SetReadDeadFunc: func(time.Time) error { return nil },
	}
}

// newTestConfig returns a [*Config] suitable for tests: a fixed clock,
// no retry delays worth waiting for and an empty in-memory filesystem.
func newTestConfig() *Config {
	cfg := NewConfig()
	cfg.TimeNow = func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	cfg.FS = afero.NewMemMapFs()
	return cfg
}

// transportFunc adapts a function to the [Transport] interface.
type transportFunc func(ctx context.Context, req *TransportRequest) (*Response, error)

func (f transportFunc) RoundTrip(ctx context.Context, req *TransportRequest) (*Response, error) {
	return f(ctx, req)
}

// dialerFunc adapts a function to the [Dialer] interface.
type dialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}
