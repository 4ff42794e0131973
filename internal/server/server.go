// Package server implements the TCP Server (spec component C8): the
// Primary discovery dial-out and the single-threaded, blocking
// accept/dispatch loop that serves the wire protocol to one Primary
// connection at a time.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ironbridge-io/secondary-agent/internal/pkg/metrics"
	"github.com/ironbridge-io/secondary-agent/internal/wire"
	"github.com/ironbridge-io/secondary-agent/pkg/log"
)

// ErrRebootRequired is returned by Serve when a handler signalled
// wire.StatusRebootRequired: the connection was closed cleanly after
// sending its response, and the process must now exit so a supervisor
// can reboot it before the Primary retries.
var ErrRebootRequired = errors.New("server: reboot required")

// Server owns the Secondary's listening socket. It accepts and serves
// exactly one connection at a time, by design: a Secondary ECU has a
// single Primary, and pipelining concurrent installs makes no sense for
// a device that can only be in one lifecycle state at once.
type Server struct {
	listenAddr  string
	primaryAddr string

	discoveryTimeout    time.Duration
	discoveryMaxRetries int

	dispatcher *wire.Dispatcher

	listener net.Listener
	ready    chan struct{}
	stopping int32
}

func New(listenAddr, primaryAddr string, discoveryTimeout time.Duration, discoveryMaxRetries int, dispatcher *wire.Dispatcher) *Server {
	return &Server{
		listenAddr:          listenAddr,
		primaryAddr:         primaryAddr,
		discoveryTimeout:    discoveryTimeout,
		discoveryMaxRetries: discoveryMaxRetries,
		dispatcher:          dispatcher,
		ready:               make(chan struct{}),
	}
}

// Discover dials primaryAddr once to announce this ECU before the accept
// loop begins, mirroring the original implementation's pre-connection
// discovery step. The announcement is produced by the same
// message-dispatch pipeline that serves an ordinary getInfoReq rather
// than a bespoke wire format: the dial-out synthesizes a getInfoReq,
// runs it through the dispatcher, and writes the resulting getInfoResp
// before closing. A bounded exponential backoff absorbs the Primary not
// being up yet at boot. A blank primaryAddr disables discovery entirely
// (the Primary is then expected to dial this ECU cold).
func (s *Server) Discover(ctx context.Context) error {
	if s.primaryAddr == "" {
		return nil
	}

	attempt := func() error {
		conn, err := net.DialTimeout("tcp", s.primaryAddr, s.discoveryTimeout)
		if err != nil {
			return err
		}
		defer conn.Close()

		resp, _, herr := s.dispatcher.HandleMessage(&wire.Message{Tag: wire.TagGetInfoReq, GetInfoReq: &wire.GetInfoReq{}})
		if herr != nil {
			return backoff.Permanent(fmt.Errorf("building self-announcement: %w", herr))
		}
		return s.writeMessage(conn, resp)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.discoveryMaxRetries)), ctx)
	if err := backoff.Retry(attempt, bo); err != nil {
		return fmt.Errorf("server: discovery dial-out to %s failed: %w", s.primaryAddr, err)
	}
	log.Info("announced to primary", "primary", s.primaryAddr, "listen", s.listenAddr)
	return nil
}

// Addr blocks until the listening socket is bound and returns its
// address, letting callers discover an ephemeral port chosen with ":0".
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

// Serve opens the listening socket and runs the accept loop until Stop
// is called or a handler returns wire.StatusRebootRequired.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.listenAddr, err)
	}
	s.listener = lis
	close(s.ready)
	log.Info("accepting connections", "address", lis.Addr().String())

	for {
		conn, err := lis.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.stopping) == 1 {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		if atomic.LoadInt32(&s.stopping) == 1 {
			conn.Close()
			return nil
		}

		metrics.ConnectionsTotal.Inc()
		if s.serveConn(conn) {
			return ErrRebootRequired
		}
	}
}

// serveConn handles every message on one connection until the Primary
// closes it, a framing error occurs, or a handler requests a reboot.
func (s *Server) serveConn(conn net.Conn) (rebootRequired bool) {
	defer conn.Close()

	var buf wire.DequeueBuffer
	readBuf := make([]byte, 8192)

	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf.Write(readBuf[:n])
		}

		for {
			msg, derr := buf.TryDecode()
			if errors.Is(derr, wire.ErrIncomplete) {
				break
			}
			if derr != nil {
				log.Warn("malformed message, closing connection", "error", derr)
				return false
			}

			resp, status, herr := s.dispatcher.HandleMessage(msg)
			if herr != nil {
				log.Warn("handler error", "tag", msg.Tag, "error", herr)
				return false
			}

			if werr := s.writeMessage(conn, resp); werr != nil {
				log.Warn("write error", "error", werr)
				return false
			}

			if status == wire.StatusRebootRequired {
				return true
			}
		}

		if err != nil {
			if err != io.EOF {
				log.Warn("connection read error", "error", err)
			}
			return false
		}
	}
}

// writeMessage toggles TCP_NODELAY around the write, matching the
// original implementation's approach of disabling Nagle's algorithm only
// while flushing a response so small ASN.1 replies aren't held back
// waiting to coalesce with data that will never arrive.
func (s *Server) writeMessage(conn net.Conn, msg *wire.Message) error {
	encoded, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		defer tc.SetNoDelay(false)
	}
	_, err = conn.Write(encoded)
	return err
}

// Stop unblocks a pending Accept and causes Serve to return nil. It is
// safe to call from any goroutine and at most once effective.
func (s *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&s.stopping, 0, 1) {
		return
	}
	if s.listener == nil {
		return
	}
	addr := s.listener.Addr().String()
	_ = s.listener.Close()
	// Accept() on some platforms doesn't wake on a Close() from another
	// goroutine; a loopback self-connect guarantees it does.
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
	}
}
