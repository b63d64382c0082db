package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/compcache"
)

// Config holds the server's tunables.
type Config struct {
	// Addr is the listen address. Defaults to a loopback-only
	// ephemeral port.
	Addr string
	// IdleTimeout shuts the server down after this long without a
	// request, provided no request is still in flight. Zero disables
	// idle shutdown.
	IdleTimeout time.Duration
	// Logger for connection and lifecycle events. Defaults to a
	// discarding logger.
	Logger *compcache.Logger
}

// Server accepts connections and dispatches requests to the
// orchestrator. Each connection is served by its own goroutine; the
// orchestrator bounds the expensive work, so the server does not.
type Server struct {
	orch *compcache.Orchestrator
	ln   net.Listener
	log  *compcache.Logger

	idleTimeout time.Duration

	// activity tracks in-flight requests and the time of the last
	// completed one, feeding the idle-shutdown decision.
	active   atomic.Int64
	lastBusy atomic.Int64 // unix nanos

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	connWG sync.WaitGroup
}

// New creates a server and binds its listener immediately, so the
// caller can learn the bound address before Serve runs.
func New(orch *compcache.Orchestrator, cfg Config) (*Server, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", addr, err)
	}

	log := cfg.Logger
	if log == nil {
		log = compcache.NoopLogger()
	}

	s := &Server{
		orch:        orch,
		ln:          ln,
		log:         log.WithComponent("server"),
		idleTimeout: cfg.IdleTimeout,
		shutdownCh:  make(chan struct{}),
	}
	s.lastBusy.Store(time.Now().UnixNano())

	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until Shutdown is called or the idle
// timeout fires. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("serving", "addr", s.ln.Addr().String(), "idle_timeout", s.idleTimeout)

	if s.idleTimeout > 0 {
		go s.watchIdle()
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.shutdownCh:
		}
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				s.connWG.Wait()
				s.log.Info("shut down")
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		s.connWG.Add(1)

		go s.serveConn(conn)
	}
}

// Shutdown stops accepting connections. In-flight requests are allowed
// to finish; Serve returns once they have.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		_ = s.ln.Close()
	})
}

// watchIdle terminates the server when no request has been seen for
// the configured timeout and nothing is in flight. A request arriving
// resets the clock.
func (s *Server) watchIdle() {
	tick := time.NewTicker(s.idleTimeout / 4)
	defer tick.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-tick.C:
			if s.active.Load() > 0 {
				continue
			}

			idle := time.Since(time.Unix(0, s.lastBusy.Load()))
			if idle >= s.idleTimeout {
				s.log.Info("idle timeout reached, shutting down", "idle", idle)
				s.Shutdown()

				return
			}
		}
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.connWG.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	// A connection dies with the server, but requests already being
	// processed run to completion via connWG.
	go func() {
		select {
		case <-s.shutdownCh:
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && !isClosedConn(err) {
				s.log.Debug("connection read failed", "error", err)
			}

			return
		}

		resp := s.handle(context.Background(), &req)
		if err := writeFrame(conn, resp); err != nil {
			s.log.Debug("connection write failed", "error", err)
			return
		}

		if req.Kind == KindShutdown {
			s.Shutdown()
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, req *Request) *Response {
	s.active.Add(1)
	defer func() {
		s.lastBusy.Store(time.Now().UnixNano())
		s.active.Add(-1)
	}()

	resp := &Response{Kind: req.Kind}

	switch req.Kind {
	case KindCompile:
		if req.Invocation == nil {
			resp.Error = "compile request without invocation"
			return resp
		}

		r, err := s.orch.Compile(ctx, *req.Invocation)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}

		resp.Compile = &CompileReply{Result: r.Result, Hit: r.Hit, Cached: r.Cached}
	case KindStats:
		snap := s.orch.Stats().Snapshot()
		resp.Stats = &snap
	case KindZeroStats:
		s.orch.Stats().Zero()

		snap := s.orch.Stats().Snapshot()
		resp.Stats = &snap
	case KindShutdown:
		// Acknowledged here; the connection loop triggers the actual
		// shutdown after the reply is written.
	default:
		resp.Error = fmt.Sprintf("unknown request kind %q", req.Kind)
	}

	return resp
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
