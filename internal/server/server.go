// Package server implements the daemon: it owns the disk cache and a
// command executor, accepts client connections on an ephemeral local
// port, dispatches each request through the compile pipeline, and
// manages its own lifecycle (idle-timeout self-shutdown, explicit
// shutdown command).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/posix4e/sccache/internal/cache"
	"github.com/posix4e/sccache/internal/compiler"
	"github.com/posix4e/sccache/internal/metrics"
	"github.com/posix4e/sccache/internal/protocol"
	"github.com/posix4e/sccache/internal/runner"
)

// Config holds the server's runtime options.
type Config struct {
	// Port to bind on the loopback interface; 0 picks an ephemeral port
	Port int

	// IdleTimeout is how long the daemon waits without requests before
	// shutting itself down; 0 disables the idle timeout
	IdleTimeout time.Duration
}

// Server is the daemon instance. It serves until an idle timeout
// expires or Shutdown is called, draining in-flight requests before
// returning.
type Server struct {
	cfg      Config
	listener net.Listener
	cache    *cache.Cache
	pipeline *compiler.Pipeline
	stats    *Stats
	recorder *metrics.Recorder
	logger   *slog.Logger

	// control is closed exactly once to begin shutdown
	control      chan struct{}
	shutdownOnce sync.Once

	// activity pings the run loop when a request completes
	activity chan struct{}

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New binds the listening socket and wires the pipeline. The cache and
// runner are shared by every request the server handles, including
// compiler-detection probes.
func New(cfg Config, c *cache.Cache, r runner.Runner, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind server socket: %w", err)
	}

	rec := metrics.NewRecorder(nil)

	return &Server{
		cfg:      cfg,
		listener: ln,
		cache:    c,
		pipeline: compiler.NewPipeline(r, c, logger),
		stats:    newStats(rec),
		recorder: rec,
		logger:   logger.With(slog.String("component", "server")),
		control:  make(chan struct{}),
		activity: make(chan struct{}, 1),
	}, nil
}

// Port returns the bound port, for reporting back to whoever started
// the daemon.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Shutdown begins shutdown. Safe to call from any goroutine, any number
// of times.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.control)
	})
}

// Run accepts and serves connections until shutdown, then drains
// in-flight requests and returns.
func (s *Server) Run() error {
	s.logger.Info("listening", slog.Int("port", s.Port()))

	conns := make(chan net.Conn)
	go s.acceptLoop(conns)

	var (
		idle  *time.Timer
		idleC <-chan time.Time
	)
	if s.cfg.IdleTimeout > 0 {
		idle = time.NewTimer(s.cfg.IdleTimeout)
		idleC = idle.C
		defer idle.Stop()
	}

	resetIdle := func() {
		if idle == nil {
			return
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.cfg.IdleTimeout)
	}

loop:
	for {
		select {
		case conn, ok := <-conns:
			if !ok {
				// Listener failed underneath us
				break loop
			}
			resetIdle()
			s.wg.Add(1)
			s.inFlight.Add(1)
			go s.handleConn(conn)

		case <-s.activity:
			resetIdle()

		case <-idleC:
			if s.inFlight.Load() > 0 {
				// A request is still being serviced; not idle yet
				idle.Reset(s.cfg.IdleTimeout)
				continue
			}
			s.logger.Info("idle timeout expired, shutting down")
			s.Shutdown()

		case <-s.control:
			break loop
		}
	}

	// Stop accepting, then let in-flight requests finish.
	_ = s.listener.Close()
	s.wg.Wait()

	s.logger.Info("server stopped")

	return nil
}

// acceptLoop feeds accepted connections to the run loop. It quits when
// the listener closes or shutdown begins.
func (s *Server) acceptLoop(conns chan<- net.Conn) {
	defer close(conns)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		select {
		case conns <- conn:
		case <-s.control:
			_ = conn.Close()
			return
		}
	}
}

// handleConn serves a single request/response exchange. Protocol errors
// are fatal to this connection only, never to the daemon.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.inFlight.Add(-1)
		s.notifyActivity()
		s.wg.Done()
	}()

	codec := protocol.NewCodec(conn)

	req, err := codec.ReadRequest()
	if err != nil {
		s.logger.Warn("dropping connection", slog.Any("error", err))
		return
	}

	switch req.Type {
	case protocol.RequestCompile:
		if req.Compile == nil {
			s.logger.Warn("compile request without payload")
			return
		}
		s.handleCompile(codec, req.Compile)

	case protocol.RequestStats:
		err := codec.WriteResponse(&protocol.Response{
			Type:  protocol.ResponseStats,
			Stats: s.stats.snapshot(s.cache),
		})
		if err != nil {
			s.logger.Warn("failed to send stats", slog.Any("error", err))
		}

	case protocol.RequestShutdown:
		// Acknowledge before tearing down so the client is not left
		// hanging on a closed socket.
		if err := codec.WriteResponse(&protocol.Response{Type: protocol.ResponseShutdownAck}); err != nil {
			s.logger.Warn("failed to ack shutdown", slog.Any("error", err))
		}
		s.logger.Info("shutdown requested")
		s.Shutdown()

	default:
		s.logger.Warn("unknown request type", slog.String("type", string(req.Type)))
	}
}

// handleCompile runs one compile request through the pipeline and
// relays the result.
func (s *Server) handleCompile(codec *protocol.Codec, req *protocol.CompileRequest) {
	s.stats.recordRequest()

	res := s.pipeline.Compile(context.Background(), compiler.Request{
		Exe:        req.Exe,
		Args:       req.Args,
		Cwd:        req.Cwd,
		SearchPath: req.SearchPath,
	})

	s.stats.recordOutcome(res.Outcome)

	err := codec.WriteResponse(&protocol.Response{
		Type: protocol.ResponseCompileFinished,
		Compile: &protocol.CompileFinished{
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		},
	})
	if err != nil {
		s.logger.Warn("failed to send compile response", slog.Any("error", err))
	}
}

// notifyActivity nudges the run loop to reset the idle timer.
func (s *Server) notifyActivity() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}
