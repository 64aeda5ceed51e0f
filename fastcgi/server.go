package fastcgi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/go-fcgi/fcgiserver/handler"
)

// Config carries the Server Core's configuration knobs from spec §4.7.
// Zero values fall back to DefaultConfig's defaults via NewServer.
type Config struct {
	// Network is "tcp", "tcp4", "tcp6", or "unix".
	Network string
	// Address is a "host:port" for TCP networks or a filesystem path for
	// "unix".
	Address string

	// MaxConns bounds the number of simultaneously accepted connections.
	// Connections beyond this are queued (accept is simply not called)
	// rather than dropped.
	MaxConns int
	// MaxReqs is advisory: it is only surfaced via GET_VALUES_RESULT
	// replies, not enforced as a hard per-connection request cap.
	MaxReqs int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the spec's documented defaults: maxConns 100,
// maxReqs 100, no read/write timeout.
func DefaultConfig() Config {
	return Config{MaxConns: 100, MaxReqs: 100}
}

// Server is the FastCGI Server Core: it listens on a TCP or Unix endpoint,
// spawns a Conn per accepted connection (bounded by MaxConns), and
// supervises them for graceful shutdown.
type Server struct {
	cfg     Config
	handler handler.Func
	log     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}
	closed   bool

	group *errgroup.Group
	sem   chan struct{}
}

// NewServer creates a Server for fn with cfg, filling in zero-valued knobs
// from DefaultConfig.
func NewServer(cfg Config, fn handler.Func, logger *zap.Logger) *Server {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultConfig().MaxConns
	}
	if cfg.MaxReqs <= 0 {
		cfg.MaxReqs = DefaultConfig().MaxReqs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		handler: fn,
		log:     logger,
		conns:   make(map[*Conn]struct{}),
		sem:     make(chan struct{}, cfg.MaxConns),
	}
}

// ListenAndServe binds the configured endpoint and accepts connections
// until ctx is cancelled or Shutdown is called. It blocks until the accept
// loop exits and every connection it started has finished.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return fmt.Errorf("fastcgi: listen %s/%s: %w", s.cfg.Network, s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on an already-bound listener. Server takes
// ownership of ln and closes it on Shutdown or when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	// The listener closer stays outside the group so that Wait only waits
	// for connections; gctx is cancelled when ctx is or when Wait returns.
	go func() {
		<-gctx.Done()
		_ = s.closeListener()
	}()

	s.log.Info("fastcgi server listening", zap.String("network", s.cfg.Network), zap.String("address", s.cfg.Address))

	for {
		// MaxConns throttling: block acquiring a slot before Accept so the
		// server never holds more than MaxConns live connections, per
		// spec §4.7 ("must not crash" — here it backpressures instead).
		select {
		case s.sem <- struct{}{}:
		case <-gctx.Done():
			return s.wait()
		}

		conn, err := ln.Accept()
		if err != nil {
			<-s.sem
			if s.isShuttingDown() {
				return s.wait()
			}
			s.log.Warn("accept error", zap.Error(err))
			continue
		}

		c := newConn(conn, connOptions{
			maxReqs:      s.cfg.MaxReqs,
			maxConns:     s.cfg.MaxConns,
			readTimeout:  s.cfg.ReadTimeout,
			writeTimeout: s.cfg.WriteTimeout,
			handler:      s.handler,
			logger:       s.log,
		})

		s.trackConn(c)
		group.Go(func() error {
			defer func() { <-s.sem }()
			defer s.untrackConn(c)
			c.serve()
			return nil
		})
	}
}

func (s *Server) trackConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrackConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) closeListener() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) wait() error {
	if s.group == nil {
		return nil
	}
	err := s.group.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections, closes every live connection,
// waits for their in-flight handlers to finish, and then runs done (if
// non-nil) exactly once.
func (s *Server) Shutdown(ctx context.Context, done func()) error {
	if err := s.closeListener(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.nc.Close()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.wait() }()

	select {
	case err := <-errCh:
		if done != nil {
			done()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
