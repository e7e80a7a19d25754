// Package redisserver provides the line-protocol server for tokvaultd.
//
// It multiplexes clients over a fixed-size worker pool, parses the
// CRLF-terminated text protocol described in §6, and dispatches each
// command to the shared storage engine under its own serializing lock.
//
// @req RQ-0303
// @design DS-0301
package redisserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/tokvault/tokvaultd/internal/storage"
	"github.com/tokvault/tokvaultd/internal/telemetry/metric"
	"github.com/tokvault/tokvaultd/pkg/cmap"
)

// Config holds the line-protocol server configuration.
type Config struct {
	// ListenAddr is the address the server listens on.
	ListenAddr string
	// MaxConnections sizes the fixed worker pool (one worker per
	// concurrently served connection, per §5).
	MaxConnections int
	// ReadTimeout bounds reading a single command line (slowloris guard).
	ReadTimeout time.Duration
	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration
	// IdleTimeout closes a connection that sends nothing for this long.
	IdleTimeout time.Duration
	// RateLimit caps commands per second per remote IP. Zero disables it.
	RateLimit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     "0.0.0.0:6379",
		MaxConnections: 1000,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    5 * time.Minute,
		RateLimit:      0,
	}
}

// Conn represents a single client connection and its transaction depth.
type Conn struct {
	id      string
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer

	txDepth int

	closed atomic.Bool
}

func newConn(c net.Conn) *Conn {
	return &Conn{
		id:      ulid.Make().String(),
		netConn: c,
		br:      bufio.NewReader(c),
		bw:      bufio.NewWriter(c),
	}
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// Server is the line-protocol server. Accepted connections are served by
// a fixed pool of MaxConnections worker goroutines, each looping on the
// shared listener's Accept, per §5's scheduling model.
type Server struct {
	cfg     *Config
	engine  *storage.Engine
	handler *CommandHandler
	logger  *slog.Logger

	limiters *cmap.Map[string, *rate.Limiter]
	conns    *cmap.Map[string, *Conn]

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a new line-protocol server bound to engine.
func New(cfg *Config, engine *storage.Engine, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		cfg:      cfg,
		engine:   engine,
		handler:  NewCommandHandler(engine),
		logger:   logger,
		limiters: cmap.New[string, *rate.Limiter](),
		conns:    cmap.New[string, *Conn](),
	}
}

// ActiveConnections returns the number of connections currently being served.
func (s *Server) ActiveConnections() int {
	return s.conns.Count()
}

// Start starts the worker pool and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)

	workers := s.cfg.MaxConnections
	if workers <= 0 {
		workers = 1
	}

	s.logger.Info("line protocol server listening", "address", s.cfg.ListenAddr, "workers", workers)

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.workerLoop(ctx, ln)
		}()
	}

	return nil
}

// workerLoop is one member of the fixed worker pool: it blocks on Accept
// and serves one connection at a time, looping until the listener closes.
func (s *Server) workerLoop(ctx context.Context, ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		s.serveConn(ctx, newConn(c))
	}
}

// Shutdown stops accepting connections and waits for in-flight workers to
// finish their current connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return err
}

func (s *Server) serveConn(ctx context.Context, c *Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("worker panic recovered", "remote", c.RemoteAddr(), "panic", r)
		}
		s.conns.Delete(c.id)
		if c.txDepth > 0 {
			s.engine.DropTransaction()
		}
		c.Close()
	}()

	s.conns.Set(c.id, c)

	host, _, _ := net.SplitHostPort(c.RemoteAddr().String())
	limiter := s.limiterFor(host)

	for {
		if err := c.netConn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		if _, err := c.br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			return
		}

		if err := c.netConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return
		}

		args, err := ReadCommand(c.br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = WriteLine(c.bw, "ERR protocol error: "+err.Error())
			_ = c.bw.Flush()
			return
		}
		if len(args) == 0 {
			continue
		}

		if limiter != nil && !limiter.Allow() {
			_ = c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = WriteLine(c.bw, "ERR rate limit exceeded")
			_ = c.bw.Flush()
			continue
		}

		_ = ctx // reserved for future cancellation integration
		start := time.Now()
		lines := s.handler.Handle(c, args)
		recordCommandMetrics(args[0], lines, time.Since(start))

		if err := c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return
		}
		if err := WriteLines(c.bw, lines); err != nil {
			return
		}
		if err := c.bw.Flush(); err != nil {
			return
		}
	}
}

// recordCommandMetrics reports request counters/latency for the "line"
// protocol, classifying the response status by its first reply line.
func recordCommandMetrics(command string, lines []string, elapsed time.Duration) {
	status := "ok"
	if len(lines) > 0 && strings.HasPrefix(lines[0], "ERR") {
		status = "error"
	}
	metric.RequestsTotal.WithLabelValues("line", strings.ToUpper(command), status).Inc()
	metric.RequestDuration.WithLabelValues("line").Observe(elapsed.Seconds())
}

func (s *Server) limiterFor(host string) *rate.Limiter {
	if s.cfg.RateLimit <= 0 {
		return nil
	}
	l, _ := s.limiters.GetOrSet(host, rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateLimit))
	return l
}
