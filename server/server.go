package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/gii/collector"
	"github.com/c360/gii/component"
	"github.com/c360/gii/connection"
	"github.com/c360/gii/errors"
	"github.com/c360/gii/metric"
	"github.com/c360/gii/pkg/worker"
	"github.com/c360/gii/resultdata"
	"github.com/c360/gii/variable"
)

// Config configures a Server
type Config struct {
	Address        string            `json:"address"`
	MaxConnections int               `json:"max_connections"`
	QueueSize      int               `json:"queue_size"`
	AcceptRate     float64           `json:"accept_rate"`
	AcceptBurst    int               `json:"accept_burst"`
	Connection     connection.Config `json:"connection"`

	// TLS wraps the listener when set
	TLS *tls.Config `json:"-"`
}

// DefaultConfig returns a loopback server configuration
func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1:4711",
		MaxConnections: 32,
		QueueSize:      64,
		AcceptRate:     50,
		AcceptBurst:    10,
		Connection:     connection.DefaultConfig(connection.RoleServer),
	}
}

// Validate checks the values are usable
func (c Config) Validate() error {
	if c.MaxConnections < 1 || c.QueueSize < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max connections %d, queue %d", errors.ErrInvalidConfig, c.MaxConnections, c.QueueSize),
			"Server", "Validate", "check pool sizes")
	}
	if c.AcceptRate <= 0 || c.AcceptBurst < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: accept rate %v burst %d", errors.ErrInvalidConfig, c.AcceptRate, c.AcceptBurst),
			"Server", "Validate", "check accept limiter")
	}
	return c.Connection.Validate()
}

// Deps holds what a Server works on. Coordinator is required, either space may be nil.
type Deps struct {
	Coordinator     *Coordinator
	Variables       *variable.Space
	Results         *resultdata.Space
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// HandshakeTimeout bounds the TLS handshake of an accepted connection
const HandshakeTimeout = 10 * time.Second

// session is one accepted stream and its connection
type session struct {
	id     string
	remote string
	conn   *connection.Connection
	tls    *tls.Conn
}

// Server accepts GII connections and runs each on a pool worker
type Server struct {
	cfg     Config
	coord   *Coordinator
	vars    *variable.Space
	results *resultdata.Space
	reg     *metric.MetricsRegistry
	metrics *metric.Metrics
	logger  *slog.Logger
	health  component.HealthTracker

	mu       sync.Mutex
	listener net.Listener
	pool     *worker.Pool[*session]
	sessions map[string]*session
	cancel   context.CancelFunc
	done     chan struct{}
	running  atomic.Bool
	accepted atomic.Int64
	rejected atomic.Int64
}

// New creates a server. Initialize and Start it to accept connections.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Coordinator == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil coordinator", errors.ErrInvalidConfig),
			"Server", "New", "check dependencies")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		coord:    deps.Coordinator,
		vars:     deps.Variables,
		results:  deps.Results,
		reg:      deps.MetricsRegistry,
		logger:   logger.With("component", "server"),
		sessions: make(map[string]*session),
	}
	if s.reg != nil {
		s.metrics = s.reg.CoreMetrics()
	}
	return s, nil
}

// Meta implements component.Discoverable
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "gii-server",
		Type:        "server",
		Description: "GII protocol server on " + s.cfg.Address,
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (s *Server) Health() component.HealthStatus {
	return s.health.Status()
}

// Initialize validates the configuration
func (s *Server) Initialize() error {
	if err := s.cfg.Validate(); err != nil {
		s.health.MarkFailed(err)
		return err
	}
	s.health.MarkInitialized()
	return nil
}

// Addr returns the listening address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections returns the number of live connections
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// TLSConfig returns the listener TLS configuration, nil for plain TCP
func (s *Server) TLSConfig() *tls.Config { return s.cfg.TLS }

// Stats returns accepted and rejected connection counts
func (s *Server) Stats() (accepted, rejected int64) {
	return s.accepted.Load(), s.rejected.Load()
}

// Start listens on the configured address and begins accepting. An empty
// address starts only the worker pool, for streams handed in through Serve.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	pool := worker.NewPool(s.cfg.MaxConnections, s.cfg.QueueSize, s.serve,
		worker.WithLogger[*session](s.logger),
		worker.WithMetricsRegistry[*session](s.reg, "gii_server"),
		worker.WithErrorHandler(func(sess *session, err error) {
			s.logger.Debug("Connection ended with error", "connection", sess.id, "error", err)
		}))
	if err := pool.Start(ctx); err != nil {
		cancel()
		s.health.MarkFailed(err)
		return errors.WrapFatal(err, "Server", "Start", "start worker pool")
	}

	s.pool = pool
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)
	if s.cfg.Address != "" {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
		if err != nil {
			s.running.Store(false)
			cancel()
			_ = pool.Stop(time.Second)
			s.health.MarkFailed(err)
			return errors.WrapTransient(err, "Server", "Start", "listen on "+s.cfg.Address)
		}
		if s.cfg.TLS != nil {
			ln = tls.NewListener(ln, s.cfg.TLS)
		}
		s.listener = ln
		go s.acceptLoop(ctx, ln)
	} else {
		close(s.done)
	}

	s.health.MarkStarted()
	if s.metrics != nil {
		s.metrics.RecordServiceStatus("server", 2)
	}
	s.logger.Info("Server started", "address", s.cfg.Address, "tls", s.cfg.TLS != nil,
		"max_connections", s.cfg.MaxConnections, "queue", s.cfg.QueueSize)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer close(s.done)
	limiter := rate.NewLimiter(rate.Limit(s.cfg.AcceptRate), s.cfg.AcceptBurst)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return
			}
			s.health.RecordError(err)
			s.logger.Warn("Accept failed", "error", err)
			continue
		}
		if err := s.Serve(nc, nc.RemoteAddr().String()); err != nil {
			s.logger.Warn("Connection rejected", "remote", nc.RemoteAddr(), "error", err)
		}
	}
}

// Serve hands stream to a pool worker. The stream is closed when the connection
// ends, or right away when the server is busy.
func (s *Server) Serve(stream connection.Stream, remote string) error {
	if !s.running.Load() {
		closeStream(stream)
		return errors.WrapTransient(errors.ErrShuttingDown, "Server", "Serve", "check running")
	}
	id := uuid.NewString()
	conn, err := connection.New(stream, connection.RoleServer, s.cfg.Connection,
		connection.WithID(id), connection.WithLogger(s.logger), connection.WithMetrics(s.metrics))
	if err != nil {
		closeStream(stream)
		return err
	}
	sess := &session{id: id, remote: remote, conn: conn}
	if tc, ok := stream.(*tls.Conn); ok {
		sess.tls = tc
	}

	s.mu.Lock()
	s.sessions[id] = sess
	pool := s.pool
	s.mu.Unlock()

	if err := pool.Submit(sess); err != nil {
		s.drop(sess)
		_ = conn.Close()
		s.rejected.Add(1)
		if s.metrics != nil {
			s.metrics.RecordConnectionOpened(connection.RoleServer.String())
			s.metrics.RecordConnectionClosed(connection.RoleServer.String(), "rejected")
		}
		return errors.WrapTransient(err, "Server", "Serve", "submit connection")
	}
	s.accepted.Add(1)
	return nil
}

func (s *Server) drop(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

// serve runs on a pool worker for the lifetime of one connection
func (s *Server) serve(ctx context.Context, sess *session) error {
	defer s.drop(sess)
	defer sess.conn.Close()

	role := connection.RoleServer.String()
	if s.metrics != nil {
		s.metrics.RecordConnectionOpened(role)
	}
	s.logger.Info("Connection opened", "connection", sess.id, "remote", sess.remote)

	// handshake before the state machine starts setting read deadlines
	var err error
	if sess.tls != nil {
		hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
		if herr := sess.tls.HandshakeContext(hctx); herr != nil {
			err = errors.WrapInvalid(herr, "Server", "serve", "TLS handshake")
		}
		cancel()
	}
	if err == nil {
		err = replicate(ctx, s.coord, sess.conn, func(conn *connection.Connection) *collector.Collector {
			return collector.New(connection.RoleServer, s.vars, s.results, conn,
				collector.WithLogger(s.logger.With("connection", sess.id)),
				collector.WithMaxPayload(s.cfg.Connection.MaxPayload))
		})
	}

	result := "ok"
	switch {
	case err == nil, stderrors.Is(err, errors.ErrConnectionClosed):
		err = nil
	default:
		result = errors.Classify(err).String()
		s.health.RecordError(err)
		if s.metrics != nil {
			s.metrics.RecordError("server", result)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordConnectionClosed(role, result)
	}
	s.logger.Info("Connection closed", "connection", sess.id, "result", result)
	return err
}

// Stop closes the listener and every connection, then waits up to timeout for the workers
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return nil
	}
	s.running.Store(false)
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, sess := range s.sessions {
		_ = sess.conn.Close()
	}
	pool, done := s.pool, s.done
	s.mu.Unlock()

	defer s.health.MarkStopped()
	if s.metrics != nil {
		s.metrics.RecordServiceStatus("server", 0)
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Server", "Stop", "accept loop shutdown")
	}
	if err := pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "worker pool shutdown")
	}
	s.logger.Info("Server stopped")
	return nil
}

func closeStream(stream connection.Stream) {
	if c, ok := stream.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

var _ component.LifecycleComponent = (*Server)(nil)
