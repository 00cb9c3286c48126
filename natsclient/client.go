// Package natsclient manages the NATS connection used by the JetStream KV table store.
package natsclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/metric"
	"github.com/c360/gii/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by operations that need an open connection
var ErrNotConnected = stderrors.New("not connected to NATS")

// Client owns one NATS connection and its JetStream context
type Client struct {
	url    string
	status atomic.Int32
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	name          string
	username      string
	password      string
	token         string
	connectRetry  retry.Config

	connected  prometheus.Gauge
	reconnects prometheus.Counter

	onHealthChange func(bool)
}

// NewClient creates a client for url. Connect must be called before use.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		connectRetry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "natsclient")
	}
	c.status.Store(int32(StatusDisconnected))
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string { return c.url }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

func (c *Client) setStatus(s ConnectionStatus) {
	prev := ConnectionStatus(c.status.Swap(int32(s)))
	if c.connected != nil {
		v := 0.0
		if s == StatusConnected {
			v = 1
		}
		c.connected.Set(v)
	}
	if c.onHealthChange != nil && (prev == StatusConnected) != (s == StatusConnected) {
		c.onHealthChange(s == StatusConnected)
	}
}

// GetConnection returns the raw connection, or nil before Connect
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) options() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", "error", err)
			c.setStatus(StatusReconnecting)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", c.url)
			if c.reconnects != nil {
				c.reconnects.Inc()
			}
			c.setStatus(StatusConnected)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusClosed)
		}),
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

// Connect dials the server with retry and initializes JetStream
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	conn, err := retry.DoWithResult(ctx, c.connectRetry, func() (*nats.Conn, error) {
		return nats.Connect(c.url, c.options()...)
	})
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapFatal(err, "Client", "Connect", "initialize JetStream")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	return nil
}

// Close drains and closes the connection
func (c *Client) Close(_ context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Drain()
	conn.Close()
	c.setStatus(StatusClosed)
	if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
		return errors.WrapTransient(err, "Client", "Close", "drain connection")
	}
	return nil
}

// RTT measures the round trip time to the server
func (c *Client) RTT() (time.Duration, error) {
	conn := c.GetConnection()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// CreateKeyValueBucket creates cfg.Bucket, or returns the existing bucket of that name
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	kv, err := js.CreateKeyValue(ctx, cfg)
	if stderrors.Is(err, jetstream.ErrBucketExists) {
		return js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}
	return kv, nil
}

// GetKeyValueBucket opens an existing bucket
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	kv, err := js.KeyValue(ctx, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", "open bucket "+name)
	}
	return kv, nil
}

// registerMetrics publishes connection metrics to registry
func (c *Client) registerMetrics(registry *metric.MetricsRegistry) error {
	c.connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metric.Namespace, Subsystem: "nats", Name: "connected",
		Help: "NATS connection status (0=disconnected, 1=connected)",
	})
	c.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metric.Namespace, Subsystem: "nats", Name: "reconnects_total",
		Help: "Total number of NATS reconnections",
	})
	if err := registry.RegisterGauge("natsclient", "connected", c.connected); err != nil {
		return err
	}
	return registry.RegisterCounter("natsclient", "reconnects_total", c.reconnects)
}
