// Package connection runs the GII packet exchange over one byte stream.
//
// A Connection is a state machine advanced by Process. Each call does one
// bounded step: it reads what is available, processes one packet or writes one
// chunk. Only the WaitForRead state blocks, and for at most ReadWait.
//
// The server side answers pings and flushes its outbox between packets. The
// client side opens with a ping of PingCount and disconnects once the count
// reaches zero, unless it is configured to stay connected. Every other payload
// goes to a Dispatcher, run on the coordinator through a relay.
package connection

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/metric"
	"github.com/c360/gii/pkg/buffer"
	"github.com/c360/gii/protocol"
	"github.com/c360/gii/relay"
)

// Stream is the byte stream a connection runs on
type Stream interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// Dispatcher handles the payloads the state machine does not handle itself.
// It runs on the coordinator and must not keep p past the call.
type Dispatcher interface {
	Dispatch(p protocol.Payload) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(p protocol.Payload) error

// Dispatch implements Dispatcher
func (f DispatcherFunc) Dispatch(p protocol.Payload) error { return f(p) }

// Connection is one end of a GII session
type Connection struct {
	id         string
	role       Role
	cfg        Config
	stream     Stream
	relay      *relay.Relay
	dispatcher Dispatcher
	metrics    *metric.Metrics
	logger     *slog.Logger
	now        func() time.Time

	cur, prev State
	header    protocol.Header
	headerBuf [protocol.HeaderSize]byte
	payload   []byte
	reader    *protocol.BufferStitcher
	chopper   *protocol.BufferChopper
	writing   protocol.Type
	writeSize int
	sequence  uint32
	outbox    buffer.Buffer[protocol.Payload]
	err       error
}

// Option configures a Connection
type Option func(*Connection)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics counts packets, bytes and outbox drops
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Connection) { c.metrics = m }
}

// WithRelay runs the dispatcher through r
func WithRelay(r *relay.Relay) Option {
	return func(c *Connection) { c.relay = r }
}

// WithDispatcher sets the dispatcher
func WithDispatcher(d Dispatcher) Option {
	return func(c *Connection) { c.dispatcher = d }
}

// WithID names the connection in logs
func WithID(id string) Option {
	return func(c *Connection) { c.id = id }
}

// WithClock replaces time.Now for ping timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Connection) { c.now = now }
}

// New creates a connection in state None
func New(stream Stream, role Role, cfg Config, opts ...Option) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Connection{
		role:   role,
		cfg:    cfg,
		stream: stream,
		now:    time.Now,
		logger: slog.Default().With("component", "connection"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("role", role.String())
	if c.id != "" {
		c.logger = c.logger.With("connection", c.id)
	}

	outbox, err := buffer.NewCircularBuffer(cfg.OutboxSize,
		buffer.WithOverflowPolicy[protocol.Payload](buffer.DropOldest),
		buffer.WithDropCallback(func(p protocol.Payload) {
			c.logger.Warn("Outbox full, dropped packet", "type", p.Type())
			if c.metrics != nil {
				c.metrics.OutboxDropped.Inc()
			}
		}))
	if err != nil {
		return nil, errors.WrapFatal(err, "Connection", "New", "create outbox")
	}
	c.outbox = outbox
	c.reader = protocol.NewBufferStitcher(c.headerBuf[:], cfg.ChunkSize)
	c.chopper = protocol.NewBufferChopper(nil, cfg.ChunkSize)
	return c, nil
}

// ID returns the connection id
func (c *Connection) ID() string { return c.id }

// Role returns the role
func (c *Connection) Role() Role { return c.role }

// State returns the current state
func (c *Connection) State() State { return c.cur }

// Err returns the error that moved the connection to Error
func (c *Connection) Err() error { return c.err }

// Sequence returns the sequence number of the last packet read or written
func (c *Connection) Sequence() uint32 { return c.sequence }

// SetDispatcher sets the dispatcher. Call it before the first Process.
func (c *Connection) SetDispatcher(d Dispatcher) { c.dispatcher = d }

// SetRelay sets the relay dispatching runs through. Call it before the first Process.
func (c *Connection) SetRelay(r *relay.Relay) { c.relay = r }

// Enqueue queues p for sending. It is safe from any goroutine. A full outbox
// drops its oldest packet.
func (c *Connection) Enqueue(p protocol.Payload) error {
	return c.outbox.Write(p)
}

// Pending returns the number of queued packets
func (c *Connection) Pending() int { return c.outbox.Size() }

// Dropped returns the number of packets the outbox dropped
func (c *Connection) Dropped() int64 { return c.outbox.Stats().Drops() }

// Close closes the outbox and the stream when it is closable
func (c *Connection) Close() error {
	_ = c.outbox.Close()
	if closer, ok := c.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Connection) setState(s State) {
	c.prev = c.cur
	c.cur = s
}

// rest is the state a connection returns to between packets
func (c *Connection) rest() State {
	if c.role == RoleClient {
		return StateIdle
	}
	return StateNone
}

func (c *Connection) fail(err error) {
	c.err = err
	c.logger.Warn("Connection failed", "state", c.cur, "error", err)
	c.setState(StateError)
}

// Process advances the state machine one step and reports whether to call it again
func (c *Connection) Process() bool {
	switch c.cur {
	case StateError, StateDisconnect:
		return false

	case StateNone:
		if c.role == RoleClient {
			if c.cfg.PingCount > 0 {
				c.logger.Debug("Initiating ping pong", "counter", c.cfg.PingCount)
				c.startWrite(protocol.NewPingPong(c.cfg.PingCount, c.now()))
			} else {
				c.setState(StateIdle)
			}
			break
		}
		if !c.flush() {
			c.setState(StateHeaderRead)
		}

	case StateIdle:
		if !c.flush() {
			c.setState(StateHeaderRead)
		}

	case StateWaitForRead:
		c.waitForRead()

	case StateHeaderRead:
		if !c.reader.Done() {
			c.setState(StateWaitForRead)
			break
		}
		if err := c.header.Decode(c.headerBuf[:]); err != nil {
			c.fail(err)
			break
		}
		if err := c.header.Check(c.cfg.MaxPayload); err != nil {
			c.fail(err)
			break
		}
		c.sequence = c.header.Sequence
		if cap(c.payload) < int(c.header.Size) {
			c.payload = make([]byte, c.header.Size)
		}
		c.payload = c.payload[:c.header.Size]
		c.reader.Assign(c.payload)
		c.setState(StatePayloadRead)

	case StatePayloadRead:
		if !c.reader.Done() {
			c.setState(StateWaitForRead)
			break
		}
		c.setState(StatePayloadProcess)

	case StatePayloadProcess:
		c.processPayload()

	case StateBufferWrite:
		c.writeChunk()
	}
	return !c.cur.IsTerminal()
}

// waitForRead reads into the current buffer for at most ReadWait. Without any
// byte of a new header it returns to rest so queued packets go out.
func (c *Connection) waitForRead() {
	if err := c.stream.SetReadDeadline(time.Now().Add(c.cfg.ReadWait)); err != nil {
		c.fail(errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
			"Connection", "Process", "set read deadline"))
		return
	}
	n, err := c.stream.Read(c.reader.Chunk())
	if n > 0 {
		c.reader.Advance(n)
		c.setState(c.prev)
		return
	}
	switch {
	case err == nil:
	case errors.IsTimeout(err):
		if c.prev == StateHeaderRead && len(c.reader.Filled()) == 0 {
			c.setState(c.rest())
		}
	case isClosed(err):
		c.fail(errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrConnectionClosed, err),
			"Connection", "Process", "read"))
	default:
		c.fail(errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
			"Connection", "Process", "read"))
	}
}

func isClosed(err error) bool {
	return stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, io.ErrClosedPipe) ||
		stderrors.Is(err, net.ErrClosed) ||
		stderrors.Is(err, os.ErrClosed)
}

func (c *Connection) processPayload() {
	size := protocol.HeaderSize + len(c.payload)
	c.reader.Assign(c.headerBuf[:])
	p, err := protocol.Decode(c.header.Type, c.payload)
	if err != nil {
		c.fail(err)
		return
	}
	if c.metrics != nil {
		c.metrics.RecordPacketReceived(p.Type().String(), size)
	}

	if pp, ok := p.(*protocol.PingPong); ok {
		c.logger.Info("PingPong", "counter", pp.Counter, "text", pp.Text, "sequence", c.header.Sequence)
		switch {
		case pp.Counter > 0:
			c.startWrite(protocol.NewPingPong(pp.Counter-1, c.now()))
		case c.role == RoleClient && !c.cfg.StayConnected:
			c.setState(StateDisconnect)
		default:
			c.setState(c.rest())
		}
		return
	}

	if err := c.dispatch(p); err != nil {
		c.fail(err)
		return
	}
	c.setState(c.rest())
}

func (c *Connection) dispatch(p protocol.Payload) error {
	d := c.dispatcher
	if d == nil {
		c.logger.Debug("No dispatcher, packet ignored", "type", p.Type())
		return nil
	}
	if c.relay == nil {
		return errors.WrapClassified(d.Dispatch(p), "Connection", "Process", "dispatch "+p.Type().String())
	}
	var derr error
	if err := c.relay.Call(func() { derr = d.Dispatch(p) }); err != nil {
		return errors.WrapFatal(err, "Connection", "Process", "relay "+p.Type().String())
	}
	return errors.WrapClassified(derr, "Connection", "Process", "dispatch "+p.Type().String())
}

// flush starts writing the next queued packet and reports whether there was one
func (c *Connection) flush() bool {
	p, ok := c.outbox.Read()
	if !ok {
		return false
	}
	c.startWrite(p)
	return true
}

func (c *Connection) startWrite(p protocol.Payload) {
	c.sequence++
	packet := protocol.Encode(p, c.sequence)
	c.writing = p.Type()
	c.writeSize = len(packet)
	c.chopper.Assign(packet)
	c.setState(StateBufferWrite)
}

func (c *Connection) writeChunk() {
	if !c.chopper.Done() {
		n, err := c.stream.Write(c.chopper.Chunk())
		c.chopper.Advance(n)
		if err != nil {
			c.fail(errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
				"Connection", "Process", "write"))
			return
		}
		if !c.chopper.Done() {
			return
		}
	}
	if c.metrics != nil {
		c.metrics.RecordPacketSent(c.writing.String(), c.writeSize)
	}
	c.chopper.Assign(nil)
	c.setState(c.rest())
}
