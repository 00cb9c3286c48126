// Package websocket carries the GII byte stream over binary WebSocket messages.
//
// A gorilla connection is unusable after a read deadline expires, while the
// connection state machine polls with short deadlines. Stream therefore reads
// messages on its own goroutine and applies deadlines to the hand-over.
package websocket

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/gii/connection"
	"github.com/c360/gii/errors"
)

// DefaultPath is where giid mounts the handler
const DefaultPath = "/gii"

const closeWait = time.Second

// Stream adapts a WebSocket connection to connection.Stream
type Stream struct {
	conn   *websocket.Conn
	msgs   chan []byte
	done   chan struct{}
	closed chan struct{}
	err    error // valid after done is closed

	mu      sync.Mutex // serializes Read
	pending []byte

	dmu      sync.Mutex
	deadline time.Time

	wmu       sync.Mutex
	closeOnce sync.Once
}

// NewStream starts reading binary messages from conn. Text messages are ignored.
func NewStream(conn *websocket.Conn) *Stream {
	s := &Stream{
		conn:   conn,
		msgs:   make(chan []byte, 16),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				stderrors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			s.err = err
			return
		}
		if mt != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case s.msgs <- data:
		case <-s.closed:
			s.err = net.ErrClosed
			return
		}
	}
}

// Read copies the next bytes of the stream into p, blocking until data arrives,
// the read deadline passes or the peer goes away
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		s.dmu.Lock()
		deadline := s.deadline
		s.dmu.Unlock()

		var timeout <-chan time.Time
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			t := time.NewTimer(d)
			defer t.Stop()
			timeout = t.C
		}
		select {
		case data := <-s.msgs:
			s.pending = data
		case <-s.done:
			// drain what arrived before the close
			select {
			case data := <-s.msgs:
				s.pending = data
			default:
				return 0, s.err
			}
		case <-timeout:
			return 0, os.ErrDeadlineExceeded
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write sends p as one binary message
func (s *Stream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadDeadline bounds the Read calls that follow. The zero time waits forever.
func (s *Stream) SetReadDeadline(t time.Time) error {
	s.dmu.Lock()
	s.deadline = t
	s.dmu.Unlock()
	return nil
}

// Close sends a close frame and closes the connection
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wmu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
		s.wmu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// Server takes accepted streams, *server.Server satisfies it
type Server interface {
	Serve(stream connection.Stream, remote string) error
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithLogger sets the handler logger
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithCheckOrigin replaces the same-origin check of the upgrader
func WithCheckOrigin(fn func(*http.Request) bool) HandlerOption {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// Handler upgrades HTTP requests and hands the streams to a Server
type Handler struct {
	srv      Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler returns a handler serving GII over WebSocket
func NewHandler(srv Server, opts ...HandlerOption) *Handler {
	h := &Handler{
		srv: srv,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: slog.Default().With("component", "websocket"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.logger.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if err := h.srv.Serve(NewStream(conn), r.RemoteAddr); err != nil {
		h.logger.Warn("Connection rejected", "remote", r.RemoteAddr, "error", err)
	}
}

// Dial opens a client stream to a ws:// or wss:// URL
func Dial(ctx context.Context, url string, tlsCfg *tls.Config) (*Stream, error) {
	d := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  tlsCfg,
	}
	conn, resp, err := d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "websocket", "Dial", "connect to "+url)
	}
	return NewStream(conn), nil
}
