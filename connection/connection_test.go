package connection

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/metric"
	"github.com/c360/gii/protocol"
	"github.com/c360/gii/relay"
)

func fastConfig(role Role) Config {
	cfg := DefaultConfig(role)
	cfg.ReadWait = 20 * time.Millisecond
	return cfg
}

// run loops Process on its own goroutine until it returns false or ctx ends
func run(ctx context.Context, c *Connection) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil && c.Process() {
		}
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not stop")
	}
}

func pingPong(t *testing.T, serverSide, clientSide net.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverMetrics := metric.NewMetricsRegistry().CoreMetrics()
	clientMetrics := metric.NewMetricsRegistry().CoreMetrics()

	srv, err := New(serverSide, RoleServer, fastConfig(RoleServer), WithMetrics(serverMetrics), WithID("srv"))
	require.NoError(t, err)
	cli, err := New(clientSide, RoleClient, fastConfig(RoleClient), WithMetrics(clientMetrics))
	require.NoError(t, err)

	srvDone := run(ctx, srv)
	waitDone(t, run(ctx, cli))

	assert.Equal(t, StateDisconnect, cli.State())
	assert.NoError(t, cli.Err())
	assert.Equal(t, uint32(4), cli.Sequence(), "each hop increments the sequence")
	assert.Equal(t, 2.0, testutil.ToFloat64(clientMetrics.PacketsSent.WithLabelValues("pingpong")))
	assert.Equal(t, 2.0, testutil.ToFloat64(clientMetrics.PacketsReceived.WithLabelValues("pingpong")))
	assert.Equal(t, float64(2*(protocol.HeaderSize+protocol.PingPongSize)), testutil.ToFloat64(clientMetrics.BytesReceived))

	require.NoError(t, cli.Close())
	waitDone(t, srvDone)
	assert.Equal(t, StateError, srv.State())
	assert.ErrorIs(t, srv.Err(), errors.ErrConnectionClosed)
	assert.True(t, errors.IsFatal(srv.Err()))
	assert.Equal(t, 2.0, testutil.ToFloat64(serverMetrics.PacketsReceived.WithLabelValues("pingpong")))
}

func TestPingPong_Pipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	pingPong(t, a, b)
}

func TestPingPong_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	defer server.Close()
	pingPong(t, server, client)
}

func TestDispatchThroughRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	var (
		mu  sync.Mutex
		got []protocol.Payload
	)
	r := relay.New()
	go func() {
		for ctx.Err() == nil {
			r.Drain()
			time.Sleep(time.Millisecond)
		}
	}()
	srv, err := New(a, RoleServer, fastConfig(RoleServer), WithRelay(r),
		WithDispatcher(DispatcherFunc(func(p protocol.Payload) error {
			mu.Lock()
			defer mu.Unlock()
			if v, ok := p.(*protocol.Variable); ok {
				copied := *v
				got = append(got, &copied)
			}
			return nil
		})))
	require.NoError(t, err)

	cfg := fastConfig(RoleClient)
	cfg.PingCount = 0
	cfg.StayConnected = true
	cli, err := New(b, RoleClient, cfg)
	require.NoError(t, err)
	require.NoError(t, cli.Enqueue(&protocol.Variable{ID: 0x1000, Value: "2.0"}))
	require.NoError(t, cli.Enqueue(&protocol.Variable{ID: 0x1001, Flags: 4, Value: "x"}))

	run(ctx, srv)
	run(ctx, cli)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, &protocol.Variable{ID: 0x1000, Value: "2.0"}, got[0])
	assert.Equal(t, &protocol.Variable{ID: 0x1001, Flags: 4, Value: "x"}, got[1])
	mu.Unlock()
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
		want   error
	}{
		{"unknown type", protocol.Header{Type: 9, Size: 0}.Encode(), errors.ErrUnknownPacket},
		{"oversize", protocol.Header{Type: protocol.TypeResultData, Size: 1 << 30}.Encode(), errors.ErrPayloadTooLarge},
		{"short payload", append(protocol.Header{Type: protocol.TypeVariable, Size: 4}.Encode(), 1, 2, 3, 4), errors.ErrShortPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			a, b := net.Pipe()
			defer a.Close()
			defer b.Close()

			srv, err := New(a, RoleServer, fastConfig(RoleServer))
			require.NoError(t, err)
			done := run(ctx, srv)
			_, err = b.Write(tt.packet)
			require.NoError(t, err)
			waitDone(t, done)

			assert.Equal(t, StateError, srv.State())
			assert.ErrorIs(t, srv.Err(), tt.want)
			assert.True(t, errors.IsInvalid(srv.Err()))
			assert.False(t, srv.Process(), "error is terminal")
		})
	}
}

func TestOutboxDropsOldest(t *testing.T) {
	m := metric.NewMetricsRegistry().CoreMetrics()
	cfg := DefaultConfig(RoleServer)
	cfg.OutboxSize = 2
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	c, err := New(a, RoleServer, cfg, WithMetrics(m))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Enqueue(&protocol.Variable{ID: 1}))
	}
	assert.Equal(t, 2, c.Pending())
	assert.Equal(t, int64(1), c.Dropped())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDropped))
}

func TestReadWaitReturnsToRest(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	c, err := New(a, RoleServer, fastConfig(RoleServer))
	require.NoError(t, err)
	assert.True(t, c.Process())
	assert.Equal(t, StateHeaderRead, c.State())
	assert.True(t, c.Process())
	assert.Equal(t, StateWaitForRead, c.State())

	start := time.Now()
	assert.True(t, c.Process())
	assert.Less(t, time.Since(start), time.Second, "bounded by the read wait")
	assert.Equal(t, StateNone, c.State(), "nothing read, back to rest")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig(RoleClient).Validate())
	assert.Equal(t, DefaultClientReadWait, DefaultConfig(RoleClient).ReadWait)
	assert.Equal(t, DefaultServerReadWait, DefaultConfig(RoleServer).ReadWait)

	bad := DefaultConfig(RoleServer)
	bad.ReadWait = 0
	_, err := New(nil, RoleServer, bad)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
