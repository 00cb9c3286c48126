package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/gii/connection"
	"github.com/c360/gii/errors"
	"github.com/c360/gii/metric"
	"github.com/c360/gii/pkg/retry"
	"github.com/c360/gii/relay"
	"github.com/c360/gii/variable"
)

const gainDef = "0x1000,Main|Gain,,E,Gain,FLOAT,,0.1,1,0,10"

type ServerSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	coord  *Coordinator
	vars   *variable.Space
	gain   *variable.Variable
	reg    *metric.MetricsRegistry
	srv    *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func fastServerConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.Connection.ReadWait = 20 * time.Millisecond
	return cfg
}

func fastClientConfig() connection.Config {
	cfg := connection.DefaultConfig(connection.RoleClient)
	cfg.ReadWait = 20 * time.Millisecond
	return cfg
}

func (s *ServerSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 20*time.Second)
	s.vars = variable.NewSpace()
	s.gain = s.vars.New()
	s.Require().True(s.gain.Setup(gainDef, 0))

	s.coord = NewCoordinator(10 * time.Millisecond)
	go func() { _ = s.coord.Run(s.ctx) }()

	s.reg = metric.NewMetricsRegistry()
	s.startServer(fastServerConfig())
}

func (s *ServerSuite) startServer(cfg Config) {
	var err error
	s.srv, err = New(cfg, Deps{Coordinator: s.coord, Variables: s.vars, MetricsRegistry: s.reg})
	s.Require().NoError(err)
	s.Require().NoError(s.srv.Initialize())
	s.Require().NoError(s.srv.Start(s.ctx))
}

func (s *ServerSuite) TearDownTest() {
	s.NoError(s.srv.Stop(5 * time.Second))
	s.cancel()
}

func (s *ServerSuite) dial() net.Conn {
	nc, err := Dial(s.ctx, s.srv.Addr().String(), retry.Connect())
	s.Require().NoError(err)
	return nc
}

func (s *ServerSuite) TestPingPong() {
	nc := s.dial()
	conn, err := connection.New(nc, connection.RoleClient, fastClientConfig())
	s.Require().NoError(err)

	s.NoError(RunClient(s.ctx, conn))
	s.Equal(connection.StateDisconnect, conn.State())
	s.Equal(uint32(4), conn.Sequence())
	s.Require().NoError(conn.Close())

	s.Eventually(func() bool { return s.srv.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
	m := s.reg.CoreMetrics()
	s.Equal(1.0, testutil.ToFloat64(m.ConnectionsTotal.WithLabelValues("server", "ok")))
	s.Equal(2.0, testutil.ToFloat64(m.PacketsReceived.WithLabelValues("pingpong")))
	accepted, rejected := s.srv.Stats()
	s.Equal(int64(1), accepted)
	s.Zero(rejected)
}

func (s *ServerSuite) TestPingPongOverTLS() {
	// borrow the loopback certificate of an httptest server
	ts := httptest.NewUnstartedServer(nil)
	ts.StartTLS()
	cert := ts.TLS.Certificates[0]
	roots := x509.NewCertPool()
	roots.AddCert(ts.Certificate())
	ts.Close()

	s.Require().NoError(s.srv.Stop(time.Second))
	cfg := fastServerConfig()
	cfg.TLS = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	s.startServer(cfg)

	nc, err := DialTLS(s.ctx, s.srv.Addr().String(), &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}, retry.Connect())
	s.Require().NoError(err)
	conn, err := connection.New(nc, connection.RoleClient, fastClientConfig())
	s.Require().NoError(err)
	s.NoError(RunClient(s.ctx, conn))
	s.Equal(connection.StateDisconnect, conn.State())
	s.NoError(conn.Close())

	_, err = DialTLS(s.ctx, s.srv.Addr().String(), &tls.Config{MinVersion: tls.VersionTLS12},
		retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1})
	s.Error(err, "unknown authority")
}

func (s *ServerSuite) TestReplicate() {
	clientCoord := NewCoordinator(10 * time.Millisecond)
	clientVars := variable.NewSpace()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() { _ = clientCoord.Run(ctx) }()

	done := make(chan error, 1)
	go func() {
		done <- Replicate(ctx, s.dial(), fastClientConfig(), ClientDeps{Coordinator: clientCoord, Variables: clientVars})
	}()

	clientValue := func() float64 {
		var f float64
		s.Require().NoError(clientCoord.Do(func() {
			if v, ok := clientVars.Lookup(0x1000); ok {
				f = v.CurValue(false).Float()
			}
		}))
		return f
	}
	s.Eventually(func() bool { return clientValue() == 1.0 }, 5*time.Second, 10*time.Millisecond)

	s.Require().NoError(s.coord.Do(func() { s.gain.SetCur(variable.NewFloat(2.5), false) }))
	s.Eventually(func() bool { return clientValue() == 2.5 }, 5*time.Second, 10*time.Millisecond)

	s.Require().NoError(clientCoord.Do(func() {
		local := clientVars.New()
		s.True(local.SetupID(0x1000, false))
		s.True(local.SetCur(variable.NewFloat(4), false))
	}))
	s.Eventually(func() bool {
		var f float64
		s.Require().NoError(s.coord.Do(func() { f = s.gain.CurValue(false).Float() }))
		return f == 4.0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Fail("client did not stop")
	}
	s.Eventually(func() bool { return s.srv.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func (s *ServerSuite) TestReplicate_CoordinatorStopsFirst() {
	clientCoord := NewCoordinator(10 * time.Millisecond)
	clientVars := variable.NewSpace()
	baseline := clientVars.Instances()
	coordCtx, stopCoord := context.WithCancel(s.ctx)
	defer stopCoord()
	coordDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		_ = clientCoord.Run(coordCtx)
	}()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Replicate(ctx, s.dial(), fastClientConfig(), ClientDeps{Coordinator: clientCoord, Variables: clientVars})
	}()

	s.Eventually(func() bool {
		mirrored := false
		_ = clientCoord.Do(func() { _, mirrored = clientVars.Lookup(0x1000) })
		return mirrored
	}, 5*time.Second, 10*time.Millisecond)

	stopCoord()
	<-coordDone
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Fail("client did not stop")
	}

	// the collector released its mirrors on the way out
	s.Equal(baseline, clientVars.Instances())
	s.Zero(clientVars.Len())
	s.ErrorIs(clientCoord.Do(func() {}), relay.ErrClosed)
}

func TestCoordinator_CleanupAfterStop(t *testing.T) {
	c := NewCoordinator(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	r := c.NewRelay()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = c.Run(ctx)
	}()

	ran := false
	require.NoError(t, c.Cleanup(r, func() { ran = true }))
	assert.True(t, ran)

	cancel()
	<-runDone
	ran = false
	require.NoError(t, c.Cleanup(r, func() { ran = true }), "runs on the caller once stopped")
	assert.True(t, ran)
	assert.ErrorIs(t, r.Call(func() {}), relay.ErrClosed)
}

func (s *ServerSuite) TestQueueFullRejects() {
	s.Require().NoError(s.srv.Stop(time.Second))
	cfg := fastServerConfig()
	cfg.MaxConnections = 1
	cfg.QueueSize = 1
	s.startServer(cfg)

	accepted := func(n int64) func() bool {
		return func() bool { a, _ := s.srv.Stats(); return a == n }
	}
	busy := s.dial()
	defer busy.Close()
	s.Eventually(accepted(1), 5*time.Second, 10*time.Millisecond)
	// let the only worker take it off the queue
	time.Sleep(100 * time.Millisecond)

	queued := s.dial()
	defer queued.Close()
	s.Eventually(accepted(2), 5*time.Second, 10*time.Millisecond)
	s.Equal(2, s.srv.Connections())

	extra := s.dial()
	defer extra.Close()
	s.Require().NoError(extra.SetReadDeadline(time.Now().Add(5 * time.Second)))
	_, err := extra.Read(make([]byte, 1))
	s.ErrorIs(err, io.EOF, "closed by the server")

	_, rejected := s.srv.Stats()
	s.Equal(int64(1), rejected)
	s.Equal(1.0, testutil.ToFloat64(s.reg.CoreMetrics().ConnectionsTotal.WithLabelValues("server", "rejected")))
}

func (s *ServerSuite) TestHealthAndStop() {
	h := s.srv.Health()
	s.True(h.Healthy)
	s.Equal("started", h.State)
	s.Equal("server", s.srv.Meta().Type)

	nc := s.dial()
	defer nc.Close()
	s.Eventually(func() bool { return s.srv.Connections() == 1 }, 5*time.Second, 10*time.Millisecond)

	s.Require().NoError(s.srv.Stop(5 * time.Second))
	s.False(s.srv.Health().Healthy)
	s.Equal("stopped", s.srv.Health().State)
	s.Zero(s.srv.Connections())

	a, b := net.Pipe()
	defer b.Close()
	err := s.srv.Serve(a, "pipe")
	s.ErrorIs(err, errors.ErrShuttingDown)
}

func (s *ServerSuite) TestServePipe() {
	a, b := net.Pipe()
	s.Require().NoError(s.srv.Serve(a, "pipe"))

	conn, err := connection.New(b, connection.RoleClient, fastClientConfig())
	s.Require().NoError(err)
	s.NoError(RunClient(s.ctx, conn))
	s.Equal(connection.StateDisconnect, conn.State())
	s.NoError(conn.Close())
}

func TestDial_GivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := retry.Connect()
	cfg.MaxAttempts = 2
	cfg.InitialDelay = time.Millisecond
	_, err = Dial(context.Background(), addr, cfg)
	if err == nil {
		t.Fatal("dial to a closed port succeeded")
	}
	if !errors.IsTransient(err) {
		t.Fatalf("want transient, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 0
	if err := cfg.Validate(); !errors.IsInvalid(err) {
		t.Fatalf("want invalid, got %v", err)
	}
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Fatal("missing coordinator accepted")
	}
}
