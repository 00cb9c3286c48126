package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"

	"github.com/c360/gii/collector"
	"github.com/c360/gii/connection"
	"github.com/c360/gii/errors"
	"github.com/c360/gii/pkg/retry"
	"github.com/c360/gii/resultdata"
	"github.com/c360/gii/variable"
)

// Dial connects to a GII server, retrying with cfg until it gives up or ctx ends
func Dial(ctx context.Context, addr string, cfg retry.Config) (net.Conn, error) {
	return DialTLS(ctx, addr, nil, cfg)
}

// DialTLS is Dial with a TLS handshake when tlsCfg is not nil
func DialTLS(ctx context.Context, addr string, tlsCfg *tls.Config, cfg retry.Config) (net.Conn, error) {
	d := &tls.Dialer{NetDialer: &net.Dialer{}, Config: tlsCfg}
	nc, err := retry.DoWithResult(ctx, cfg, func() (net.Conn, error) {
		if tlsCfg == nil {
			return d.NetDialer.DialContext(ctx, "tcp", addr)
		}
		return d.DialContext(ctx, "tcp", addr)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Dial", "connect to "+addr)
	}
	return nc, nil
}

// RunClient loops Process until the connection ends or ctx is done. A client
// that disconnected after its ping exchange returns nil.
func RunClient(ctx context.Context, conn *connection.Connection) error {
	for ctx.Err() == nil && conn.Process() {
	}
	return conn.Err()
}

// ClientDeps holds what a replicating client works on
type ClientDeps struct {
	Coordinator *Coordinator
	Variables   *variable.Space
	Results     *resultdata.Space
	Logger      *slog.Logger
	Options     []collector.Option
}

// Replicate runs a client connection over stream that mirrors what the server
// exports into the spaces of deps, until the connection ends or ctx is done.
// The client stays connected after its ping exchange. The stream is closed on return.
func Replicate(ctx context.Context, stream connection.Stream, cfg connection.Config, deps ClientDeps, opts ...connection.Option) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "client")
	cfg.StayConnected = true
	opts = append([]connection.Option{connection.WithLogger(logger)}, opts...)
	conn, err := connection.New(stream, connection.RoleClient, cfg, opts...)
	if err != nil {
		closeStream(stream)
		return err
	}
	defer conn.Close()

	err = replicate(ctx, deps.Coordinator, conn, func(c *connection.Connection) *collector.Collector {
		copts := append([]collector.Option{collector.WithLogger(logger), collector.WithMaxPayload(cfg.MaxPayload)},
			deps.Options...)
		return collector.New(connection.RoleClient, deps.Variables, deps.Results, c, copts...)
	})
	return err
}

// replicate builds a collector for conn on the coordinator, runs the state
// machine and closes the collector again, on the caller when the coordinator
// stopped first
func replicate(ctx context.Context, coord *Coordinator, conn *connection.Connection,
	build func(*connection.Connection) *collector.Collector) error {
	r := coord.NewRelay()
	defer func() {
		coord.Unregister(r)
		r.Close()
	}()
	conn.SetRelay(r)

	var (
		coll *collector.Collector
		serr error
	)
	if err := r.Call(func() {
		coll = build(conn)
		conn.SetDispatcher(coll)
		serr = coll.Subscribe()
	}); err != nil {
		return errors.WrapFatal(err, "Server", "replicate", "build collector")
	}
	if serr != nil {
		return serr
	}

	err := RunClient(ctx, conn)
	if cerr := coord.Cleanup(r, coll.Close); cerr != nil {
		coord.logger.Warn("Collector not closed", "error", cerr)
	}
	return err
}
