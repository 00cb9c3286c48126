package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/c360/gii/connection"
	"github.com/c360/gii/pkg/retry"
	"github.com/c360/gii/pkg/tlsutil"
	"github.com/c360/gii/registry"
	"github.com/c360/gii/resultdata"
	"github.com/c360/gii/server"
	"github.com/c360/gii/transport/websocket"
	"github.com/c360/gii/variable"
)

const pollInterval = 20 * time.Millisecond

// dial opens a stream to the configured address
func dial(ctx context.Context, o *globalOptions) (connection.Stream, error) {
	var tlsCfg *tls.Config
	if o.tls.Enabled || strings.HasPrefix(o.addr, "wss://") {
		cfg := o.tls
		cfg.Enabled = true
		cfg.MTLS.Enabled = cfg.MTLS.CertFile != ""
		var err error
		if tlsCfg, err = tlsutil.ClientConfig(cfg); err != nil {
			return nil, err
		}
	}

	dctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if o.isWebSocket() {
		return websocket.Dial(dctx, o.addr, tlsCfg)
	}
	rc := retry.Connect()
	rc.MaxDelay = o.timeout / 4
	return server.DialTLS(dctx, o.addr, tlsCfg, rc)
}

// session mirrors the server into local spaces owned by a coordinator
type session struct {
	coord   *server.Coordinator
	vars    *variable.Space
	results *resultdata.Space
	stop    context.CancelFunc
	cancel  context.CancelFunc
	done    chan error
	runDone chan struct{}
}

func openSession(ctx context.Context, o *globalOptions) (*session, error) {
	stream, err := dial(ctx, o)
	if err != nil {
		return nil, err
	}

	// the coordinator outlives replication so the collector can close on it
	coordCtx, stop := context.WithCancel(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	logger := slog.Default()
	s := &session{
		coord:   server.NewCoordinator(10*time.Millisecond, server.WithCoordinatorLogger(logger)),
		vars:    variable.NewSpace(variable.WithLogger(logger)),
		results: resultdata.NewSpace(resultdata.WithLogger(logger)),
		stop:    stop,
		cancel:  cancel,
		done:    make(chan error, 1),
		runDone: make(chan struct{}),
	}
	go func() {
		defer close(s.runDone)
		_ = s.coord.Run(coordCtx)
	}()

	cfg := connection.DefaultConfig(connection.RoleClient)
	cfg.ReadWait = 50 * time.Millisecond
	go func() {
		s.done <- server.Replicate(ctx, stream, cfg, server.ClientDeps{
			Coordinator: s.coord,
			Variables:   s.vars,
			Results:     s.results,
			Logger:      logger,
		})
	}()
	return s, nil
}

// do runs fn on the session coordinator
func (s *session) do(fn func()) error {
	return s.coord.Do(fn)
}

// close ends replication and returns its error, nil for a clean stop
func (s *session) close() error {
	s.cancel()
	err := <-s.done
	s.stop()
	<-s.runDone
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// variable waits until the server exported id and returns a local instance
// attached to it. The instance belongs to the coordinator.
func (s *session) variable(ctx context.Context, id registry.ID, timeout time.Duration) (*variable.Variable, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		var local *variable.Variable
		if err := s.do(func() {
			if _, ok := s.vars.Lookup(id); ok {
				local = s.vars.NewLocal()
				local.SetupID(id, false)
			}
		}); err != nil {
			return nil, err
		}
		if local != nil {
			return local, nil
		}

		select {
		case err := <-s.done:
			s.done <- err
			return nil, fmt.Errorf("connection ended before 0x%X appeared: %w", uint64(id), err)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("variable 0x%X not exported within %v", uint64(id), timeout)
		case <-tick.C:
		}
	}
}

func parseID(s string) (registry.ID, error) {
	id, err := strconv.ParseUint(s, 0, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return registry.ID(id), nil
}
