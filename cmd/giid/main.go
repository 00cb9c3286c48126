// Package main implements giid, the GII information server daemon. It loads
// variable and result definitions, runs the unit conversion engine and the
// information server state machine on one coordinator goroutine, and exports
// everything to GII clients over TCP and optionally WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/gii/config"
	"github.com/c360/gii/connection"
	"github.com/c360/gii/health"
	"github.com/c360/gii/infoserver"
	"github.com/c360/gii/metric"
	"github.com/c360/gii/pkg/tlsutil"
	"github.com/c360/gii/registry"
	"github.com/c360/gii/resultdata"
	"github.com/c360/gii/server"
	"github.com/c360/gii/transport/websocket"
	"github.com/c360/gii/unitconv"
	"github.com/c360/gii/variable"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "giid"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// daemon is everything giid runs, wired but not started
type daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	reg     *metric.MetricsRegistry
	vars    *variable.Space
	results *resultdata.Space
	tables  *tableStore
	units   *unitconv.Server
	info    *infoserver.Server
	coord   *server.Coordinator
	srv     *server.Server
	monitor *health.Monitor
	ready   chan struct{}
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout io.Writer) error {
	cli, err := parseFlags(args, getenv, stdout)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	logger := newLogger(stdout, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.Listen != "" {
		cfg.Server.Address = cli.Listen
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		return nil
	}

	logger.Info("Starting GII information server", "version", Version, "config_path", cli.ConfigPath)
	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return d.run(ctx, cli.ShutdownTimeout)
}

// newDaemon builds the entities and servers. It runs before the coordinator,
// so it may touch the spaces directly.
func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		logger:  logger,
		reg:     metric.NewMetricsRegistry(),
		monitor: health.NewMonitor(),
		ready:   make(chan struct{}),
	}
	core := d.reg.CoreMetrics()

	d.vars = variable.NewSpace(variable.WithLogger(logger))
	d.results = resultdata.NewSpace(resultdata.WithLogger(logger))

	tables, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	d.tables = tables

	system, _ := unitconv.ParseSystem(cfg.Units.System)
	d.units = unitconv.NewServer(d.vars, tables,
		unitconv.WithSystem(system), unitconv.WithLogger(logger), unitconv.WithMetrics(d.reg))
	if cfg.Units.EnableID != "" {
		id, err := strconv.ParseUint(cfg.Units.EnableID, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("units enable id %q: %w", cfg.Units.EnableID, err)
		}
		d.units.SetEnableID(registry.ID(id))
	}
	logger.Info("Unit conversion ready", "system", system, "followers", d.units.Load())

	d.info = infoserver.New(d.vars, infoserver.WithLogger(logger), infoserver.WithMetrics(core))
	ic := cfg.InfoServer
	if !d.info.Setup(ic.Name, ic.Prefix, registry.ID(ic.ID), registry.ID(ic.DeviceMask), registry.ID(ic.ServerMask)) {
		return nil, fmt.Errorf("information server %s: state variable 0x%X rejected", ic.Name, ic.ID)
	}

	if err := d.loadVariables(cfg.Variables); err != nil {
		return nil, err
	}
	if err := d.loadResults(cfg.Results); err != nil {
		return nil, err
	}

	d.coord = server.NewCoordinator(cfg.Server.Tick.Std(),
		server.WithCoordinatorLogger(logger), server.WithCoordinatorMetrics(core))

	scfg := serverConfig(cfg.Server)
	if scfg.TLS, err = tlsutil.ServerConfig(cfg.Server.TLS); err != nil {
		return nil, err
	}
	d.srv, err = server.New(scfg, server.Deps{
		Coordinator:     d.coord,
		Variables:       d.vars,
		Results:         d.results,
		MetricsRegistry: d.reg,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	if err := d.srv.Initialize(); err != nil {
		return nil, err
	}
	d.monitor.Register(d.srv)
	return d, nil
}

func serverConfig(sc config.ServerConfig) server.Config {
	cfg := server.DefaultConfig()
	cfg.Address = sc.Address
	cfg.MaxConnections = sc.MaxConnections
	cfg.QueueSize = sc.QueueSize
	cfg.AcceptRate = sc.AcceptRate
	cfg.AcceptBurst = sc.AcceptBurst
	cfg.Connection = connection.DefaultConfig(connection.RoleServer)
	cfg.Connection.ReadWait = sc.ReadWait.Std()
	cfg.Connection.MaxPayload = uint32(sc.MaxPayload)
	cfg.Connection.OutboxSize = sc.OutboxSize
	return cfg
}

func (d *daemon) loadVariables(def config.DefinitionFile) error {
	if def.Path == "" {
		return nil
	}
	f, err := os.Open(def.Path)
	if err != nil {
		return fmt.Errorf("open variable definitions: %w", err)
	}
	defer f.Close()

	vars, err := d.vars.Create(f)
	if err != nil {
		return err
	}
	if c, ok := parseClass(def.Class); ok {
		for _, v := range vars {
			d.info.AttachVariable(v, c)
		}
	}
	d.logger.Info("Variables loaded", "path", def.Path, "count", len(vars), "class", def.Class)
	return nil
}

func (d *daemon) loadResults(def config.DefinitionFile) error {
	if def.Path == "" {
		return nil
	}
	f, err := os.Open(def.Path)
	if err != nil {
		return fmt.Errorf("open result definitions: %w", err)
	}
	defer f.Close()

	results, err := d.results.Create(f)
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := d.info.AttachResult(r); err != nil {
			d.logger.Warn("Result not attached", "id", r.ID(), "error", err)
		}
	}
	d.logger.Info("Results loaded", "path", def.Path, "count", len(results))
	return nil
}

func parseClass(s string) (infoserver.Class, bool) {
	switch s {
	case "A":
		return infoserver.ClassA, true
	case "B":
		return infoserver.ClassB, true
	case "C":
		return infoserver.ClassC, true
	}
	return 0, false
}

// run starts every goroutine and blocks until ctx is done, then shuts down
// within timeout and persists the conversion tables
func (d *daemon) run(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.coord.Run(gctx) })

	if err := d.srv.Start(gctx); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	if d.tables.watch != nil {
		g.Go(func() error {
			err := d.tables.watch(gctx, func() {
				if err := d.coord.Do(func() {
					n := d.units.Load()
					d.logger.Info("Conversion tables reloaded", "followers", n)
				}); err != nil {
					d.logger.Debug("Reload skipped", "error", err)
				}
			})
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if mc := d.cfg.Metrics; mc.Enabled {
		ms := metric.NewServer(mc.Address, mc.Path, d.reg, d.monitor.Check(appName))
		g.Go(func() error { return ms.Start(gctx) })
	}

	if wc := d.cfg.WebSocket; wc.Enabled {
		ln, err := net.Listen("tcp", wc.Address)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("websocket listen on %s: %w", wc.Address, err)
		}
		path := wc.Path
		if path == "" {
			path = websocket.DefaultPath
		}
		mux := http.NewServeMux()
		mux.Handle(path, websocket.NewHandler(d.srv, websocket.WithLogger(d.logger)))
		hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second, TLSConfig: d.srv.TLSConfig()}
		g.Go(func() error {
			var err error
			if hs.TLSConfig != nil {
				err = hs.ServeTLS(ln, "", "")
			} else {
				err = hs.Serve(ln)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			return hs.Close()
		})
		d.logger.Info("WebSocket listener started", "address", wc.Address, "path", path)
	}

	close(d.ready)
	d.logger.Info("GII information server started", "address", d.srv.Addr())

	<-gctx.Done()
	d.logger.Info("Shutting down")
	if err := d.srv.Stop(timeout); err != nil {
		d.logger.Error("Server stop failed", "error", err)
	}
	cancel()
	err := g.Wait()

	// the coordinator has returned, the entities are ours again
	if serr := d.units.Save(); serr != nil {
		d.logger.Error("Saving conversion tables failed", "error", serr)
	} else if ferr := d.tables.Flush(); ferr != nil {
		d.logger.Error("Flushing conversion tables failed", "error", ferr)
	}
	d.units.Close()
	d.info.Close()
	if cerr := d.tables.Close(); cerr != nil {
		d.logger.Warn("Closing store failed", "error", cerr)
	}
	d.logger.Info("GII information server stopped")
	return err
}
