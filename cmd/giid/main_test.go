package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/config"
	"github.com/c360/gii/connection"
	"github.com/c360/gii/infoserver"
	"github.com/c360/gii/pkg/retry"
	"github.com/c360/gii/server"
	"github.com/c360/gii/variable"
)

func noEnv(string) string { return "" }

func TestParseFlags(t *testing.T) {
	var out bytes.Buffer
	cli, err := parseFlags([]string{"-listen", "127.0.0.1:5000", "-log-format", "text"}, noEnv, &out)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", cli.Listen)
	assert.Equal(t, "text", cli.LogFormat)
	assert.Equal(t, "info", cli.LogLevel)
	assert.Equal(t, 10*time.Second, cli.ShutdownTimeout)

	env := map[string]string{"GII_LOG_LEVEL": "warn", "GII_DEBUG": "true", "GII_SHUTDOWN_TIMEOUT": "3s"}
	cli, err = parseFlags(nil, func(k string) string { return env[k] }, &out)
	require.NoError(t, err)
	assert.Equal(t, "debug", cli.LogLevel, "debug wins over the level")
	assert.Equal(t, 3*time.Second, cli.ShutdownTimeout)

	_, err = parseFlags([]string{"-log-level", "loud"}, noEnv, &out)
	assert.Error(t, err)
	_, err = parseFlags([]string{"-config", filepath.Join(t.TempDir(), "missing.json")}, noEnv, &out)
	assert.Error(t, err)
}

func TestRun_VersionAndValidate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, noEnv, &out))
	assert.Contains(t, out.String(), Version)

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-validate", "-log-format", "text"}, noEnv, &out))
	assert.Contains(t, out.String(), "Configuration is valid")

	err := run(context.Background(), []string{"-validate", "-listen", "nowhere"}, noEnv, &out)
	assert.Error(t, err)
}

func TestNewLogger_Levels(t *testing.T) {
	var out bytes.Buffer
	logger := newLogger(&out, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `"msg":"shown"`)
	assert.Contains(t, out.String(), `"service":"giid"`)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := newLogger(&bytes.Buffer{}, "error", "text")

	mem, err := openStore(ctx, config.StoreConfig{Backend: "memory"}, logger)
	require.NoError(t, err)
	assert.Nil(t, mem.watch)
	assert.NoError(t, mem.Flush())
	assert.NoError(t, mem.Close())

	path := filepath.Join(t.TempDir(), "units.yaml")
	y, err := openStore(ctx, config.StoreConfig{Backend: "yaml", Path: path, Watch: true}, logger)
	require.NoError(t, err)
	assert.NotNil(t, y.watch)
	require.NoError(t, y.Set("Metric", "m/s,1", "1,0"))
	require.NoError(t, y.Flush())
	_, err = os.Stat(path)
	assert.NoError(t, err)

	b, err := openStore(ctx, config.StoreConfig{Backend: "badger", Path: t.TempDir()}, logger)
	require.NoError(t, err)
	require.NoError(t, b.Set("Metric", "m,0", "1,0"))
	v, ok := b.Get("Metric", "m,0")
	assert.True(t, ok)
	assert.Equal(t, "1,0", v)
	assert.NoError(t, b.Close())

	_, err = openStore(ctx, config.StoreConfig{Backend: "redis"}, logger)
	assert.Error(t, err)
}

func TestDaemon_ServesDefinitions(t *testing.T) {
	dir := t.TempDir()
	varsPath := filepath.Join(dir, "variables.txt")
	require.NoError(t, os.WriteFile(varsPath, []byte(
		"; speed control\n"+
			"0x2000,Main|Speed,,E,Speed,FLOAT,,0.1,3,0,100\n"), 0o644))
	tablesPath := filepath.Join(dir, "units.yaml")

	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.ReadWait = config.Duration(20 * time.Millisecond)
	cfg.Server.Tick = config.Duration(10 * time.Millisecond)
	cfg.Metrics.Enabled = false
	cfg.Store = config.StoreConfig{Backend: "yaml", Path: tablesPath}
	cfg.Variables = config.DefinitionFile{Path: varsPath, Class: "B"}

	logger := newLogger(&bytes.Buffer{}, "debug", "text")
	d, err := newDaemon(context.Background(), cfg, logger)
	require.NoError(t, err)
	speed, ok := d.vars.Lookup(0x2000)
	require.True(t, ok)
	c, ok := d.info.ClassOf(speed)
	require.True(t, ok)
	assert.Equal(t, infoserver.ClassB, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx, 5*time.Second) }()
	select {
	case <-d.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon not ready")
	}

	clientCoord := server.NewCoordinator(10 * time.Millisecond)
	clientVars := variable.NewSpace()
	cctx, ccancel := context.WithCancel(ctx)
	go func() { _ = clientCoord.Run(cctx) }()

	nc, err := server.Dial(cctx, d.srv.Addr().String(), retry.Connect())
	require.NoError(t, err)
	clientCfg := connection.DefaultConfig(connection.RoleClient)
	clientCfg.ReadWait = 20 * time.Millisecond
	clientDone := make(chan error, 1)
	go func() {
		clientDone <- server.Replicate(cctx, nc, clientCfg, server.ClientDeps{Coordinator: clientCoord, Variables: clientVars})
	}()

	assert.Eventually(t, func() bool {
		var got float64
		_ = clientCoord.Do(func() {
			if v, ok := clientVars.Lookup(0x2000); ok {
				got = v.CurValue(false).Float()
			}
		})
		return got == 3
	}, 5*time.Second, 10*time.Millisecond)

	ccancel()
	<-clientDone
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}

	_, err = os.Stat(tablesPath)
	assert.NoError(t, err, "tables saved on shutdown")
}
