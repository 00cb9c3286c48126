// Package main implements giictl, a command line client for GII information
// servers. It mirrors what a server exports and reads, writes and watches
// variables by id.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/gii/pkg/security"
)

const appName = "giictl"

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	addr    string
	timeout time.Duration
	settle  time.Duration
	verbose bool
	tls     security.ClientTLSConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   appName,
		Short: "Inspect and control a GII information server",
		Long: `giictl connects to a GII information server over TCP or WebSocket,
mirrors the variables and result data it exports and reads, writes or
watches them by id.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.addr, "addr", "a", envOr("GII_ADDR", "127.0.0.1:4711"),
		"server host:port, or a ws:// or wss:// URL (env: GII_ADDR)")
	pf.DurationVar(&opts.timeout, "timeout", 5*time.Second, "time to wait for the server and for entities to appear")
	pf.DurationVar(&opts.settle, "settle", 300*time.Millisecond, "time to let replication settle before listing or after writing")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log connection activity to stderr")
	pf.BoolVar(&opts.tls.Enabled, "tls", false, "use TLS for TCP connections")
	pf.StringSliceVar(&opts.tls.CAFiles, "ca", nil, "additional CA certificate files")
	pf.StringVar(&opts.tls.ServerName, "server-name", "", "expected server certificate name")
	pf.StringVar(&opts.tls.MTLS.CertFile, "cert", "", "client certificate file for mTLS")
	pf.StringVar(&opts.tls.MTLS.KeyFile, "key", "", "client key file for mTLS")
	pf.BoolVar(&opts.tls.InsecureSkipVerify, "insecure", false, "skip server certificate verification")

	root.AddCommand(
		newPingCmd(opts),
		newListCmd(opts),
		newGetCmd(opts),
		newSetCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func (o *globalOptions) isWebSocket() bool {
	return strings.HasPrefix(o.addr, "ws://") || strings.HasPrefix(o.addr, "wss://")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
