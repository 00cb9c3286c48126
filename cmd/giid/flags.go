package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	Listen          string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags(args []string, getenv func(string) string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config", envString(getenv, "GII_CONFIG", ""),
		"Path to the JSON configuration file, defaults only when empty (env: GII_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", envString(getenv, "GII_CONFIG", ""),
		"Shorthand for -config")
	fs.StringVar(&cfg.Listen, "listen", "",
		"Protocol listen address, overrides the configuration (env: GII_LISTEN)")
	fs.StringVar(&cfg.LogLevel, "log-level", envString(getenv, "GII_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: GII_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", envString(getenv, "GII_LOG_FORMAT", "json"),
		"Log format: json, text (env: GII_LOG_FORMAT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		envDuration(getenv, "GII_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: GII_SHUTDOWN_TIMEOUT)")
	debug := fs.Bool("debug", envBool(getenv, "GII_DEBUG", false), "Shorthand for -log-level=debug (env: GII_DEBUG)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate the configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(output, "%s - GII information server\n\nUsage: %s [options]\n\nOptions:\n", appName, appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, validateFlags(cfg)
}

func validateFlags(cfg *CLIConfig) error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	return nil
}

func envString(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(getenv func(string) string, key string, def bool) bool {
	if v, err := strconv.ParseBool(getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(getenv func(string) string, key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(getenv(key)); err == nil {
		return v
	}
	return def
}
