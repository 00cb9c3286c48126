// Package metric provides the Prometheus registry and HTTP endpoint of a GII process.
//
// NewMetricsRegistry creates a private prometheus.Registry holding the core metrics
// (connections, packets, relay wait, information server state) plus the Go runtime
// collectors. Components that own additional collectors register them through the
// MetricsRegistrar interface, keyed by service and metric name so a second
// registration of the same pair is rejected as invalid:
//
//	reg := metric.NewMetricsRegistry()
//	reg.CoreMetrics().RecordConnectionOpened("server")
//
//	srv := metric.NewServer(":9090", "/metrics", reg, nil)
//	go srv.Start(ctx)
//
// Server also answers /health, backed by an optional HealthFunc.
package metric
