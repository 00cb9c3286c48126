package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gii/metric"
)

type bufferMetrics struct {
	writes prometheus.Counter
	drops  prometheus.Counter
	size   prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"buffer": prefix}
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: "writes_total",
			ConstLabels: labels, Help: "Items written to the buffer",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: "drops_total",
			ConstLabels: labels, Help: "Items discarded by the overflow policy",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: "size",
			ConstLabels: labels, Help: "Items currently held",
		}),
	}

	service := "buffer_" + prefix
	if err := registry.RegisterCounter(service, "writes_total", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "drops_total", m.drops); err != nil {
		registry.Unregister(service, "writes_total")
		return nil, err
	}
	if err := registry.RegisterGauge(service, "size", m.size); err != nil {
		registry.Unregister(service, "writes_total")
		registry.Unregister(service, "drops_total")
		return nil, err
	}
	return m, nil
}
