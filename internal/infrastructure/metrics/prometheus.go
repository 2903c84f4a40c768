// Package metrics adapts ports.MetricsCollector onto
// prometheus/client_golang, giving the controller and drones concrete
// counters, gauges and histograms for phase/step/marker/deploy timing.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements ports.MetricsCollector, lazily creating and
// caching one prometheus metric vector per name the first time it's
// observed; the label names of that first observation are kept for
// later calls under the same name.
type Collector struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// New constructs a Collector registered against a fresh registry.
func New() *Collector {
	return &Collector{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry for an HTTP /metrics handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// IncCounter implements ports.MetricsCollector.
func (c *Collector) IncCounter(ctx context.Context, name string, labels map[string]string) {
	vec := c.counterVec(name, labels)
	vec.With(prometheus.Labels(labels)).Inc()
}

// SetGauge implements ports.MetricsCollector.
func (c *Collector) SetGauge(ctx context.Context, name string, value float64, labels map[string]string) {
	vec := c.gaugeVec(name, labels)
	vec.With(prometheus.Labels(labels)).Set(value)
}

// ObserveHistogram implements ports.MetricsCollector.
func (c *Collector) ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string) {
	vec := c.histogramVec(name, labels)
	vec.With(prometheus.Labels(labels)).Observe(value)
}

func (c *Collector) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vec, ok := c.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricName(name),
		Help: name,
	}, labelNames(labels))
	c.registry.MustRegister(vec)
	c.counters[name] = vec
	return vec
}

func (c *Collector) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vec, ok := c.gauges[name]; ok {
		return vec
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricName(name),
		Help: name,
	}, labelNames(labels))
	c.registry.MustRegister(vec)
	c.gauges[name] = vec
	return vec
}

func (c *Collector) histogramVec(name string, labels map[string]string) *prometheus.HistogramVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vec, ok := c.histograms[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricName(name),
		Help:    name,
		Buckets: prometheus.DefBuckets,
	}, labelNames(labels))
	c.registry.MustRegister(vec)
	c.histograms[name] = vec
	return vec
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

// metricName prefixes raw metric names with the installer's namespace
// unless the caller already supplied it, matching the fleetctl_* naming
// convention used across the controller and drone packages.
func metricName(name string) string {
	if len(name) > len("fleetctl_") && name[:len("fleetctl_")] == "fleetctl_" {
		return name
	}
	return "fleetctl_" + name
}
