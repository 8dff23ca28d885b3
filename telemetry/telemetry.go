// Package telemetry holds the process metrics. Every metric starts as a
// no-op; InitMetrics swaps in Prometheus collectors once InitializeTelemetry
// has created the registry, so packages can record unconditionally.
package telemetry

import (
	"net/http"

	"github.com/maxpert/ringkv/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "ringkv"

var registry *prometheus.Registry

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
}

type Histogram interface {
	Observe(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

// NoopStat satisfies Counter, Gauge and Histogram
type NoopStat struct{}

func (NoopStat) Inc()            {}
func (NoopStat) Dec()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Observe(float64) {}

type noopCounterVec struct{}
type noopGaugeVec struct{}
type noopHistogramVec struct{}

func (noopCounterVec) With(...string) Counter     { return NoopStat{} }
func (noopGaugeVec) With(...string) Gauge         { return NoopStat{} }
func (noopHistogramVec) With(...string) Histogram { return NoopStat{} }

type counterVec struct{ *prometheus.CounterVec }
type gaugeVec struct{ *prometheus.GaugeVec }
type histogramVec struct{ *prometheus.HistogramVec }

func (v counterVec) With(values ...string) Counter     { return v.WithLabelValues(values...) }
func (v gaugeVec) With(values ...string) Gauge         { return v.WithLabelValues(values...) }
func (v histogramVec) With(values ...string) Histogram { return v.WithLabelValues(values...) }

// opts tags every series with the block and the process serving it
func opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		ConstLabels: prometheus.Labels{
			"block":    cfg.Config.NodeID,
			"instance": cfg.Config.InstanceID,
		},
	}
}

func NewCounter(name, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	c := prometheus.NewCounter(prometheus.CounterOpts(opts(name, help)))
	registry.MustRegister(c)
	return c
}

func NewGauge(name, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts(opts(name, help)))
	registry.MustRegister(g)
	return g
}

func NewHistogramWithBuckets(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}
	o := opts(name, help)
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   o.Namespace,
		Name:        o.Name,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
		Buckets:     buckets,
	})
	registry.MustRegister(h)
	return h
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts(opts(name, help)), labels)
	registry.MustRegister(v)
	return counterVec{v}
}

func NewGaugeVec(name, help string, labels []string) GaugeVec {
	if registry == nil {
		return noopGaugeVec{}
	}
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts(opts(name, help)), labels)
	registry.MustRegister(v)
	return gaugeVec{v}
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	if registry == nil {
		return noopHistogramVec{}
	}
	o := opts(name, help)
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   o.Namespace,
		Name:        o.Name,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
		Buckets:     buckets,
	}, labels)
	registry.MustRegister(v)
	return histogramVec{v}
}

// InitializeTelemetry creates the registry when metrics are enabled.
// Metrics created before this call stay no-ops.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Int("admin_port", cfg.Config.Admin.Port).Msg("Prometheus metrics enabled at /metrics on the admin port")
}

// GetMetricsHandler returns the /metrics handler, nil when metrics are disabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
