package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records the library's standard metrics. Label values are passed
// positionally in the order the metric declares them; only MetricRunsTotal
// takes one (the outcome).
type Metrics interface {
	Counter(name string, delta float64, labelValues ...string)
	Observe(name string, value float64, labelValues ...string)
	Gauge(name string, value float64)
}

type NopMetrics struct{}

func (NopMetrics) Counter(string, float64, ...string) {}
func (NopMetrics) Observe(string, float64, ...string) {}
func (NopMetrics) Gauge(string, float64)              {}

// Prometheus backs Metrics with a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	mu       sync.RWMutex
	counters map[string]*prometheus.CounterVec
	hists    map[string]*prometheus.HistogramVec
	gauges   map[string]prometheus.Gauge
}

// NewPrometheus registers the standard metrics under namespace.
func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec),
		hists:    make(map[string]*prometheus.HistogramVec),
		gauges:   make(map[string]prometheus.Gauge),
	}
	p.counter(namespace, MetricRunsTotal, "Batch runs by outcome.", "outcome")
	p.counter(namespace, MetricItemsRendered, "Symbols rendered and placed.")
	p.counter(namespace, MetricPagesWritten, "Pages in finalized documents.")
	p.counter(namespace, MetricObjectsWritten, "Indirect PDF objects written.")
	p.counter(namespace, MetricBytesWritten, "PDF object bytes written.")
	p.histogram(namespace, MetricRunDuration, "Wall time of a batch run in seconds.",
		[]float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120})
	p.histogram(namespace, MetricItemDuration, "Render and place time per item in seconds.",
		prometheus.ExponentialBuckets(0.0005, 2, 12))

	progress := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      MetricProgress,
		Help:      "Progress of the active run (0-100).",
	})
	p.registry.MustRegister(progress)
	p.gauges[MetricProgress] = progress
	return p
}

func (p *Prometheus) counter(namespace, name, help string, labels ...string) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	p.registry.MustRegister(c)
	p.counters[name] = c
}

func (p *Prometheus) histogram(namespace, name, help string, buckets []float64) {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, nil)
	p.registry.MustRegister(h)
	p.hists[name] = h
}

// Counter adds delta to a registered counter. Unknown names and label
// mismatches are ignored.
func (p *Prometheus) Counter(name string, delta float64, labelValues ...string) {
	p.mu.RLock()
	c, ok := p.counters[name]
	p.mu.RUnlock()
	if !ok {
		return
	}
	if m, err := c.GetMetricWithLabelValues(labelValues...); err == nil {
		m.Add(delta)
	}
}

func (p *Prometheus) Observe(name string, value float64, labelValues ...string) {
	p.mu.RLock()
	h, ok := p.hists[name]
	p.mu.RUnlock()
	if !ok {
		return
	}
	if m, err := h.GetMetricWithLabelValues(labelValues...); err == nil {
		m.Observe(value)
	}
}

func (p *Prometheus) Gauge(name string, value float64) {
	p.mu.RLock()
	g, ok := p.gauges[name]
	p.mu.RUnlock()
	if ok {
		g.Set(value)
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
