// Package metrics exposes Prometheus instrumentation for forwards served
// through the HTTP API.
package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graft"

// Selection labels for forwards that do not name their adapters.
const (
	SelectionGlobal = "global"
	SelectionNone   = "none"
)

// Metrics holds the collectors on a private registry so several servers
// (and tests) can coexist in one process.
type Metrics struct {
	reg *prometheus.Registry

	requests *prometheus.CounterVec
	forwards *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	adapters *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		forwards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "forward",
				Name:      "total",
				Help:      "Forwards by adapter selection and outcome",
			},
			[]string{"selection", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "forward",
				Name:      "duration_seconds",
				Help:      "Forward latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"selection"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forward",
			Name:      "inflight",
			Help:      "Forwards currently running",
		}),
		adapters: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "adapter_active",
				Help:      "1 when the adapter is globally active, 0 when registered but inactive",
			},
			[]string{"adapter", "kind"},
		),
	}
	m.reg.MustRegister(m.requests, m.forwards, m.duration, m.inflight, m.adapters)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Selection builds the label for an adapter selection. nil means the forward
// used global activation state.
func Selection(names []string) string {
	if names == nil {
		return SelectionGlobal
	}
	if len(names) == 0 {
		return SelectionNone
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// StartForward marks a forward as running and returns the func that records
// its outcome.
func (m *Metrics) StartForward(selection string) func(err error) {
	m.inflight.Inc()
	start := time.Now()
	return func(err error) {
		m.inflight.Dec()
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.forwards.WithLabelValues(selection, outcome).Inc()
		m.duration.WithLabelValues(selection).Observe(time.Since(start).Seconds())
	}
}

// ObserveRequest counts one HTTP request against its route pattern.
func (m *Metrics) ObserveRequest(route, method string, status int) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// AdapterState is one row for SetAdapters.
type AdapterState struct {
	Name   string
	Kind   string
	Active bool
}

// SetAdapters replaces the adapter gauge with the given states.
func (m *Metrics) SetAdapters(states []AdapterState) {
	m.adapters.Reset()
	for _, s := range states {
		v := 0.0
		if s.Active {
			v = 1
		}
		m.adapters.WithLabelValues(s.Name, s.Kind).Set(v)
	}
}
