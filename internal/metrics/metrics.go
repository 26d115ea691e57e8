// Package metrics provides Prometheus-based metrics collection for netsweep.
// It tracks probe and port-scan volume, outcomes, durations, and in-flight
// operation counts so a sweep's behavior can be observed and bounded.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all netsweep metrics.
	namespace = "netsweep"

	subsystemProbe = "probe"
	subsystemScan  = "scan"
)

// Metrics holds all Prometheus metric collectors for a sweep engine.
type Metrics struct {
	// Probe metrics.
	probesTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram
	hostsLive     prometheus.Counter

	// Port-scan metrics.
	portsScanned  *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	scanRetries   prometheus.Counter
	inFlight      prometheus.Gauge
	rateLimitWait prometheus.Histogram

	startTime time.Time
	registry  *prometheus.Registry
}

// New creates a metrics instance with all collectors registered on a
// dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,
	}

	m.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total reachability probes by outcome",
		},
		[]string{"outcome"},
	)

	m.probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of reachability probes in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 3.0, 5.0},
		},
	)

	m.hostsLive = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "hosts_live_total",
			Help:      "Hosts that answered at least one reachability probe",
		},
	)

	m.portsScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_total",
			Help:      "Port probes by resulting state",
		},
		[]string{"state"},
	)

	m.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of single port probes in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 3.0, 5.0},
		},
	)

	m.scanRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "retries_total",
			Help:      "Port probe retries after transient resource errors",
		},
	)

	m.inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "in_flight",
			Help:      "Operations currently admitted through the gate",
		},
	)

	m.rateLimitWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for gate admission",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		},
	)

	registry.MustRegister(
		m.probesTotal,
		m.probeDuration,
		m.hostsLive,
		m.portsScanned,
		m.scanDuration,
		m.scanRetries,
		m.inFlight,
		m.rateLimitWait,
	)
	registry.MustRegister(collectors.NewGoCollector())

	return m
}

// Registry returns the underlying Prometheus registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordProbe records one reachability probe and its duration.
func (m *Metrics) RecordProbe(live bool, duration time.Duration) {
	outcome := "down"
	if live {
		outcome = "live"
		m.hostsLive.Inc()
	}
	m.probesTotal.WithLabelValues(outcome).Inc()
	m.probeDuration.Observe(duration.Seconds())
}

// RecordPortScan records one port probe by resulting state.
func (m *Metrics) RecordPortScan(state string, duration time.Duration) {
	m.portsScanned.WithLabelValues(state).Inc()
	m.scanDuration.Observe(duration.Seconds())
}

// RecordRetry counts one transient-error retry.
func (m *Metrics) RecordRetry() {
	m.scanRetries.Inc()
}

// RecordAdmissionWait records time spent blocked on the admission gate.
func (m *Metrics) RecordAdmissionWait(wait time.Duration) {
	m.rateLimitWait.Observe(wait.Seconds())
}

// OpStarted marks one admitted operation as in flight.
func (m *Metrics) OpStarted() {
	m.inFlight.Inc()
}

// OpFinished marks one in-flight operation as complete.
func (m *Metrics) OpFinished() {
	m.inFlight.Dec()
}

var (
	defaultMetrics *Metrics
	defaultMu      sync.Mutex
)

// Default returns the process-wide metrics instance, creating it on first use.
func Default() *Metrics {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultMetrics == nil {
		defaultMetrics = New()
	}
	return defaultMetrics
}

// SetDefault replaces the process-wide metrics instance, for tests.
func SetDefault(m *Metrics) {
	defaultMu.Lock()
	defaultMetrics = m
	defaultMu.Unlock()
}
