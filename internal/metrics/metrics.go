// Package metrics exposes the edge node's Prometheus metrics.
//
// Every method is safe on a nil *Metrics, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graylogic_edge"

// Metrics holds the collectors and the registry they are registered in.
type Metrics struct {
	registry *prometheus.Registry

	cycles       *prometheus.CounterVec
	readings     *prometheus.GaugeVec
	state        *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	commands     *prometheus.CounterVec
	publishes    *prometheus.CounterVec
	cbState      *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors in a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Control loop cycles by outcome (ok, skipped).",
		}, []string{"loop", "outcome"}),
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading_value",
			Help:      "Last derived sensor value per loop.",
		}, []string{"loop"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actuator_on",
			Help:      "Actuator state per loop (1 on, 0 off).",
		}, []string{"loop"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Actuator transitions by loop, new state and cause.",
		}, []string{"loop", "state", "source"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Remote commands by method and outcome.",
		}, []string{"method", "outcome"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Telemetry publishes by target and outcome.",
		}, []string{"target", "outcome"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cb_state",
			Help:      "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Status API requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Status API request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.readings,
		m.state,
		m.transitions,
		m.commands,
		m.publishes,
		m.cbState,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Cycle counts one control loop cycle.
func (m *Metrics) Cycle(loop string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "skipped"
	}
	m.cycles.WithLabelValues(loop, outcome).Inc()
}

// Reading records the last derived value of a loop.
func (m *Metrics) Reading(loop string, value float64) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(loop).Set(value)
}

// Transition counts an actuator transition and updates the state gauge.
func (m *Metrics) Transition(loop string, on bool, source string) {
	if m == nil {
		return
	}
	state, value := "Off", 0.0
	if on {
		state, value = "On", 1
	}
	m.transitions.WithLabelValues(loop, state, source).Inc()
	m.state.WithLabelValues(loop).Set(value)
}

// Command counts a remote command. outcome is applied, rejected or
// duplicate.
func (m *Metrics) Command(method, outcome string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.commands.WithLabelValues(method, outcome).Inc()
}

// Publish counts a publish to one telemetry target.
func (m *Metrics) Publish(target string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.publishes.WithLabelValues(target, outcome).Inc()
}

// BreakerState records a circuit breaker state (0 closed, 1 half, 2 open).
func (m *Metrics) BreakerState(target string, state int) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(float64(state))
}

// QueueDepth registers a gauge reporting the offline queue length of a
// broker connection.
func (m *Metrics) QueueDepth(broker string, depth func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "broker_queue_depth",
		Help:        "Messages waiting in a broker's offline queue.",
		ConstLabels: prometheus.Labels{"broker": broker},
	}, func() float64 { return float64(depth()) }))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their durations under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
