package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes for picomon_http_requests_total.
const (
	resultServed    = "served"
	resultDropped   = "dropped"
	resultTruncated = "truncated"
	resultError     = "error"
)

// Metrics groups the daemon's collectors on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	connsOpen    prometheus.Gauge
	samples      prometheus.Counter
	sampleErrors *prometheus.CounterVec
	button       prometheus.Gauge
	joystick     prometheus.Gauge
	wifiAttempts *prometheus.CounterVec
	wsClients    prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics(version string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picomon_http_requests_total",
			Help: "Status page requests by outcome",
		}, []string{"result"}),
		connsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picomon_connections_open",
			Help: "Accepted status page connections not yet closed",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "picomon_samples_total",
			Help: "Sampling passes run by the main loop",
		}),
		sampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picomon_sample_errors_total",
			Help: "Failed sensor reads by input",
		}, []string{"input"}),
		button: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picomon_button_pressed",
			Help: "1 while the button is pressed",
		}),
		joystick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picomon_joystick_x_raw",
			Help: "Last raw joystick X conversion",
		}),
		wifiAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picomon_wifi_attempts_total",
			Help: "Network bootstrap attempts by stage and outcome",
		}, []string{"stage", "outcome"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picomon_ws_clients",
			Help: "Connected state websocket clients",
		}),
	}

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "picomon_build_info",
		Help: "Build information",
	}, []string{"version"})
	buildInfo.WithLabelValues(version).Set(1)

	m.registry.MustRegister(
		m.requests, m.connsOpen, m.samples, m.sampleErrors,
		m.button, m.joystick, m.wifiAttempts, m.wsClients, buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) request(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connsOpen.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connsOpen.Dec()
}

func (m *Metrics) observeSample(s *SensorState) {
	if m == nil {
		return
	}
	m.samples.Inc()
	if s.ButtonPressed {
		m.button.Set(1)
	} else {
		m.button.Set(0)
	}
	m.joystick.Set(float64(s.JoystickX))
}

func (m *Metrics) sampleError(input string) {
	if m == nil {
		return
	}
	m.sampleErrors.WithLabelValues(input).Inc()
}

func (m *Metrics) wifiAttempt(stage string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.wifiAttempts.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) setWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}
