package bridge

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge
type Metrics struct {
	// Command metrics
	commandsTotal  *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
	commandErrors  *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	commandsPanics prometheus.Counter

	// Session metrics
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	episodesTotal  prometheus.Counter
	stepsTotal     *prometheus.CounterVec

	// Process metrics
	processStatus *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with all bridge metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envbridge_commands_total",
				Help: "Total number of commands processed by kind and status",
			},
			[]string{"command", "status"},
		),

		commandLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "envbridge_command_duration_seconds",
				Help:    "Command processing latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"command"},
		),

		commandErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envbridge_command_errors_total",
				Help: "Total number of failed commands by error type",
			},
			[]string{"command", "error_type"},
		),

		protocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envbridge_protocol_errors_total",
				Help: "Total number of request lines rejected before dispatch",
			},
			[]string{"reason"},
		),

		commandsPanics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "envbridge_command_panics_total",
				Help: "Total number of commands recovered from a panic",
			},
		),

		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "envbridge_sessions_active",
				Help: "Whether an engine is currently initialized (1) or not (0)",
			},
		),

		sessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "envbridge_sessions_total",
				Help: "Total number of successful engine initializations",
			},
		),

		episodesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "envbridge_episodes_total",
				Help: "Total number of episodes started",
			},
		),

		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envbridge_steps_total",
				Help: "Total number of steps by whether they ended the episode",
			},
			[]string{"done"},
		),

		processStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "envbridge_process_status",
				Help: "Status of engine worker process (1=running, 0=stopped)",
			},
			[]string{"command"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.commandsTotal,
		m.commandLatency,
		m.commandErrors,
		m.protocolErrors,
		m.commandsPanics,
		m.sessionsActive,
		m.sessionsTotal,
		m.episodesTotal,
		m.stepsTotal,
		m.processStatus,
	)

	return m
}

// RecordCommand records metrics for a processed command
func (m *Metrics) RecordCommand(command, status string, duration time.Duration) {
	m.commandsTotal.WithLabelValues(command, status).Inc()
	m.commandLatency.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordCommandError records a failed command
func (m *Metrics) RecordCommandError(command, errorType string) {
	m.commandErrors.WithLabelValues(command, errorType).Inc()
}

// RecordProtocolError records a request line rejected before dispatch
func (m *Metrics) RecordProtocolError(reason string) {
	m.protocolErrors.WithLabelValues(reason).Inc()
}

// RecordPanic records a command recovered from a panic
func (m *Metrics) RecordPanic() {
	m.commandsPanics.Inc()
}

// RecordSessionStarted records a successful init
func (m *Metrics) RecordSessionStarted() {
	m.sessionsTotal.Inc()
	m.sessionsActive.Set(1)
}

// RecordSessionEnded records the engine being released
func (m *Metrics) RecordSessionEnded() {
	m.sessionsActive.Set(0)
}

// RecordEpisode records a successful reset
func (m *Metrics) RecordEpisode() {
	m.episodesTotal.Inc()
}

// RecordStep records a successful step
func (m *Metrics) RecordStep(done bool) {
	label := "false"
	if done {
		label = "true"
	}
	m.stepsTotal.WithLabelValues(label).Inc()
}

// UpdateProcessStatus updates the process status metric
func (m *Metrics) UpdateProcessStatus(command string, running bool) {
	status := 0.0
	if running {
		status = 1.0
	}
	m.processStatus.WithLabelValues(command).Set(status)
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CommandTimer measures one command. A timer from a nil *Metrics only measures.
type CommandTimer struct {
	start   time.Time
	metrics *Metrics
	command string
}

// NewCommandTimer starts timing command. m may be nil.
func (m *Metrics) NewCommandTimer(command string) *CommandTimer {
	return &CommandTimer{
		start:   time.Now(),
		metrics: m,
		command: command,
	}
}

// Success records a successful command and returns its duration
func (ct *CommandTimer) Success() time.Duration {
	d := time.Since(ct.start)
	if ct.metrics != nil {
		ct.metrics.RecordCommand(ct.command, "success", d)
	}
	return d
}

// Error records a failed command and returns its duration
func (ct *CommandTimer) Error(errorType string) time.Duration {
	d := time.Since(ct.start)
	if ct.metrics != nil {
		ct.metrics.RecordCommand(ct.command, "error", d)
		ct.metrics.RecordCommandError(ct.command, errorType)
	}
	return d
}
