package bridge

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()

	timer := m.NewCommandTimer("reset")
	timer.Success()
	timer = m.NewCommandTimer("step")
	timer.Error("step_failed")
	m.RecordProtocolError("invalid_json")
	m.UpdateProcessStatus("python3", true)
	m.RecordSessionStarted()

	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_commands_total", "reset", "success"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_commands_total", "step", "error"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_command_errors_total", "step", "step_failed"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_protocol_errors_total", "invalid_json"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_process_status", "python3"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_sessions_active"))

	m.UpdateProcessStatus("python3", false)
	m.RecordSessionEnded()
	assert.Equal(t, 0.0, metricValue(t, m, "envbridge_process_status", "python3"))
	assert.Equal(t, 0.0, metricValue(t, m, "envbridge_sessions_active"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_sessions_total"))
}

func TestCommandTimer(t *testing.T) {
	var none *Metrics
	assert.GreaterOrEqual(t, none.NewCommandTimer("step").Success(), time.Duration(0))
	assert.GreaterOrEqual(t, none.NewCommandTimer("step").Error("step_failed"), time.Duration(0))

	m := NewMetrics()
	m.NewCommandTimer("init").Error("init_failed")
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_commands_total", "init", "error"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_command_errors_total", "init", "init_failed"))
}

func TestLoopCountsProtocolErrors(t *testing.T) {
	m := NewMetrics()
	input := "nope\n{\"cmd\":\"fly\"}\n{\"cmd\":\"reset\",\"game_file\":5}\n{\"cmd\":\"step\"}\n"
	lines, err := runLines(t, &MockController{}, input, WithMetrics(m))
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"status":"error","error":"Invalid field game_file: expected string, got number"}`, lines[2])

	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_protocol_errors_total", "invalid_json"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_protocol_errors_total", "invalid_field"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_protocol_errors_total", "unknown_command"))
	assert.Equal(t, 1.0, metricValue(t, m, "envbridge_steps_total", "false"))
}

func TestMetricsServer(t *testing.T) {
	m := NewMetrics()
	m.RecordEpisode()

	srv, err := NewMetricsServer("127.0.0.1:0", "/metrics", m, quietLogger())
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "envbridge_episodes_total 1")

	health, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

// metricValue returns the value of the series of name carrying exactly the
// given label values. Missing series read as zero.
func metricValue(t testing.TB, m *Metrics, name string, labels ...string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, metric := range mf.GetMetric() {
			pairs := metric.GetLabel()
			if len(pairs) != len(labels) {
				continue
			}
			for _, want := range labels {
				found := false
				for _, p := range pairs {
					if p.GetValue() == want {
						found = true
						break
					}
				}
				if !found {
					continue series
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}
