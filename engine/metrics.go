package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"telehub/robot"
)

// Metrics holds the hub's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	stateUpdates   prometheus.Counter
	battery        prometheus.Gauge
	robotConnected prometheus.Gauge
	mode           *prometheus.GaugeVec
	shellBytes     prometheus.Counter
	shellCommands  prometheus.Counter
	shellConnected prometheus.Gauge
	simulation     prometheus.Gauge
}

var allModes = []robot.Mode{robot.ModeIdle, robot.ModeManual, robot.ModeAutonomous, robot.ModeEmergencyStop}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stateUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telehub_state_updates_total",
			Help: "Snapshots published by the state store.",
		}),
		battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telehub_battery_percent",
			Help: "Last reported battery level.",
		}),
		robotConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telehub_robot_connected",
			Help: "1 when the robot is reported connected.",
		}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "telehub_robot_mode",
			Help: "1 for the current robot mode, 0 for the others.",
		}, []string{"mode"}),
		shellBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telehub_shell_bytes_received_total",
			Help: "Bytes of shell output delivered to consumers.",
		}),
		shellCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telehub_shell_commands_total",
			Help: "Lines written to the remote shell.",
		}),
		shellConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telehub_shell_connected",
			Help: "1 while an interactive shell is open.",
		}),
		simulation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telehub_simulation_running",
			Help: "1 while the telemetry simulator is running.",
		}),
	}
	m.registry.MustRegister(
		m.stateUpdates, m.battery, m.robotConnected, m.mode,
		m.shellBytes, m.shellCommands, m.shellConnected, m.simulation,
	)
	return m
}

// Registry is served by the web layer at /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeState(st *robot.State) {
	m.stateUpdates.Inc()
	m.battery.Set(st.BatteryLevel)
	m.robotConnected.Set(boolGauge(st.Connected))
	for _, mode := range allModes {
		m.mode.WithLabelValues(string(mode)).Set(boolGauge(st.Mode == mode))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
