package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	DiscoveredDevices prometheus.Gauge
	Discoveries       prometheus.Counter
	SessionsOpened    prometheus.Counter
	ActiveSessions    prometheus.Gauge
	Launches          *prometheus.CounterVec
	ActiveStreams     prometheus.Gauge
	FramesForwarded   prometheus.Counter
	BytesForwarded    prometheus.Counter
	PacketsDropped    prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DiscoveredDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screencopy_discovered_devices",
			Help: "Number of USB devices found by the last discovery",
		}),
		Discoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screencopy_discoveries_total",
			Help: "Total number of device discoveries",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screencopy_sessions_opened_total",
			Help: "Total number of authenticated ADB sessions",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screencopy_active_sessions",
			Help: "Number of open ADB sessions",
		}),
		Launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screencopy_server_launches_total",
			Help: "scrcpy server launches by result",
		}, []string{"result"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screencopy_active_streams",
			Help: "Number of video streams attached to a panel",
		}),
		FramesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screencopy_frames_forwarded_total",
			Help: "Total number of data packets forwarded to panels",
		}),
		BytesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screencopy_bytes_forwarded_total",
			Help: "Total frame payload bytes forwarded to panels",
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screencopy_packets_dropped_total",
			Help: "Non-data packets not forwarded to panels",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screencopy_errors_total",
			Help: "Total number of flow errors by kind",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.DiscoveredDevices,
		m.Discoveries,
		m.SessionsOpened,
		m.ActiveSessions,
		m.Launches,
		m.ActiveStreams,
		m.FramesForwarded,
		m.BytesForwarded,
		m.PacketsDropped,
		m.ErrorsTotal,
	)
	return m
}

func (m *Metrics) RecordDiscovery(devices int) {
	if m == nil {
		return
	}
	m.Discoveries.Inc()
	m.DiscoveredDevices.Set(float64(devices))
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) RecordLaunch(result string) {
	if m == nil {
		return
	}
	m.Launches.WithLabelValues(result).Inc()
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *Metrics) RecordFrame(size int) {
	if m == nil {
		return
	}
	m.FramesForwarded.Inc()
	m.BytesForwarded.Add(float64(size))
}

func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.PacketsDropped.Inc()
}

func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}
