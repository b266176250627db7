// Package metrics provides Prometheus collectors for the dashboard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes used as the status label.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the dashboard collectors. A nil *Metrics is valid and records
// nothing, so components can run without a registry.
type Metrics struct {
	refreshesTotal    *prometheus.CounterVec
	refreshDuration   prometheus.Histogram
	pushEventsTotal   *prometheus.CounterVec
	pushConnected     prometheus.Gauge
	alarmsRaisedTotal prometheus.Counter
	countdownSeconds  prometheus.Gauge
	rows              prometheus.Gauge
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		refreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recent_images_refreshes_total",
				Help: "Total number of image list refreshes",
			},
			[]string{"status"},
		),
		refreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "recent_images_refresh_duration_seconds",
				Help: "Time taken to fetch the image list",
				// 10ms to ~20s
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		pushEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recent_images_push_events_total",
				Help: "Total number of events received from the push channel",
			},
			[]string{"event"},
		),
		pushConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recent_images_push_connected",
				Help: "1 while the push channel subscription is open",
			},
		),
		alarmsRaisedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recent_images_alarms_raised_total",
				Help: "Total number of times the no-new-images alarm was raised",
			},
		),
		countdownSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recent_images_countdown_seconds",
				Help: "Seconds left before the alarm; -1 when not running",
			},
		),
		rows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recent_images_rows",
				Help: "Number of rows in the current table",
			},
		),
	}

	for _, c := range m.collectors() {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.refreshesTotal,
		m.refreshDuration,
		m.pushEventsTotal,
		m.pushConnected,
		m.alarmsRaisedTotal,
		m.countdownSeconds,
		m.rows,
	}
}

// ObserveRefresh records one refresh attempt.
func (m *Metrics) ObserveRefresh(err error, took time.Duration) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.refreshesTotal.WithLabelValues(status).Inc()
	m.refreshDuration.Observe(took.Seconds())
}

// PushEvent counts an event received from the push channel.
func (m *Metrics) PushEvent(name string) {
	if m == nil {
		return
	}
	m.pushEventsTotal.WithLabelValues(name).Inc()
}

// SetPushConnected records whether the subscription is open.
func (m *Metrics) SetPushConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.pushConnected.Set(1)
	} else {
		m.pushConnected.Set(0)
	}
}

// AlarmRaised counts a raised alarm.
func (m *Metrics) AlarmRaised() {
	if m == nil {
		return
	}
	m.alarmsRaisedTotal.Inc()
}

// SetCountdown records the current countdown.
func (m *Metrics) SetCountdown(seconds int) {
	if m == nil {
		return
	}
	m.countdownSeconds.Set(float64(seconds))
}

// SetRows records the current row count.
func (m *Metrics) SetRows(n int) {
	if m == nil {
		return
	}
	m.rows.Set(float64(n))
}
