// Package metrics exposes Prometheus collectors for the upload and
// publish paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "torque2mqtt"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	uploads         prometheus.Counter
	rejected        *prometheus.CounterVec
	fields          *prometheus.CounterVec
	sessions        prometheus.Gauge
	publishAttempts prometheus.Counter
	publishAcks     prometheus.Counter
	publishLatency  prometheus.Histogram
	ackDebt         prometheus.Gauge
	rebuilds        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Torque uploads accepted.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Torque uploads rejected, by reason.",
		}, []string{"reason"}),
		fields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_total",
			Help:      "Upload fields seen, by classification.",
		}, []string{"class"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sessions currently held in memory.",
		}),
		publishAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Broker publishes attempted.",
		}),
		publishAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_acks_total",
			Help:      "Broker publishes acknowledged.",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_ack_seconds",
			Help:      "Time from publish attempt to broker acknowledgement.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		ackDebt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ack_debt",
			Help:      "Publishes attempted but not yet acknowledged since the last watchdog reset.",
		}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_rebuilds_total",
			Help:      "Broker client rebuilds, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.uploads, m.rejected, m.fields, m.sessions,
		m.publishAttempts, m.publishAcks, m.publishLatency,
		m.ackDebt, m.rebuilds,
	)
	return m
}

// Upload records one accepted upload and its field breakdown.
func (m *Metrics) Upload(known, ignored, unknown int) {
	if m == nil {
		return
	}
	m.uploads.Inc()
	m.fields.WithLabelValues("known").Add(float64(known))
	m.fields.WithLabelValues("ignored").Add(float64(ignored))
	m.fields.WithLabelValues("unknown").Add(float64(unknown))
}

// Rejected records an upload turned away before classification.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// SetSessions records the number of live sessions.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// PublishAttempt records a publish handed to the broker client.
func (m *Metrics) PublishAttempt() {
	if m == nil {
		return
	}
	m.publishAttempts.Inc()
}

// PublishAck records a broker acknowledgement and how long it took.
func (m *Metrics) PublishAck(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.publishAcks.Inc()
	m.publishLatency.Observe(elapsed.Seconds())
}

// SetAckDebt records the watchdog's outstanding publish count.
func (m *Metrics) SetAckDebt(n int64) {
	if m == nil {
		return
	}
	m.ackDebt.Set(float64(n))
}

// Rebuild records a broker client replacement.
func (m *Metrics) Rebuild(reason string) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(reason).Inc()
}
