// Package metrics exposes Prometheus collectors for upload orchestration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "uploads"

// URL kinds counted by PresignedURLs.
const (
	URLKindPut  = "put"
	URLKindPart = "part"
	URLKindGet  = "get"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Planned       *prometheus.CounterVec
	Completed     *prometheus.CounterVec
	Failed        *prometheus.CounterVec
	Aborted       prometheus.Counter
	PresignedURLs *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Planned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planned_total",
			Help:      "Uploads planned, by upload type.",
		}, []string{"upload_type"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completed_total",
			Help:      "Uploads completed, by upload type.",
		}, []string{"upload_type"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_total",
			Help:      "Sessions marked as error, by error code.",
		}, []string{"code"}),
		Aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborted_total",
			Help:      "Uploads aborted by the caller.",
		}),
		PresignedURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presigned_urls_total",
			Help:      "Presigned URLs issued, by kind.",
		}, []string{"kind"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.Planned, m.Completed, m.Failed, m.Aborted, m.PresignedURLs, m.Duration)
	}
	return m
}

// RecordPlan counts a plan and the URLs it carries.
func (m *Metrics) RecordPlan(uploadType string, putURLs, partURLs int) {
	if m == nil {
		return
	}
	m.Planned.WithLabelValues(uploadType).Inc()
	if putURLs > 0 {
		m.PresignedURLs.WithLabelValues(URLKindPut).Add(float64(putURLs))
	}
	if partURLs > 0 {
		m.PresignedURLs.WithLabelValues(URLKindPart).Add(float64(partURLs))
	}
}

// RecordCompleted counts a successful completion.
func (m *Metrics) RecordCompleted(uploadType string) {
	if m == nil {
		return
	}
	m.Completed.WithLabelValues(uploadType).Inc()
}

// RecordFailed counts a session moved to error.
func (m *Metrics) RecordFailed(code string) {
	if m == nil {
		return
	}
	m.Failed.WithLabelValues(code).Inc()
}

// RecordAborted counts an abort.
func (m *Metrics) RecordAborted() {
	if m == nil {
		return
	}
	m.Aborted.Inc()
}

// RecordDownloadURL counts a presigned download.
func (m *Metrics) RecordDownloadURL() {
	if m == nil {
		return
	}
	m.PresignedURLs.WithLabelValues(URLKindGet).Inc()
}

// ObserveOperation records the latency of one operation since start.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Duration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
