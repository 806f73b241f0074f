// Package metrics holds the prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsWritten counts attendance writes by source and outcome (created, existing, updated).
	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointage",
		Name:      "attendance_records_total",
		Help:      "Attendance record writes by evidence source and outcome.",
	}, []string{"source", "outcome"})

	// Scans counts QR scan outcomes.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointage",
		Name:      "qr_scans_total",
		Help:      "QR scans by resulting status.",
	}, []string{"status"})

	// TokensIssued counts generated QR tokens.
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pointage",
		Name:      "qr_tokens_issued_total",
		Help:      "QR scan tokens issued.",
	})

	PunchSourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointage",
		Name:      "punch_source_failures_total",
		Help:      "Punch windows that could not be fetched, by city.",
	}, []string{"city"})

	PunchQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pointage",
		Name:      "punch_query_duration_seconds",
		Help:      "Latency of a single punch query attempt.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"city"})

	// Reconciliations counts session sweeps by result: ok or an error kind.
	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointage",
		Name:      "reconciliations_total",
		Help:      "External-source session reconciliations by result.",
	}, []string{"result"})
)
