// Package metrics provides Prometheus metrics for the refresh pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts refresh cycles by outcome.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engiero",
			Name:      "cycles_total",
			Help:      "Total number of refresh cycles",
		},
		[]string{"entry", "status"},
	)

	// CycleDuration measures refresh cycle duration.
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "engiero",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of refresh cycles in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"entry"},
	)

	// SectionFailures counts tolerated endpoint failures.
	SectionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engiero",
			Name:      "section_failures_total",
			Help:      "Total number of failed snapshot sections",
		},
		[]string{"entry", "section"},
	)

	// LoginsTotal counts mobile logins by outcome.
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engiero",
			Name:      "logins_total",
			Help:      "Total number of login attempts",
		},
		[]string{"entry", "status"},
	)

	// UnpaidTotal exposes the last computed unpaid amount.
	UnpaidTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "engiero",
			Name:      "unpaid_total",
			Help:      "Sum of unpaid invoice amounts from the last good snapshot",
		},
		[]string{"entry"},
	)

	// EntryAvailable tracks whether the last cycle succeeded.
	EntryAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "engiero",
			Name:      "entry_available",
			Help:      "Entry availability (1 = last cycle succeeded, 0 = failed)",
		},
		[]string{"entry"},
	)
)

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordCycle records a finished refresh cycle.
func RecordCycle(entry string, duration float64, err error) {
	CyclesTotal.WithLabelValues(entry, status(err)).Inc()
	CycleDuration.WithLabelValues(entry).Observe(duration)
	if err != nil {
		EntryAvailable.WithLabelValues(entry).Set(0)
	} else {
		EntryAvailable.WithLabelValues(entry).Set(1)
	}
}

// RecordSectionFailure records a tolerated section failure.
func RecordSectionFailure(entry, section string) {
	SectionFailures.WithLabelValues(entry, section).Inc()
}

// RecordLogin records a login attempt.
func RecordLogin(entry string, err error) {
	LoginsTotal.WithLabelValues(entry, status(err)).Inc()
}

// SetUnpaidTotal publishes the unpaid amount of the last good snapshot.
func SetUnpaidTotal(entry string, amount float64) {
	UnpaidTotal.WithLabelValues(entry).Set(amount)
}

// Forget drops every series of an unloaded entry.
func Forget(entry string) {
	labels := prometheus.Labels{"entry": entry}
	CyclesTotal.DeletePartialMatch(labels)
	CycleDuration.DeletePartialMatch(labels)
	SectionFailures.DeletePartialMatch(labels)
	LoginsTotal.DeletePartialMatch(labels)
	UnpaidTotal.DeletePartialMatch(labels)
	EntryAvailable.DeletePartialMatch(labels)
}
