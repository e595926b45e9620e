// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for key lifecycle and
// authentication session activity.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all biokey metrics
	Namespace = "biokey"

	// Label names
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelOutcome   = "outcome"
	LabelEvent     = "event"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// KeyOperationsTotal counts key lifecycle operations by operation and status.
	KeyOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "key_operations_total",
			Help:      "Total number of key lifecycle operations by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// KeyOperationDuration tracks key lifecycle latency. RSA generation
	// dominates the upper buckets.
	KeyOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "key_operation_duration_seconds",
			Help:      "Duration of key lifecycle operations in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelOperation},
	)

	// SessionsTotal counts authentication sessions by terminal outcome.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Total number of authentication sessions by terminal outcome",
		},
		[]string{LabelOutcome},
	)

	// ScanEventsTotal counts sensor events delivered to sessions.
	ScanEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scan_events_total",
			Help:      "Total number of sensor events by kind",
		},
		[]string{LabelEvent},
	)

	// ActiveSessions is the number of sessions currently scanning.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_sessions",
			Help:      "Number of authentication sessions currently scanning",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordKeyOperation records a lifecycle operation. A nil err counts as
// success.
func RecordKeyOperation(operation string, duration time.Duration, err error) {
	if !enabled.Load() {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	KeyOperationsTotal.WithLabelValues(operation, status).Inc()
	KeyOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSessionOutcome counts a session reaching a terminal state.
func RecordSessionOutcome(outcome string) {
	if !enabled.Load() {
		return
	}
	SessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordScanEvent counts a sensor event.
func RecordScanEvent(event string) {
	if !enabled.Load() {
		return
	}
	ScanEventsTotal.WithLabelValues(event).Inc()
}

// SessionStarted increments ActiveSessions.
func SessionStarted() {
	if !enabled.Load() {
		return
	}
	ActiveSessions.Inc()
}

// SessionEnded decrements ActiveSessions.
func SessionEnded() {
	if !enabled.Load() {
		return
	}
	ActiveSessions.Dec()
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
