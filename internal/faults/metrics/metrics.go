package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeviceErrors exports the per-category error counters of each device
	DeviceErrors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nicguard_device_errors",
			Help: "Errors observed per device and category",
		},
		[]string{"device", "category"},
	)

	// DeviceHealth tracks the health score of each device
	DeviceHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nicguard_device_health_score",
			Help: "Composite health score (0-100)",
		},
		[]string{"device"},
	)

	// DeviceErrorRate tracks the error rate of the last closed window
	DeviceErrorRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nicguard_device_error_rate_percent",
			Help: "Error rate of the most recently closed window",
		},
		[]string{"device"},
	)

	// DeviceDisabled is 1 when a device reached the terminal state
	DeviceDisabled = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nicguard_device_disabled",
			Help: "Whether the device is disabled (1) or not (0)",
		},
		[]string{"device"},
	)

	// RecoveryAttempts counts recovery requests by level and outcome
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicguard_recovery_attempts_total",
			Help: "Total number of recovery requests",
		},
		[]string{"device", "level", "outcome"},
	)

	// RecoveryDuration tracks how long executed recoveries take
	RecoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nicguard_recovery_duration_seconds",
			Help:    "Duration of executed recovery strategies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"device", "level"},
	)

	// GuardRetries counts retried hardware operations
	GuardRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicguard_guard_retries_total",
			Help: "Total number of retried hardware operations",
		},
		[]string{"device", "operation"},
	)

	// GuardExhaustions counts hardware operations that ran out of retries
	GuardExhaustions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicguard_guard_exhaustions_total",
			Help: "Total number of hardware operations that timed out for good",
		},
		[]string{"device", "operation"},
	)

	// EventLogOverflow tracks events lost to ring overwrite
	EventLogOverflow = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nicguard_event_log_overflow",
			Help: "Events overwritten in the diagnostic ring",
		},
	)

	// FailoverActive is 1 while the system runs degraded
	FailoverActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nicguard_failover_active",
			Help: "Whether system-wide failover is active (1) or not (0)",
		},
	)

	// ActiveDevices tracks devices carrying traffic
	ActiveDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nicguard_active_devices",
			Help: "Number of active devices",
		},
	)
)

// Forget drops every per-device series for id.
func Forget(id string) {
	match := prometheus.Labels{"device": id}
	DeviceErrors.DeletePartialMatch(match)
	DeviceHealth.DeletePartialMatch(match)
	DeviceErrorRate.DeletePartialMatch(match)
	DeviceDisabled.DeletePartialMatch(match)
	RecoveryAttempts.DeletePartialMatch(match)
	RecoveryDuration.DeletePartialMatch(match)
	GuardRetries.DeletePartialMatch(match)
	GuardExhaustions.DeletePartialMatch(match)
}

// BoolGauge converts a flag to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
