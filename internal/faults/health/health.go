// Package health summarises device and system health for operators.
package health

import (
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a device.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Score bands.
const (
	HealthyScore  = 70
	DegradedScore = 30
)

// DeviceHealth contains health metrics for one managed device.
type DeviceHealth struct {
	DeviceID         string                 `json:"device_id"`
	Status           SystemStatus           `json:"status"`
	HealthScore      int                    `json:"health_score"`
	ErrorRate        uint32                 `json:"error_rate_percent"`
	Consecutive      uint32                 `json:"consecutive_errors"`
	RecoveryAttempts uint32                 `json:"recovery_attempts"`
	Level            domain.EscalationLevel `json:"recovery_strategy"`
	Link             domain.LinkState       `json:"link"`
	Disabled         bool                   `json:"adapter_disabled"`
	FailedOver       bool                   `json:"failed_over"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus   SystemStatus            `json:"system_status"`
	FailoverActive bool                    `json:"failover_active"`
	ActiveDevices  int                     `json:"active_devices"`
	PrimaryDevice  string                  `json:"primary_device,omitempty"`
	BackupDevice   string                  `json:"backup_device,omitempty"`
	Devices        map[string]DeviceHealth `json:"devices"`
	CheckedAt      time.Time               `json:"checked_at"`
}
