package domain

import "time"

// DeviceErrorState is a read-only snapshot of one device's fault state.
type DeviceErrorState struct {
	DeviceID string `json:"device_id"`

	Counters          map[string]uint32 `json:"counters"`
	RxErrors          uint32            `json:"rx_errors"`
	TxErrors          uint32            `json:"tx_errors"`
	AdapterFailures   uint32            `json:"adapter_failures"`
	EpisodeFailures   uint32            `json:"episode_adapter_failures"`
	ConsecutiveErrors uint32            `json:"consecutive_errors"`

	ErrorRatePercent uint32    `json:"error_rate_percent"`
	PeakErrorRate    uint32    `json:"peak_error_rate"`
	WindowStart      time.Time `json:"error_rate_window_start"`
	ErrorsInWindow   uint32    `json:"errors_in_window"`
	LastErrorAt      time.Time `json:"last_error_timestamp"`

	RecoveryAttempts   uint32          `json:"recovery_attempts"`
	RecoveryStrategy   EscalationLevel `json:"recovery_strategy"`
	RecoveryInProgress bool            `json:"recovery_in_progress"`
	NextAllowed        time.Time       `json:"next_allowed_recovery_time"`
	AdapterDisabled    bool            `json:"adapter_disabled"`
	HealthScore        int             `json:"health_score"`
	Link               LinkState       `json:"link"`

	Recovery RecoveryStats `json:"recovery"`
	Guard    GuardStats    `json:"guard"`
}

// RecoveryStats counts recovery activity for a device.
type RecoveryStats struct {
	Attempted         uint32    `json:"attempted"`
	Succeeded         uint32    `json:"succeeded"`
	Failed            uint32    `json:"failed"`
	SoftResets        uint32    `json:"soft_resets"`
	HardResets        uint32    `json:"hard_resets"`
	Reinitializations uint32    `json:"reinitializations"`
	Failovers         uint32    `json:"failovers"`
	TimesDisabled     uint32    `json:"times_disabled"`
	ThresholdBreaches uint32    `json:"threshold_breaches"`
	LastRecoveryAt    time.Time `json:"last_recovery_at"`
}

// GuardStats counts protected hardware operations for a device.
type GuardStats struct {
	Operations  uint64 `json:"operations"`
	Attempts    uint64 `json:"attempts"`
	Timeouts    uint64 `json:"timeouts"`
	Exhaustions uint64 `json:"exhaustions"`
}

// CoordinatorState is a snapshot of the multi-device coordinator.
type CoordinatorState struct {
	TotalDevices     int               `json:"total_devices"`
	ActiveDevices    int               `json:"active_devices"`
	PrimaryDevice    string            `json:"primary_device"`
	BackupDevice     string            `json:"backup_device,omitempty"`
	FailoverActive   bool              `json:"failover_active"`
	FailoverStart    time.Time         `json:"failover_start_time"`
	Health           map[string]int    `json:"health"`
	LastHealthUpdate time.Time         `json:"last_health_update"`
	Episodes         []FailoverEpisode `json:"episodes,omitempty"`
}

// FailoverEpisode records one graceful degradation.
type FailoverEpisode struct {
	ID        string     `json:"id"`
	Failing   string     `json:"failing"`
	Backup    string     `json:"backup"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
