package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/nicguard/internal/core/clock"
	"github.com/vietddude/nicguard/internal/core/domain"
)

// DefaultInterval bounds how often the monitor rebuilds its report.
const DefaultInterval = 2 * time.Second

// Source exposes the device and coordinator state the monitor reads.
type Source interface {
	Devices() []string
	GetStatistics(id string) (domain.DeviceErrorState, error)
	CoordinatorState() domain.CoordinatorState
}

// Monitor aggregates per-device health into a system report.
type Monitor struct {
	source     Source
	clock      clock.Clock
	interval   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. A non-positive interval uses
// DefaultInterval.
func NewMonitor(source Source, interval time.Duration, clk clock.Clock) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		source:   source,
		clock:    clock.OrReal(clk),
		interval: interval,
	}
}

// CheckHealth returns the current report, rebuilt at most once per interval.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.interval {
		return *m.lastReport
	}

	cs := m.source.CoordinatorState()
	failedOver := make(map[string]bool)
	for _, ep := range cs.Episodes {
		if ep.EndedAt == nil {
			failedOver[ep.Failing] = true
		}
	}

	report := HealthReport{
		FailoverActive: cs.FailoverActive,
		ActiveDevices:  cs.ActiveDevices,
		PrimaryDevice:  cs.PrimaryDevice,
		BackupDevice:   cs.BackupDevice,
		Devices:        make(map[string]DeviceHealth),
		CheckedAt:      now,
	}

	for _, id := range m.source.Devices() {
		if ctx.Err() != nil {
			break
		}
		st, err := m.source.GetStatistics(id)
		if err != nil {
			// Unregistered while the report was being built.
			continue
		}
		dh := DeviceHealth{
			DeviceID:         id,
			HealthScore:      st.HealthScore,
			ErrorRate:        st.ErrorRatePercent,
			Consecutive:      st.ConsecutiveErrors,
			RecoveryAttempts: st.RecoveryAttempts,
			Level:            st.RecoveryStrategy,
			Link:             st.Link,
			Disabled:         st.AdapterDisabled,
			FailedOver:       failedOver[id],
		}
		dh.Status = DeviceStatus(dh)
		report.Devices[id] = dh
	}
	report.SystemStatus = Aggregate(report)

	m.lastCheck = now
	m.lastReport = &report
	return report
}

// DeviceStatus bands a device by score. Disabled devices are critical.
func DeviceStatus(d DeviceHealth) SystemStatus {
	switch {
	case d.Disabled || d.HealthScore < DegradedScore:
		return StatusCritical
	case d.HealthScore < HealthyScore || d.FailedOver:
		return StatusDegraded
	}
	return StatusHealthy
}

// Aggregate derives the system status. The system is critical only when no
// device can carry traffic; a failover with a working backup is degraded.
func Aggregate(r HealthReport) SystemStatus {
	if len(r.Devices) == 0 {
		return StatusHealthy
	}
	status := StatusHealthy
	serving := 0
	for _, d := range r.Devices {
		if d.Status != StatusCritical {
			serving++
		}
		if d.Status != StatusHealthy {
			status = StatusDegraded
		}
	}
	if serving == 0 {
		return StatusCritical
	}
	if r.FailoverActive {
		status = StatusDegraded
	}
	return status
}
