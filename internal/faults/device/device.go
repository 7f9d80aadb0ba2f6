// Package device holds the live fault state of one managed adapter.
//
// Fields touched from the interrupt path (category counters, consecutive
// errors, last error time, link, pending criticals) are atomics. The error
// rate window sits behind a tiny mutex held for a handful of field updates.
// Everything else is written only by the foreground recovery path.
package device

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
)

// InitialHealth is the score of a freshly registered or reset device.
const InitialHealth = 100

// Window is the sliding error-rate window.
type Window struct {
	Start   time.Time
	Errors  uint32
	Packets uint64 // packets reported for the window; 0 means unknown
	Rate    uint32 // rate of the most recently closed window, percent
	Peak    uint32
}

// State is the fault state of a single device.
type State struct {
	id string

	counters        [domain.NumCategories]Counter
	consecutive     Counter
	adapterFailures Counter
	episodeFailures Counter
	lastErrorAt     atomic.Int64
	lastCategory    atomic.Uint32
	pending         atomic.Uint32 // bitmask of latched instant-critical categories
	link            atomic.Uint32

	inProgress  atomic.Bool
	disabled    atomic.Bool
	health      atomic.Int32
	lastResetAt atomic.Int64

	guardOps         atomic.Uint64
	guardAttempts    atomic.Uint64
	guardTimeouts    atomic.Uint64
	guardExhaustions atomic.Uint64

	winMu sync.Mutex
	win   Window

	mu          sync.Mutex
	attempts    uint32
	level       domain.EscalationLevel
	nextAllowed time.Time
	pinned      bool
	stats       domain.RecoveryStats
}

// New creates the state for a newly registered device.
func New(id string, now time.Time) *State {
	s := &State{id: id}
	s.health.Store(InitialHealth)
	s.win.Start = now
	return s
}

func (s *State) ID() string { return s.id }

// ============================================================================
// Interrupt-safe updates
// ============================================================================

// RecordError bumps the per-category counter and the consecutive count and
// returns the new consecutive count.
func (s *State) RecordError(c domain.Category, at time.Time) uint32 {
	if int(c) < domain.NumCategories {
		s.counters[c].Inc()
	}
	if c.IsAdapterClass() {
		s.episodeFailures.Inc()
	}
	s.lastErrorAt.Store(at.UnixNano())
	s.lastCategory.Store(uint32(c))
	return s.consecutive.Inc()
}

// SetLink records the carrier state.
func (s *State) SetLink(l domain.LinkState) { s.link.Store(uint32(l)) }

func (s *State) Link() domain.LinkState { return domain.LinkState(s.link.Load()) }

// LatchCritical marks c for immediate handling on the next foreground poll.
func (s *State) LatchCritical(c domain.Category) {
	s.pending.Or(1 << uint(c))
}

// TakeCritical returns and clears the most severe latched category.
func (s *State) TakeCritical() (domain.Category, bool) {
	mask := s.pending.Swap(0)
	if mask == 0 {
		return 0, false
	}
	// Higher categories are the more severe adapter failures.
	return domain.Category(31 - bits.LeadingZeros32(mask)), true
}

// UpdateWindow runs fn with the rate window locked. fn must be short.
func (s *State) UpdateWindow(fn func(w *Window)) {
	s.winMu.Lock()
	fn(&s.win)
	s.winMu.Unlock()
}

// AddTraffic adds packets to the current window's traffic count.
func (s *State) AddTraffic(packets uint64) {
	s.winMu.Lock()
	s.win.Packets += packets
	s.winMu.Unlock()
}

func (s *State) WindowSnapshot() Window {
	s.winMu.Lock()
	defer s.winMu.Unlock()
	return s.win
}

// ============================================================================
// Read accessors
// ============================================================================

func (s *State) Count(c domain.Category) uint32 {
	if int(c) >= domain.NumCategories {
		return 0
	}
	return s.counters[c].Load()
}

func (s *State) Consecutive() uint32 { return s.consecutive.Load() }

func (s *State) AdapterFailures() uint32 { return s.adapterFailures.Load() }

// EpisodeFailures counts adapter-class failures since the last validated
// recovery.
func (s *State) EpisodeFailures() uint32 { return s.episodeFailures.Load() }

func (s *State) LastCategory() domain.Category {
	return domain.Category(s.lastCategory.Load())
}

func (s *State) LastErrorAt() time.Time { return fromNanos(s.lastErrorAt.Load()) }

func (s *State) LastResetAt() time.Time { return fromNanos(s.lastResetAt.Load()) }

func (s *State) Health() int { return int(s.health.Load()) }

func (s *State) Disabled() bool { return s.disabled.Load() }

func (s *State) InProgress() bool { return s.inProgress.Load() }

func (s *State) Attempts() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *State) Level() domain.EscalationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *State) NextAllowed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAllowed
}

// Pinned reports whether health is held at 0 after a graceful degradation.
func (s *State) Pinned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

// RecoveryStats returns a copy of the recovery statistics.
func (s *State) RecoveryStats() domain.RecoveryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ============================================================================
// Foreground updates
// ============================================================================

func (s *State) SetHealth(score int) {
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}
	s.health.Store(int32(score))
}

// Acquire claims the recovery slot. It fails when a recovery is running.
func (s *State) Acquire() bool { return s.inProgress.CompareAndSwap(false, true) }

func (s *State) Release() { s.inProgress.Store(false) }

// BeginAttempt increments the attempt count, records level as the current
// strategy and returns the attempt number.
func (s *State) BeginAttempt(level domain.EscalationLevel, now time.Time) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	s.level = level
	s.stats.Attempted++
	s.stats.LastRecoveryAt = now
	switch level {
	case domain.LevelSoftReset:
		s.stats.SoftResets++
	case domain.LevelHardReset:
		s.stats.HardResets++
	case domain.LevelReinitialize:
		s.stats.Reinitializations++
	}
	return s.attempts
}

// NoteReset records that the adapter was physically reset at now.
func (s *State) NoteReset(now time.Time) { s.lastResetAt.Store(now.UnixNano()) }

// Defer moves the next allowed recovery time to t unless it is already later.
func (s *State) Defer(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.nextAllowed) {
		s.nextAllowed = t
	}
	return s.nextAllowed
}

// Succeed clears the failure episode after a validated recovery.
func (s *State) Succeed() {
	s.mu.Lock()
	s.attempts = 0
	s.level = domain.LevelNone
	s.pinned = false
	s.stats.Succeeded++
	s.mu.Unlock()

	s.consecutive.Reset()
	s.episodeFailures.Reset()
}

// Fail records a recovery that did not validate. Attempts stay elevated.
func (s *State) Fail() {
	s.mu.Lock()
	s.stats.Failed++
	s.mu.Unlock()
}

// ResetConsecutive clears the consecutive error count.
func (s *State) ResetConsecutive() { s.consecutive.Reset() }

// Disable puts the device in the terminal state.
func (s *State) Disable() {
	if s.disabled.Swap(true) {
		return
	}
	s.mu.Lock()
	s.level = domain.LevelDisable
	s.stats.TimesDisabled++
	s.mu.Unlock()
}

// Handoff closes the escalation episode after the device's role moved to a
// backup. Health stays pinned at 0, and the next attempt starts again from
// the bottom of the ladder.
func (s *State) Handoff() {
	s.mu.Lock()
	s.attempts = 0
	s.level = domain.LevelNone
	s.pinned = true
	s.stats.Failovers++
	s.mu.Unlock()
	s.health.Store(0)
}

// Breach counts a threshold breach.
func (s *State) Breach() {
	s.mu.Lock()
	s.stats.ThresholdBreaches++
	s.mu.Unlock()
}

// RecordAdapterFailure counts a guard-level failure against the adapter.
func (s *State) RecordAdapterFailure() {
	s.adapterFailures.Inc()
	s.episodeFailures.Inc()
}

// RecordGuard accumulates the outcome of one guarded operation.
func (s *State) RecordGuard(attempts, timeouts uint64, exhausted bool) {
	s.guardOps.Add(1)
	s.guardAttempts.Add(attempts)
	s.guardTimeouts.Add(timeouts)
	if exhausted {
		s.guardExhaustions.Add(1)
	}
}

// Reset restores the registration defaults and clears the terminal flag.
func (s *State) Reset(now time.Time) {
	for i := range s.counters {
		s.counters[i].Reset()
	}
	s.consecutive.Reset()
	s.adapterFailures.Reset()
	s.episodeFailures.Reset()
	s.lastErrorAt.Store(0)
	s.lastCategory.Store(0)
	s.pending.Store(0)
	s.lastResetAt.Store(0)
	s.guardOps.Store(0)
	s.guardAttempts.Store(0)
	s.guardTimeouts.Store(0)
	s.guardExhaustions.Store(0)

	s.winMu.Lock()
	s.win = Window{Start: now}
	s.winMu.Unlock()

	s.mu.Lock()
	s.attempts = 0
	s.level = domain.LevelNone
	s.nextAllowed = time.Time{}
	s.pinned = false
	s.stats = domain.RecoveryStats{}
	s.mu.Unlock()

	s.disabled.Store(false)
	s.health.Store(InitialHealth)
}

// Snapshot exports the state for diagnostics.
func (s *State) Snapshot() domain.DeviceErrorState {
	out := domain.DeviceErrorState{
		DeviceID:           s.id,
		Counters:           make(map[string]uint32),
		AdapterFailures:    s.adapterFailures.Load(),
		EpisodeFailures:    s.episodeFailures.Load(),
		ConsecutiveErrors:  s.consecutive.Load(),
		LastErrorAt:        s.LastErrorAt(),
		RecoveryInProgress: s.inProgress.Load(),
		AdapterDisabled:    s.disabled.Load(),
		HealthScore:        s.Health(),
		Link:               s.Link(),
		Guard: domain.GuardStats{
			Operations:  s.guardOps.Load(),
			Attempts:    s.guardAttempts.Load(),
			Timeouts:    s.guardTimeouts.Load(),
			Exhaustions: s.guardExhaustions.Load(),
		},
	}
	for i := range s.counters {
		c := domain.Category(i)
		n := s.counters[i].Load()
		if n == 0 {
			continue
		}
		out.Counters[c.String()] = n
		switch c.Info().Class {
		case domain.ClassRx:
			out.RxErrors += n
		case domain.ClassTx:
			out.TxErrors += n
		}
	}

	w := s.WindowSnapshot()
	out.ErrorRatePercent = w.Rate
	out.PeakErrorRate = w.Peak
	out.WindowStart = w.Start
	out.ErrorsInWindow = w.Errors

	s.mu.Lock()
	out.RecoveryAttempts = s.attempts
	out.RecoveryStrategy = s.level
	out.NextAllowed = s.nextAllowed
	out.Recovery = s.stats
	s.mu.Unlock()
	return out
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
