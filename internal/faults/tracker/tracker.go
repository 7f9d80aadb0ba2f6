// Package tracker maintains the sliding error-rate window and the composite
// health score of each device.
package tracker

import (
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/device"
)

// Config tunes the window and the threshold check.
type Config struct {
	Window          time.Duration
	MaxConsecutive  uint32
	MaxRate         uint32 // percent
	BaselineTraffic uint32 // assumed packets per window when none are reported
	RecentReset     time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Window:          10 * time.Second,
		MaxConsecutive:  5,
		MaxRate:         10,
		BaselineTraffic: 1000,
		RecentReset:     30 * time.Second,
	}
}

// Health deductions.
const (
	consecutivePenalty    = 10
	ratePenaltyFactor     = 2
	rateGrace             = 5
	adapterPenalty        = 15
	failedRecoveryPenalty = 20
	recentResetPenalty    = 10
	linkUpBonus           = 5
)

// Tracker is stateless apart from its configuration; all window state lives
// on the device.
type Tracker struct {
	cfg Config
}

func New(cfg Config) *Tracker {
	d := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.MaxConsecutive == 0 {
		cfg.MaxConsecutive = d.MaxConsecutive
	}
	if cfg.MaxRate == 0 {
		cfg.MaxRate = d.MaxRate
	}
	if cfg.BaselineTraffic == 0 {
		cfg.BaselineTraffic = d.BaselineTraffic
	}
	if cfg.RecentReset <= 0 {
		cfg.RecentReset = d.RecentReset
	}
	return &Tracker{cfg: cfg}
}

func (t *Tracker) Config() Config { return t.cfg }

// OnEvent counts one error in the window, closing the window first when it
// has elapsed, and returns the window's error count. It only takes the window
// lock; the health score is refreshed by Tick or Assess in the foreground.
func (t *Tracker) OnEvent(dev *device.State, now time.Time) uint32 {
	var errors uint32
	dev.UpdateWindow(func(w *device.Window) {
		if now.Sub(w.Start) >= t.cfg.Window {
			t.close(w)
			w.Start = now
			w.Errors = 0
		}
		w.Errors++
		errors = w.Errors
	})
	return errors
}

// Tick closes an elapsed window without counting an error. It reports
// whether a window was closed.
func (t *Tracker) Tick(dev *device.State, now time.Time) bool {
	closed := false
	dev.UpdateWindow(func(w *device.Window) {
		if now.Sub(w.Start) < t.cfg.Window {
			return
		}
		t.close(w)
		w.Start = now
		w.Errors = 0
		closed = true
	})
	t.Assess(dev, now)
	return closed
}

func (t *Tracker) close(w *device.Window) {
	traffic := w.Packets
	if traffic == 0 {
		traffic = uint64(w.Errors) + uint64(t.cfg.BaselineTraffic)
	}
	w.Rate = Rate(w.Errors, traffic)
	if w.Rate > w.Peak {
		w.Peak = w.Rate
	}
	w.Packets = 0
}

// Rate is errors*100/max(1, traffic), capped at 100.
func Rate(errors uint32, traffic uint64) uint32 {
	if traffic == 0 {
		traffic = 1
	}
	r := uint64(errors) * 100 / traffic
	if r > 100 {
		r = 100
	}
	return uint32(r)
}

// Assess recomputes the health score, stores it on the device and returns it.
// A device pinned by graceful degradation stays at 0.
func (t *Tracker) Assess(dev *device.State, now time.Time) int {
	if dev.Pinned() {
		dev.SetHealth(0)
		return 0
	}
	score := t.Score(dev, now)
	dev.SetHealth(score)
	return score
}

// Score computes the health score without storing it.
func (t *Tracker) Score(dev *device.State, now time.Time) int {
	score := 100
	score -= consecutivePenalty * clampInt(dev.Consecutive())

	rate := int(dev.WindowSnapshot().Rate)
	if rate > rateGrace {
		score -= ratePenaltyFactor * rate
	}

	score -= adapterPenalty * clampInt(dev.EpisodeFailures())

	st := dev.RecoveryStats()
	if st.Failed > st.Succeeded {
		score -= failedRecoveryPenalty
	}

	if last := dev.LastResetAt(); !last.IsZero() && now.Sub(last) < t.cfg.RecentReset {
		score -= recentResetPenalty
	}
	if dev.Link() == domain.LinkUp {
		score += linkUpBonus
	}

	return max(0, min(100, score))
}

// CheckThresholds reports whether the device needs recovery.
func (t *Tracker) CheckThresholds(dev *device.State) bool {
	if dev.Consecutive() >= t.cfg.MaxConsecutive {
		return true
	}
	if dev.WindowSnapshot().Rate >= t.cfg.MaxRate {
		return true
	}
	return dev.EpisodeFailures() > 0
}

// clampInt keeps large counters from overflowing the score arithmetic.
func clampInt(v uint32) int {
	if v > 1000 {
		return 1000
	}
	return int(v)
}
