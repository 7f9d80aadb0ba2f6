package domain

import (
	"fmt"
	"strings"
	"time"
)

// EscalationLevel is the ordered severity of a recovery action.
type EscalationLevel uint8

const (
	LevelNone EscalationLevel = iota
	LevelRetry
	LevelSoftReset
	LevelHardReset
	LevelReinitialize
	LevelDisable
	LevelSystemFailover

	// NumLevels sizes per-level tables.
	NumLevels = int(LevelSystemFailover) + 1
)

var levelNames = [NumLevels]string{
	"none", "retry", "soft_reset", "hard_reset", "reinitialize", "disable", "system_failover",
}

func (l EscalationLevel) String() string {
	if int(l) < NumLevels {
		return levelNames[l]
	}
	return "unknown"
}

// MarshalText renders the level by name in JSON exports.
func (l EscalationLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel resolves a level name such as "hard_reset".
func ParseLevel(name string) (EscalationLevel, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range levelNames {
		if s == n {
			return EscalationLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown escalation level %q", name)
}

// UnmarshalText reads a level exported by MarshalText.
func (l *EscalationLevel) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Outcome is the result class of a recovery request.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomePartial
	OutcomeFailed
	OutcomeRateLimited
	OutcomeFatal
)

var outcomeNames = [...]string{"success", "partial", "failed", "rate_limited", "fatal"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// MarshalText renders the outcome by name in JSON exports.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	for i, s := range outcomeNames {
		if s == string(b) {
			*o = Outcome(i)
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// RecoveryResult describes one recovery request.
type RecoveryResult struct {
	DeviceID string          `json:"device_id"`
	Outcome  Outcome         `json:"outcome"`
	Level    EscalationLevel `json:"level"`
	Attempt  uint32          `json:"attempt"`

	// Degraded is set when responsibility moved to Backup instead of a
	// direct recovery.
	Degraded bool   `json:"degraded,omitempty"`
	Backup   string `json:"backup,omitempty"`

	NextAllowed time.Time `json:"next_allowed"`
	Reason      string    `json:"reason,omitempty"`
}

// Recovered reports whether the device is usable again.
func (r RecoveryResult) Recovered() bool {
	return r.Outcome == OutcomeSuccess && !r.Degraded
}
