package recovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
)

// Mode decides how a rule combines with attempt-count escalation.
type Mode uint8

const (
	// ModeCap limits the attempt-count level to the rule's level.
	ModeCap Mode = iota
	// ModeImmediate selects the rule's level regardless of attempts.
	ModeImmediate
)

func (m Mode) String() string {
	if m == ModeImmediate {
		return "immediate"
	}
	return "cap"
}

// ParseMode resolves "cap" or "immediate". Empty means cap.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cap":
		return ModeCap, nil
	case "immediate":
		return ModeImmediate, nil
	}
	return 0, fmt.Errorf("unknown rule mode %q", s)
}

// Rule maps a category to a level once the device has seen at least
// MinFrequency errors of that category and MinConsecutive errors in a row.
type Rule struct {
	Category       domain.Category
	MinFrequency   uint32
	MinConsecutive uint32
	Level          domain.EscalationLevel
	Mode           Mode
	Cooldown       time.Duration // extra cooldown floor for this rule
}

// Table is an immutable list of rules. The first matching rule wins.
type Table struct {
	rules []Rule
}

// NewTable copies rules into a table.
func NewTable(rules ...Rule) Table {
	return Table{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the rules.
func (t Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

func (t Table) Len() int { return len(t.rules) }

// Match returns the first rule for c satisfied by the given counts.
func (t Table) Match(c domain.Category, frequency, consecutive uint32) (Rule, bool) {
	for _, r := range t.rules {
		if r.Category != c {
			continue
		}
		if frequency >= r.MinFrequency && consecutive >= r.MinConsecutive {
			return r, true
		}
	}
	return Rule{}, false
}

// DefaultTable returns the stock escalation table.
func DefaultTable() Table {
	const s = time.Second
	return NewTable(
		Rule{domain.RxCrc, 1, 1, domain.LevelRetry, ModeCap, 1 * s},
		Rule{domain.TxCollision, 5, 2, domain.LevelRetry, ModeCap, 500 * time.Millisecond},
		Rule{domain.RxOverrun, 3, 2, domain.LevelSoftReset, ModeCap, 5 * s},
		Rule{domain.TxUnderrun, 2, 2, domain.LevelSoftReset, ModeCap, 5 * s},
		Rule{domain.RxTimeout, 1, 1, domain.LevelHardReset, ModeCap, 10 * s},
		Rule{domain.TxTimeout, 1, 1, domain.LevelHardReset, ModeCap, 10 * s},
		Rule{domain.RxDma, 1, 1, domain.LevelReinitialize, ModeCap, 15 * s},
		Rule{domain.TxDma, 1, 1, domain.LevelReinitialize, ModeCap, 15 * s},
		Rule{domain.AdapterHang, 1, 1, domain.LevelHardReset, ModeImmediate, 15 * s},
		Rule{domain.AdapterMemory, 1, 3, domain.LevelDisable, ModeCap, 30 * s},
		Rule{domain.AdapterDma, 1, 2, domain.LevelDisable, ModeCap, 30 * s},
		Rule{domain.AdapterPower, 1, 1, domain.LevelSystemFailover, ModeImmediate, 0},
		Rule{domain.AdapterThermal, 1, 1, domain.LevelSystemFailover, ModeImmediate, 0},
	)
}

// FallbackLevel is the attempt-count escalation used when no rule matches.
func FallbackLevel(attempts uint32) domain.EscalationLevel {
	switch attempts {
	case 0:
		return domain.LevelRetry
	case 1:
		return domain.LevelSoftReset
	case 2:
		return domain.LevelHardReset
	default:
		return domain.LevelDisable
	}
}

// Decide combines a matched rule, the attempt count and the level already
// reached in the current episode. The result never drops below current.
func Decide(rule Rule, matched bool, attempts uint32, current domain.EscalationLevel) domain.EscalationLevel {
	level := FallbackLevel(attempts)
	if matched {
		switch rule.Mode {
		case ModeImmediate:
			level = rule.Level
		default:
			level = min(level, rule.Level)
		}
	}
	return max(level, current)
}
