package config

import (
	"fmt"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/coordinator"
	"github.com/vietddude/nicguard/internal/faults/guard"
	"github.com/vietddude/nicguard/internal/faults/recovery"
	"github.com/vietddude/nicguard/internal/faults/tracker"
	redisclient "github.com/vietddude/nicguard/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Redis    redisclient.Config `yaml:"redis"`
	Engine   EngineConfig       `yaml:"engine"`
	Guard    GuardConfig        `yaml:"guard"`
	Strategy []StrategyRule     `yaml:"strategy"` // empty = built-in table
	Devices  []DeviceConfig     `yaml:"devices"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// EngineConfig tunes classification, tracking, recovery and failover.
type EngineConfig struct {
	Window           time.Duration            `yaml:"window"`
	MaxConsecutive   uint32                   `yaml:"max_consecutive"`
	MaxRate          uint32                   `yaml:"max_rate"` // percent
	BaselineTraffic  uint32                   `yaml:"baseline_traffic"`
	RecentReset      time.Duration            `yaml:"recent_reset"`
	MaxAttempts      uint32                   `yaml:"max_attempts"`
	DegradeThreshold int                      `yaml:"degrade_threshold"`
	MinBackupHealth  int                      `yaml:"min_backup_health"`
	StablePeriod     time.Duration            `yaml:"stable_period"`
	HistorySize      int                      `yaml:"history_size"`
	LogCapacity      int                      `yaml:"log_capacity"`
	PollInterval     time.Duration            `yaml:"poll_interval"`
	PublishInterval  time.Duration            `yaml:"publish_interval"`
	InstantCritical  []string                 `yaml:"instant_critical"` // empty = hang, thermal, power
	Cooldowns        map[string]time.Duration `yaml:"cooldowns"`        // keyed by level name
}

// GuardConfig bounds every hardware operation.
type GuardConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// StrategyRule is one row of the escalation table.
type StrategyRule struct {
	Category       string        `yaml:"category"`
	MinFrequency   uint32        `yaml:"min_frequency"`
	MinConsecutive uint32        `yaml:"min_consecutive"`
	Level          string        `yaml:"level"`
	Mode           string        `yaml:"mode"` // cap, immediate
	Cooldown       time.Duration `yaml:"cooldown"`
}

// DeviceConfig declares a managed device.
type DeviceConfig struct {
	ID    string      `yaml:"id"`
	Fault FaultConfig `yaml:"fault"`
}

// FaultConfig drives the simulated adapter of the demo daemon.
type FaultConfig struct {
	Categories []string      `yaml:"categories"` // injected every Every
	Every      time.Duration `yaml:"every"`      // 0 = no injection
	Burst      int           `yaml:"burst"`      // reports per injection
	Packets    uint64        `yaml:"packets"`    // traffic reported per injection
	FailResets int           `yaml:"fail_resets"`
	Stuck      bool          `yaml:"stuck"`
}

// TrackerConfig converts the engine section for the tracker.
func (c *AppConfig) TrackerConfig() tracker.Config {
	return tracker.Config{
		Window:          c.Engine.Window,
		MaxConsecutive:  c.Engine.MaxConsecutive,
		MaxRate:         c.Engine.MaxRate,
		BaselineTraffic: c.Engine.BaselineTraffic,
		RecentReset:     c.Engine.RecentReset,
	}
}

// CoordinatorConfig converts the engine section for the coordinator.
func (c *AppConfig) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		MinBackupHealth: c.Engine.MinBackupHealth,
		StablePeriod:    c.Engine.StablePeriod,
		HistorySize:     c.Engine.HistorySize,
	}
}

// GuardSettings converts the guard section.
func (c *AppConfig) GuardSettings() guard.Config {
	return guard.Config{
		Timeout:    c.Guard.Timeout,
		MaxRetries: c.Guard.MaxRetries,
		Backoff: guard.ExponentialBackoff{
			InitialDelay: c.Guard.InitialBackoff,
			MaxDelay:     c.Guard.MaxBackoff,
		},
	}
}

// RecoveryConfig converts the engine section for the recovery engine.
func (c *AppConfig) RecoveryConfig() (recovery.Config, error) {
	cfg := recovery.Config{
		MaxAttempts:      c.Engine.MaxAttempts,
		DegradeThreshold: c.Engine.DegradeThreshold,
	}
	if len(c.Engine.Cooldowns) > 0 {
		cfg.Cooldowns = make(map[domain.EscalationLevel]time.Duration, len(c.Engine.Cooldowns))
		for name, d := range c.Engine.Cooldowns {
			lvl, err := domain.ParseLevel(name)
			if err != nil {
				return recovery.Config{}, fmt.Errorf("engine.cooldowns: %w", err)
			}
			cfg.Cooldowns[lvl] = d
		}
	}
	return cfg, nil
}

// Table builds the escalation table. No rows selects the built-in table.
func (c *AppConfig) Table() (recovery.Table, error) {
	if len(c.Strategy) == 0 {
		return recovery.DefaultTable(), nil
	}
	rules := make([]recovery.Rule, 0, len(c.Strategy))
	for i, row := range c.Strategy {
		r, err := row.Rule()
		if err != nil {
			return recovery.Table{}, fmt.Errorf("strategy[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	return recovery.NewTable(rules...), nil
}

// Rule parses the row.
func (r StrategyRule) Rule() (recovery.Rule, error) {
	cat, err := domain.ParseCategory(r.Category)
	if err != nil {
		return recovery.Rule{}, err
	}
	lvl, err := domain.ParseLevel(r.Level)
	if err != nil {
		return recovery.Rule{}, err
	}
	mode, err := recovery.ParseMode(r.Mode)
	if err != nil {
		return recovery.Rule{}, err
	}
	return recovery.Rule{
		Category:       cat,
		MinFrequency:   r.MinFrequency,
		MinConsecutive: r.MinConsecutive,
		Level:          lvl,
		Mode:           mode,
		Cooldown:       r.Cooldown,
	}, nil
}

// InstantCritical parses the instant-critical categories. Nil selects the
// built-in set.
func (c *AppConfig) InstantCritical() ([]domain.Category, error) {
	return ParseCategories(c.Engine.InstantCritical)
}

// ParseCategories resolves category names. Nil in, nil out.
func ParseCategories(names []string) ([]domain.Category, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]domain.Category, 0, len(names))
	for _, n := range names {
		cat, err := domain.ParseCategory(n)
		if err != nil {
			return nil, err
		}
		out = append(out, cat)
	}
	return out, nil
}
