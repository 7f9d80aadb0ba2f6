// Package recovery is the per-device escalation state machine. It picks a
// recovery level, executes it through the guard, validates the adapter and
// rate-limits the next attempt.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/nicguard/internal/core/clock"
	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/coordinator"
	"github.com/vietddude/nicguard/internal/faults/device"
	"github.com/vietddude/nicguard/internal/faults/eventlog"
	"github.com/vietddude/nicguard/internal/faults/guard"
	"github.com/vietddude/nicguard/internal/faults/metrics"
	"github.com/vietddude/nicguard/internal/faults/tracker"
	"github.com/vietddude/nicguard/internal/infra/nic"
)

// Config tunes the engine.
type Config struct {
	MaxAttempts      uint32
	DegradeThreshold int

	// Cooldowns is the minimum gap after an attempt at each level.
	Cooldowns map[domain.EscalationLevel]time.Duration

	// StepTimeouts bounds each reset and ready-wait step per level.
	StepTimeouts map[domain.EscalationLevel]time.Duration

	// Retry level delay: RetryBase << attempts, capped at RetryMax.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      5,
		DegradeThreshold: 30,
		Cooldowns: map[domain.EscalationLevel]time.Duration{
			domain.LevelRetry:          1 * time.Second,
			domain.LevelSoftReset:      5 * time.Second,
			domain.LevelHardReset:      10 * time.Second,
			domain.LevelReinitialize:   15 * time.Second,
			domain.LevelDisable:        30 * time.Second,
			domain.LevelSystemFailover: 30 * time.Second,
		},
		StepTimeouts: map[domain.EscalationLevel]time.Duration{
			domain.LevelRetry:          1 * time.Second,
			domain.LevelSoftReset:      5 * time.Second,
			domain.LevelHardReset:      10 * time.Second,
			domain.LevelReinitialize:   15 * time.Second,
			domain.LevelSystemFailover: 20 * time.Second,
		},
		RetryBase: 100 * time.Millisecond,
		RetryMax:  2 * time.Second,
	}
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Adapter     nic.Adapter
	Guard       *guard.Guard
	Tracker     *tracker.Tracker
	Coordinator *coordinator.Coordinator
	Log         *eventlog.Log
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Engine runs recoveries. Attempts for one device are serialized by the
// device's recovery flag; different devices may recover concurrently.
type Engine struct {
	cfg   Config
	table Table

	adapter nic.Adapter
	guard   *guard.Guard
	tracker *tracker.Tracker
	coord   *coordinator.Coordinator
	log     *eventlog.Log
	clock   clock.Clock
	logger  *slog.Logger
}

var errTerminal = errors.New("device disabled")

func NewEngine(cfg Config, table Table, deps Deps) *Engine {
	d := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.DegradeThreshold <= 0 {
		cfg.DegradeThreshold = d.DegradeThreshold
	}
	cfg.Cooldowns = mergeDurations(d.Cooldowns, cfg.Cooldowns)
	cfg.StepTimeouts = mergeDurations(d.StepTimeouts, cfg.StepTimeouts)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = d.RetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = d.RetryMax
	}
	if table.Len() == 0 {
		table = DefaultTable()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		table:   table,
		adapter: deps.Adapter,
		guard:   deps.Guard,
		tracker: deps.Tracker,
		coord:   deps.Coordinator,
		log:     deps.Log,
		clock:   clock.OrReal(deps.Clock),
		logger:  logger.With("component", "recovery"),
	}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Table() Table { return e.table }

// DetermineLevel selects the level for the next attempt on dev triggered by
// category c.
func (e *Engine) DetermineLevel(dev *device.State, c domain.Category) domain.EscalationLevel {
	rule, ok := e.table.Match(c, dev.Count(c), dev.Consecutive())
	return Decide(rule, ok, dev.Attempts(), dev.Level())
}

// AttemptRecovery runs one recovery request for dev. The outcome is always
// reported through the result.
func (e *Engine) AttemptRecovery(ctx context.Context, dev *device.State, c domain.Category) domain.RecoveryResult {
	id := dev.ID()
	now := e.clock.Now()
	res := domain.RecoveryResult{DeviceID: id, Level: dev.Level(), Attempt: dev.Attempts()}

	if dev.Disabled() {
		res.Outcome = domain.OutcomeFatal
		res.Level = domain.LevelDisable
		res.Reason = "device disabled"
		return e.finishRejected(res)
	}

	if next := dev.NextAllowed(); now.Before(next) {
		res.Outcome = domain.OutcomeRateLimited
		res.NextAllowed = next
		res.Reason = "cooldown"
		return e.finishRejected(res)
	}
	if !dev.Acquire() {
		res.Outcome = domain.OutcomeRateLimited
		res.NextAllowed = dev.NextAllowed()
		res.Reason = "recovery in progress"
		return e.finishRejected(res)
	}
	defer dev.Release()

	if dev.Attempts() >= e.cfg.MaxAttempts {
		e.disable(dev)
		res.Outcome = domain.OutcomeFatal
		res.Level = domain.LevelDisable
		res.Reason = fmt.Sprintf("%d recovery attempts exhausted", e.cfg.MaxAttempts)
		res.NextAllowed = dev.Defer(now.Add(e.cfg.Cooldowns[domain.LevelDisable]))
		e.record(dev, c, res, 0)
		return res
	}

	if backup, ok := e.tryDegrade(dev, now); ok {
		res.Outcome = domain.OutcomeSuccess
		res.Level = domain.LevelSystemFailover
		res.Degraded = true
		res.Backup = backup
		res.Reason = "health below degradation threshold"
		res.NextAllowed = dev.Defer(now.Add(e.cfg.Cooldowns[domain.LevelSystemFailover]))
		e.record(dev, c, res, 0)
		return res
	}

	rule, matched := e.table.Match(c, dev.Count(c), dev.Consecutive())
	priorAttempts := dev.Attempts()
	level := Decide(rule, matched, priorAttempts, dev.Level())
	if level == domain.LevelSystemFailover && e.coord.IsDegraded(id) {
		// A backup already carries the traffic; recover the adapter itself.
		level = domain.LevelReinitialize
	}
	res.Attempt = dev.BeginAttempt(level, now)
	res.Level = level

	start := time.Now()
	backup, err := e.execute(ctx, dev, level, priorAttempts)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, errTerminal):
		res.Outcome = domain.OutcomeFatal
		res.Reason = "disabled by escalation"
	case backup != "":
		res.Outcome = domain.OutcomeSuccess
		res.Degraded = true
		res.Backup = backup
		res.Reason = "responsibility moved to backup"
	case err != nil:
		dev.Fail()
		res.Outcome = domain.OutcomeFailed
		res.Reason = err.Error()
	default:
		if verr := e.validate(ctx, dev, level); verr != nil {
			dev.Fail()
			res.Outcome = domain.OutcomePartial
			res.Reason = verr.Error()
		} else {
			dev.Succeed()
			e.coord.MarkRecovered(id)
			res.Outcome = domain.OutcomeSuccess
		}
	}

	cooldown := e.cfg.Cooldowns[level]
	if matched && rule.Cooldown > cooldown {
		cooldown = rule.Cooldown
	}
	res.NextAllowed = dev.Defer(e.clock.Now().Add(cooldown))
	e.coord.NoteRecovery()
	e.coord.UpdateHealth(id, e.tracker.Assess(dev, e.clock.Now()))

	e.record(dev, c, res, elapsed)
	return res
}

// tryDegrade hands the device's role to a backup when its health has
// collapsed and another device can take over.
func (e *Engine) tryDegrade(dev *device.State, now time.Time) (string, bool) {
	id := dev.ID()
	health := e.tracker.Assess(dev, now)
	if health >= e.cfg.DegradeThreshold || e.coord.TotalDevices() <= 1 || e.coord.IsDegraded(id) {
		return "", false
	}
	e.coord.UpdateHealth(id, health)
	backup, err := e.coord.Degrade(id)
	if err != nil {
		e.logger.Warn("Graceful degradation unavailable, recovering directly",
			"device", id, "health", health, "error", err)
		return "", false
	}
	dev.Handoff()
	e.coord.NoteRecovery()
	return backup, true
}

// execute runs the strategy for level. A non-empty backup means the device
// was failed over instead of reset.
func (e *Engine) execute(ctx context.Context, dev *device.State, level domain.EscalationLevel, priorAttempts uint32) (string, error) {
	switch level {
	case domain.LevelRetry:
		delay := e.cfg.RetryBase << min(priorAttempts, 16)
		if delay > e.cfg.RetryMax || delay <= 0 {
			delay = e.cfg.RetryMax
		}
		if err := e.guard.Wait(ctx, delay); err != nil {
			return "", err
		}
		dev.ResetConsecutive()
		return "", nil

	case domain.LevelSoftReset, domain.LevelHardReset, domain.LevelReinitialize:
		return "", e.reset(ctx, dev, level)

	case domain.LevelDisable:
		e.disable(dev)
		return "", errTerminal

	case domain.LevelSystemFailover:
		if !e.coord.IsDegraded(dev.ID()) {
			backup, err := e.coord.Degrade(dev.ID())
			if err == nil {
				dev.Handoff()
				return backup, nil
			}
			e.logger.Warn("Failover unavailable, falling back to hard reset",
				"device", dev.ID(), "error", err)
		}
		return "", e.reset(ctx, dev, domain.LevelHardReset)
	}
	return "", fmt.Errorf("no strategy for level %s", level)
}

// reset issues the guarded reset sequence and waits for the adapter to
// settle.
func (e *Engine) reset(ctx context.Context, dev *device.State, level domain.EscalationLevel) error {
	id := dev.ID()
	timeout := e.cfg.StepTimeouts[level]
	retries := e.guard.Config().MaxRetries

	_, err := e.guard.ExecuteWith(ctx, dev, "reset", func(ctx context.Context) (uint32, error) {
		return 0, e.adapter.Reset(ctx, id, level)
	}, timeout, retries)
	if err != nil {
		return err
	}
	dev.NoteReset(e.clock.Now())

	mask := nic.ReadyCommand
	if level >= domain.LevelHardReset {
		mask |= nic.ReadyLink
	}
	_, err = e.guard.ExecuteWith(ctx, dev, "wait_ready", func(ctx context.Context) (uint32, error) {
		return 0, e.adapter.WaitReady(ctx, id, mask, timeout)
	}, timeout, retries)
	return err
}

var errStatusReportsErrors = errors.New("status still reports errors")

// validate re-reads the status through the guard. Hard resets and
// reinitialization also require carrier.
func (e *Engine) validate(ctx context.Context, dev *device.State, level domain.EscalationLevel) error {
	id := dev.ID()
	_, err := e.guard.Execute(ctx, dev, "read_status", func(ctx context.Context) (uint32, error) {
		st, err := e.adapter.ReadStatus(ctx, id)
		if err != nil {
			return 0, err
		}
		if st.IsSentinel() {
			return 0, domain.ErrInvalidResponse
		}
		if st.HasErrors() {
			return 0, errStatusReportsErrors
		}
		return uint32(st.Word), nil
	})
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}

	if level < domain.LevelHardReset {
		return nil
	}
	link := e.adapter.LinkState(ctx, id)
	dev.SetLink(link)
	if link != domain.LinkUp {
		return fmt.Errorf("validation: link %s after %s", link, level)
	}
	return nil
}

func (e *Engine) disable(dev *device.State) {
	id := dev.ID()
	dev.Disable()
	if e.coord.TotalDevices() > 1 && !e.coord.IsDegraded(id) {
		if backup, err := e.coord.Degrade(id); err == nil {
			e.logger.Warn("Disabled device handed off", "device", id, "backup", backup)
		}
	}
	e.coord.MarkDisabled(id)
	e.logger.Error("Device disabled, automatic recovery stopped", "device", id)
}

func (e *Engine) finishRejected(res domain.RecoveryResult) domain.RecoveryResult {
	metrics.RecoveryAttempts.WithLabelValues(res.DeviceID, res.Level.String(), res.Outcome.String()).Inc()
	e.logger.Debug("Recovery request rejected",
		"device", res.DeviceID, "outcome", res.Outcome, "reason", res.Reason)
	return res
}

// record writes the recovery into the event log, metrics and process log.
func (e *Engine) record(dev *device.State, c domain.Category, res domain.RecoveryResult, elapsed time.Duration) {
	ev := domain.NewErrorEvent(res.DeviceID, c, e.clock.Now())
	ev.Action = res.Level
	switch res.Outcome {
	case domain.OutcomeSuccess:
		ev.Severity = domain.SeverityInfo
	case domain.OutcomeFatal:
		ev.Severity = domain.SeverityFatal
	default:
		ev.Severity = domain.SeverityWarning
	}
	ev.Message = fmt.Sprintf("recovery %s: %s", res.Level, res.Outcome)
	if res.Degraded {
		ev.Message = fmt.Sprintf("failed over to %s", res.Backup)
	}
	e.log.Append(ev)

	metrics.RecoveryAttempts.WithLabelValues(res.DeviceID, res.Level.String(), res.Outcome.String()).Inc()
	if elapsed > 0 {
		metrics.RecoveryDuration.WithLabelValues(res.DeviceID, res.Level.String()).Observe(elapsed.Seconds())
	}
	metrics.DeviceDisabled.WithLabelValues(res.DeviceID).Set(metrics.BoolGauge(dev.Disabled()))

	attrs := []any{
		"device", res.DeviceID,
		"category", c,
		"level", res.Level,
		"outcome", res.Outcome,
		"attempt", res.Attempt,
		"next_allowed", res.NextAllowed.Format(time.RFC3339),
	}
	if res.Reason != "" {
		attrs = append(attrs, "reason", res.Reason)
	}
	switch res.Outcome {
	case domain.OutcomeSuccess:
		e.logger.Info("Recovery completed", attrs...)
	case domain.OutcomeFatal:
		e.logger.Error("Recovery gave up", attrs...)
	default:
		e.logger.Warn("Recovery did not validate", attrs...)
	}
}

func mergeDurations(base, over map[domain.EscalationLevel]time.Duration) map[domain.EscalationLevel]time.Duration {
	out := make(map[domain.EscalationLevel]time.Duration, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}
