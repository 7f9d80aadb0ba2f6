// Package coordinator tracks the managed devices as a group and moves traffic
// to a healthy backup when one of them collapses.
package coordinator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/nicguard/internal/core/clock"
	"github.com/vietddude/nicguard/internal/core/domain"
)

// Config tunes backup selection and failover exit.
type Config struct {
	MinBackupHealth int
	StablePeriod    time.Duration
	HistorySize     int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		MinBackupHealth: 30,
		StablePeriod:    120 * time.Second,
		HistorySize:     16,
	}
}

type member struct {
	health   int
	active   bool
	degraded bool
	disabled bool
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu               sync.Mutex
	members          map[string]*member
	order            []string
	primary          string
	backup           string
	failoverActive   bool
	failoverStart    time.Time
	lastRecovery     time.Time
	lastHealthUpdate time.Time
	episodes         []domain.FailoverEpisode
}

func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Coordinator {
	d := DefaultConfig()
	if cfg.MinBackupHealth <= 0 {
		cfg.MinBackupHealth = d.MinBackupHealth
	}
	if cfg.StablePeriod <= 0 {
		cfg.StablePeriod = d.StablePeriod
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = d.HistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		clock:   clock.OrReal(clk),
		logger:  logger.With("component", "coordinator"),
		members: make(map[string]*member),
	}
}

// Register adds an active device. The first device becomes primary.
func (c *Coordinator) Register(id string, health int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[id]; ok {
		return
	}
	c.members[id] = &member{health: health, active: true}
	c.order = append(c.order, id)
	if c.primary == "" {
		c.primary = id
	}
}

// Unregister forgets a device.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[id]; !ok {
		return
	}
	delete(c.members, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.backup == id {
		c.backup = ""
	}
	if c.primary == id {
		c.primary = c.bestLocked("", 0)
	}
}

// UpdateHealth records the latest health score of id.
func (c *Coordinator) UpdateHealth(id string, score int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[id]
	if !ok {
		return
	}
	if m.degraded || m.disabled {
		score = 0
	}
	m.health = score
	c.lastHealthUpdate = c.clock.Now()
}

// NoteRecovery marks that a recovery ran, which restarts the stability
// clock for failover exit.
func (c *Coordinator) NoteRecovery() {
	c.mu.Lock()
	c.lastRecovery = c.clock.Now()
	c.mu.Unlock()
}

// Degrade hands the failing device's role to the healthiest eligible device
// and enters failover. It returns domain.ErrNoBackupAvailable when no device
// qualifies.
func (c *Coordinator) Degrade(failing string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fm, ok := c.members[failing]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownDevice, failing)
	}

	backup := c.bestLocked(failing, c.cfg.MinBackupHealth)
	if backup == "" {
		return "", fmt.Errorf("degrade %s: %w", failing, domain.ErrNoBackupAvailable)
	}

	now := c.clock.Now()
	fm.health = 0
	fm.degraded = true
	fm.active = false
	c.backup = backup
	if c.primary == failing {
		c.primary = backup
	}
	if !c.failoverActive {
		c.failoverActive = true
		c.failoverStart = now
	}
	c.lastHealthUpdate = now

	ep := domain.FailoverEpisode{
		ID:        uuid.New().String(),
		Failing:   failing,
		Backup:    backup,
		StartedAt: now,
	}
	c.episodes = append(c.episodes, ep)
	if len(c.episodes) > c.cfg.HistorySize {
		c.episodes = c.episodes[len(c.episodes)-c.cfg.HistorySize:]
	}

	c.logger.Warn("Failing over device",
		"failing", failing, "backup", backup, "episode", ep.ID, "active", c.activeLocked())
	return backup, nil
}

// MarkRecovered returns a device to the active set after a validated
// recovery.
func (c *Coordinator) MarkRecovered(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[id]
	if !ok {
		return
	}
	m.active = true
	m.degraded = false
	if c.primary == "" {
		c.primary = id
	}
	c.closeEpisodesLocked(id, c.clock.Now())
}

// MarkDisabled removes a device that reached the terminal state from the
// active set.
func (c *Coordinator) MarkDisabled(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[id]
	if !ok {
		return
	}
	m.active = false
	m.disabled = true
	m.health = 0
	if c.primary == id {
		if next := c.bestLocked(id, 0); next != "" {
			c.primary = next
		}
	}
}

// Reinstate clears every flag set against id after its statistics are reset.
func (c *Coordinator) Reinstate(id string, health int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[id]
	if !ok {
		return
	}
	m.active = true
	m.degraded = false
	m.disabled = false
	m.health = health
	c.closeEpisodesLocked(id, c.clock.Now())
}

// Update leaves failover once more than one device is active and no recovery
// has run for the stable period. It reports whether failover ended.
func (c *Coordinator) Update() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.failoverActive {
		return false
	}
	if c.activeLocked() <= 1 {
		return false
	}

	now := c.clock.Now()
	since := c.failoverStart
	if c.lastRecovery.After(since) {
		since = c.lastRecovery
	}
	if now.Sub(since) < c.cfg.StablePeriod {
		return false
	}

	c.failoverActive = false
	c.backup = ""
	c.logger.Info("Failover ended, system stable", "active", c.activeLocked(), "duration", now.Sub(c.failoverStart))
	return true
}

// IsDegraded reports whether id handed its role to a backup and has not
// recovered since.
func (c *Coordinator) IsDegraded(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[id]
	return ok && m.degraded
}

func (c *Coordinator) FailoverActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failoverActive
}

func (c *Coordinator) TotalDevices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

func (c *Coordinator) ActiveDevices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

// State exports a snapshot.
func (c *Coordinator) State() domain.CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := domain.CoordinatorState{
		TotalDevices:     len(c.members),
		ActiveDevices:    c.activeLocked(),
		PrimaryDevice:    c.primary,
		BackupDevice:     c.backup,
		FailoverActive:   c.failoverActive,
		FailoverStart:    c.failoverStart,
		Health:           make(map[string]int, len(c.members)),
		LastHealthUpdate: c.lastHealthUpdate,
		Episodes:         make([]domain.FailoverEpisode, len(c.episodes)),
	}
	for id, m := range c.members {
		st.Health[id] = m.health
	}
	copy(st.Episodes, c.episodes)
	return st
}

func (c *Coordinator) activeLocked() int {
	n := 0
	for _, m := range c.members {
		if m.active {
			n++
		}
	}
	return n
}

// bestLocked returns the active device with the highest health at or above
// floor, excluding skip. Ties go to the earliest registered.
func (c *Coordinator) bestLocked(skip string, floor int) string {
	best, bestHealth := "", -1
	for _, id := range c.order {
		m := c.members[id]
		if id == skip || !m.active || m.health < floor {
			continue
		}
		if m.health > bestHealth {
			best, bestHealth = id, m.health
		}
	}
	return best
}

func (c *Coordinator) closeEpisodesLocked(id string, now time.Time) {
	for i := range c.episodes {
		ep := &c.episodes[i]
		if ep.Failing == id && ep.EndedAt == nil {
			end := now
			ep.EndedAt = &end
		}
	}
}
