package control

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"

	"github.com/vietddude/nicguard/internal/core/clock"
	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/classifier"
	"github.com/vietddude/nicguard/internal/faults/coordinator"
	"github.com/vietddude/nicguard/internal/faults/device"
	"github.com/vietddude/nicguard/internal/faults/eventlog"
	"github.com/vietddude/nicguard/internal/faults/guard"
	"github.com/vietddude/nicguard/internal/faults/metrics"
	"github.com/vietddude/nicguard/internal/faults/recovery"
	"github.com/vietddude/nicguard/internal/faults/tracker"
	"github.com/vietddude/nicguard/internal/infra/nic"
)

// SupervisorConfig wires the fault engine.
type SupervisorConfig struct {
	LogCapacity     int
	InstantCritical []domain.Category
	Tracker         tracker.Config
	Guard           guard.Config
	Recovery        recovery.Config
	Coordinator     coordinator.Config
	Table           recovery.Table

	// Waiter replaces the guard's backoff sleep; nil sleeps.
	Waiter guard.Waiter
}

// slot is one managed device. The event buffer lets the interrupt path
// classify without allocating.
type slot struct {
	state *device.State
	buf   []domain.ErrorEvent
}

// Supervisor owns every device slot, the event log and the engine
// components. It is the only entry point callers use.
type Supervisor struct {
	adapter nic.Adapter
	log     *eventlog.Log
	classy  *classifier.Classifier
	tracker *tracker.Tracker
	guard   *guard.Guard
	engine  *recovery.Engine
	coord   *coordinator.Coordinator
	clock   clock.Clock
	logger  *slog.Logger

	mu    sync.RWMutex
	slots map[string]*slot
}

// NewSupervisor builds the engine around adapter.
func NewSupervisor(cfg SupervisorConfig, adapter nic.Adapter, clk clock.Clock, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	clk = clock.OrReal(clk)
	critical := cfg.InstantCritical
	if critical == nil {
		critical = classifier.DefaultInstantCritical()
	}

	log := eventlog.New(cfg.LogCapacity)
	tr := tracker.New(cfg.Tracker)
	g := guard.New(cfg.Guard, guard.WithWaiter(cfg.Waiter), guard.WithLogger(logger))
	coord := coordinator.New(cfg.Coordinator, clk, logger)
	engine := recovery.NewEngine(cfg.Recovery, cfg.Table, recovery.Deps{
		Adapter:     adapter,
		Guard:       g,
		Tracker:     tr,
		Coordinator: coord,
		Log:         log,
		Clock:       clk,
		Logger:      logger,
	})

	return &Supervisor{
		adapter: adapter,
		log:     log,
		classy:  classifier.New(log, tr, critical),
		tracker: tr,
		guard:   g,
		engine:  engine,
		coord:   coord,
		clock:   clk,
		logger:  logger.With("component", "supervisor"),
		slots:   make(map[string]*slot),
	}
}

// ============================================================================
// Device management
// ============================================================================

// Register starts managing id with fresh statistics.
func (s *Supervisor) Register(id string) error {
	if id == "" {
		return domain.ErrInvalidDevice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[id]; ok {
		return fmt.Errorf("register %s: %w", id, domain.ErrDeviceExists)
	}
	s.slots[id] = &slot{
		state: device.New(id, s.clock.Now()),
		buf:   make([]domain.ErrorEvent, 0, domain.NumCategories),
	}
	s.coord.Register(id, device.InitialHealth)
	s.logger.Info("Device registered", "device", id)
	return nil
}

// Unregister stops managing id and drops its state.
func (s *Supervisor) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[id]; !ok {
		return fmt.Errorf("unregister %s: %w", id, domain.ErrUnknownDevice)
	}
	delete(s.slots, id)
	s.coord.Unregister(id)
	metrics.Forget(id)
	s.logger.Info("Device unregistered", "device", id)
	return nil
}

// Devices lists the managed ids in order.
func (s *Supervisor) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Supervisor) lookup(id string) (*slot, error) {
	if id == "" {
		return nil, domain.ErrInvalidDevice
	}
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownDevice
	}
	return sl, nil
}

// ============================================================================
// Interrupt path
// ============================================================================

// Report classifies a status snapshot from interrupt context. It never
// blocks on hardware, never logs and does not allocate. Instant-critical
// categories are latched for the next Poll. Reports for one device must not
// run concurrently with each other.
func (s *Supervisor) Report(id string, st domain.RawStatus) error {
	sl, err := s.lookup(id)
	if err != nil {
		return err
	}
	sl.buf, _, _ = s.classifyInto(sl, st)
	return nil
}

func (s *Supervisor) classifyInto(sl *slot, st domain.RawStatus) ([]domain.ErrorEvent, domain.Category, bool) {
	events, critical, found := s.classy.Classify(sl.state, st, s.clock.Now(), sl.buf[:0])
	if found {
		sl.state.LatchCritical(critical)
	}
	return events, critical, found
}

// ReportTraffic adds packets seen by id to the current rate window.
func (s *Supervisor) ReportTraffic(id string, packets uint64) error {
	sl, err := s.lookup(id)
	if err != nil {
		return err
	}
	sl.state.AddTraffic(packets)
	return nil
}

// ============================================================================
// Foreground path
// ============================================================================

// Classify decodes st in the foreground and runs recovery right away when an
// instant-critical category is seen. The result is nil when no recovery ran.
func (s *Supervisor) Classify(ctx context.Context, id string, st domain.RawStatus) ([]domain.ErrorEvent, *domain.RecoveryResult, error) {
	sl, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	events, critical, found := s.classy.Classify(sl.state, st, now, nil)
	s.tracker.Assess(sl.state, now)
	for _, ev := range events {
		s.logger.Debug("Hardware error", "device", id, "category", ev.Category, "severity", ev.Severity)
	}

	// A critical error latched by Report earlier is handled here too.
	if latched, ok := sl.state.TakeCritical(); ok && (!found || latched > critical) {
		critical, found = latched, true
	}
	if !found {
		return events, nil, nil
	}

	s.logger.Warn("Instant-critical error, recovering now", "device", id, "category", critical)
	res := s.engine.AttemptRecovery(ctx, sl.state, critical)
	if res.Outcome == domain.OutcomeRateLimited {
		sl.state.LatchCritical(critical)
	}
	return events, &res, nil
}

// Poll is the foreground tick for id: latched critical errors are handled
// first, then the rate window is maintained, thresholds are checked and
// recovery runs if needed. The result is nil when no recovery ran.
func (s *Supervisor) Poll(ctx context.Context, id string) (*domain.RecoveryResult, error) {
	sl, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	dev := sl.state
	defer s.coord.Update()

	if dev.Disabled() {
		dev.TakeCritical()
		return nil, nil
	}

	now := s.clock.Now()
	if dev.Link() == domain.LinkUnknown {
		dev.SetLink(s.adapter.LinkState(ctx, id))
	}

	if critical, ok := dev.TakeCritical(); ok {
		if now.Before(dev.NextAllowed()) {
			dev.LatchCritical(critical)
			return nil, nil
		}
		res := s.engine.AttemptRecovery(ctx, dev, critical)
		if res.Outcome == domain.OutcomeRateLimited {
			dev.LatchCritical(critical)
		}
		return &res, nil
	}

	if s.tracker.Tick(dev, now) {
		w := dev.WindowSnapshot()
		s.logger.Debug("Error window closed", "device", id, "rate", w.Rate, "peak", w.Peak)
	}
	s.coord.UpdateHealth(id, dev.Health())

	if !s.tracker.CheckThresholds(dev) {
		return nil, nil
	}
	if now.Before(dev.NextAllowed()) || dev.InProgress() {
		return nil, nil
	}

	dev.Breach()
	res := s.engine.AttemptRecovery(ctx, dev, dev.LastCategory())
	return &res, nil
}

// PollAll polls every device and returns the recoveries that ran.
func (s *Supervisor) PollAll(ctx context.Context) map[string]domain.RecoveryResult {
	out := make(map[string]domain.RecoveryResult)
	for _, id := range s.Devices() {
		res, err := s.Poll(ctx, id)
		if err != nil {
			// Unregistered between listing and polling.
			continue
		}
		if res != nil {
			out[id] = *res
		}
	}
	return out
}

// AttemptRecovery runs recovery for id as if category c had triggered it.
func (s *Supervisor) AttemptRecovery(ctx context.Context, id string, c domain.Category) (domain.RecoveryResult, error) {
	sl, err := s.lookup(id)
	if err != nil {
		return domain.RecoveryResult{}, err
	}
	if int(c) >= domain.NumCategories {
		return domain.RecoveryResult{}, fmt.Errorf("category %d out of range", c)
	}
	return s.engine.AttemptRecovery(ctx, sl.state, c), nil
}

// DetermineLevel previews the level the next recovery for id would use.
func (s *Supervisor) DetermineLevel(id string, c domain.Category) (domain.EscalationLevel, error) {
	sl, err := s.lookup(id)
	if err != nil {
		return domain.LevelNone, err
	}
	return s.engine.DetermineLevel(sl.state, c), nil
}

// ============================================================================
// Diagnostics and administration
// ============================================================================

// GetStatistics exports the state of id.
func (s *Supervisor) GetStatistics(id string) (domain.DeviceErrorState, error) {
	sl, err := s.lookup(id)
	if err != nil {
		return domain.DeviceErrorState{}, err
	}
	return sl.state.Snapshot(), nil
}

// DumpLog returns the retained events oldest first.
func (s *Supervisor) DumpLog() []domain.ErrorEvent { return s.log.Dump() }

// Events iterates the retained events lazily.
func (s *Supervisor) Events() iter.Seq[domain.ErrorEvent] { return s.log.All() }

// LogOverflow reports how many events were overwritten.
func (s *Supervisor) LogOverflow() uint64 { return s.log.Overflow() }

// ResetStatistics clears every counter of id and lifts the terminal state.
func (s *Supervisor) ResetStatistics(id string) error {
	sl, err := s.lookup(id)
	if err != nil {
		return err
	}
	sl.state.Reset(s.clock.Now())
	s.coord.Reinstate(id, sl.state.Health())
	s.logger.Info("Device statistics reset", "device", id)
	return nil
}

// CoordinatorState exports the coordinator snapshot.
func (s *Supervisor) CoordinatorState() domain.CoordinatorState { return s.coord.State() }

// UpdateMetrics exports the current state to Prometheus. It runs in the
// foreground only.
func (s *Supervisor) UpdateMetrics() {
	for _, id := range s.Devices() {
		st, err := s.GetStatistics(id)
		if err != nil {
			continue
		}
		for name, n := range st.Counters {
			metrics.DeviceErrors.WithLabelValues(id, name).Set(float64(n))
		}
		metrics.DeviceHealth.WithLabelValues(id).Set(float64(st.HealthScore))
		metrics.DeviceErrorRate.WithLabelValues(id).Set(float64(st.ErrorRatePercent))
		metrics.DeviceDisabled.WithLabelValues(id).Set(metrics.BoolGauge(st.AdapterDisabled))
	}
	cs := s.coord.State()
	metrics.FailoverActive.Set(metrics.BoolGauge(cs.FailoverActive))
	metrics.ActiveDevices.Set(float64(cs.ActiveDevices))
	metrics.EventLogOverflow.Set(float64(s.log.Overflow()))
}
