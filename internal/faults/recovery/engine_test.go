package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/nicguard/internal/core/clock"
	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/coordinator"
	"github.com/vietddude/nicguard/internal/faults/device"
	"github.com/vietddude/nicguard/internal/faults/eventlog"
	"github.com/vietddude/nicguard/internal/faults/guard"
	"github.com/vietddude/nicguard/internal/faults/tracker"
	"github.com/vietddude/nicguard/internal/infra/nic"
)

// =============================================================================
// Harness
// =============================================================================

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clk   *clock.Manual
	sim   *nic.SimAdapter
	coord *coordinator.Coordinator
	log   *eventlog.Log
	tr    *tracker.Tracker
	eng   *Engine
	devs  map[string]*device.State
}

func newHarness(cfg Config, ids ...string) *harness {
	clk := clock.NewManual(t0)
	h := &harness{
		clk:   clk,
		sim:   nic.NewSimAdapter(),
		coord: coordinator.New(coordinator.DefaultConfig(), clk, nil),
		log:   eventlog.New(64),
		tr:    tracker.New(tracker.DefaultConfig()),
		devs:  make(map[string]*device.State),
	}
	g := guard.New(guard.Config{Timeout: time.Second, MaxRetries: 2}, guard.WithWaiter(guard.NoWait))
	h.eng = NewEngine(cfg, DefaultTable(), Deps{
		Adapter:     h.sim,
		Guard:       g,
		Tracker:     h.tr,
		Coordinator: h.coord,
		Log:         h.log,
		Clock:       clk,
	})
	for _, id := range ids {
		h.sim.AddDevice(id, nic.Profile{Link: domain.LinkUp})
		h.devs[id] = device.New(id, t0)
		h.coord.Register(id, device.InitialHealth)
	}
	return h
}

func (h *harness) feed(id string, c domain.Category, n int) {
	dev := h.devs[id]
	for i := 0; i < n; i++ {
		now := h.clk.Now()
		dev.RecordError(c, now)
		h.tr.OnEvent(dev, now)
	}
	h.tr.Assess(dev, h.clk.Now())
}

func (h *harness) attempt(id string, c domain.Category) domain.RecoveryResult {
	return h.eng.AttemptRecovery(context.Background(), h.devs[id], c)
}

// =============================================================================
// Scenarios
// =============================================================================

func TestTransientCollisionStorm(t *testing.T) {
	h := newHarness(DefaultConfig(), "a")
	for i := 0; i < 5; i++ {
		h.feed("a", domain.TxCollision, 1)
		h.clk.Advance(150 * time.Millisecond)
	}

	if got := h.eng.DetermineLevel(h.devs["a"], domain.TxCollision); got != domain.LevelRetry {
		t.Fatalf("expected retry, got %s", got)
	}

	res := h.attempt("a", domain.TxCollision)
	if res.Outcome != domain.OutcomeSuccess || res.Level != domain.LevelRetry {
		t.Fatalf("expected retry success, got %+v", res)
	}
	if n := h.sim.TotalResets("a"); n != 0 {
		t.Errorf("retry must not reset the adapter, got %d resets", n)
	}
	dev := h.devs["a"]
	if dev.Consecutive() != 0 || dev.Attempts() != 0 {
		t.Errorf("consecutive=%d attempts=%d", dev.Consecutive(), dev.Attempts())
	}
}

func TestPersistentTimeoutEscalates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	h := newHarness(cfg, "a")
	h.sim.Update("a", func(p *nic.Profile) {
		p.FailResets = -1
		p.Stuck = true
	})

	want := []domain.EscalationLevel{domain.LevelRetry, domain.LevelSoftReset, domain.LevelHardReset}
	for i, w := range want {
		h.feed("a", domain.RxTimeout, 1)
		res := h.attempt("a", domain.RxTimeout)
		if res.Level != w {
			t.Fatalf("call %d: expected %s, got %s (%s)", i+1, w, res.Level, res.Outcome)
		}
		if res.Outcome == domain.OutcomeSuccess || res.Outcome == domain.OutcomeRateLimited {
			t.Fatalf("call %d: unexpected outcome %s", i+1, res.Outcome)
		}
		h.clk.Advance(time.Minute)
	}

	h.feed("a", domain.RxTimeout, 1)
	res := h.attempt("a", domain.RxTimeout)
	if res.Outcome != domain.OutcomeFatal {
		t.Fatalf("expected fatal on 4th call, got %+v", res)
	}
	if !h.devs["a"].Disabled() {
		t.Fatal("device should be disabled")
	}

	// Terminal: no hardware touched afterwards.
	calls := h.sim.Calls()
	h.clk.Advance(time.Hour)
	res = h.attempt("a", domain.RxTimeout)
	if res.Outcome != domain.OutcomeFatal {
		t.Errorf("expected fatal, got %s", res.Outcome)
	}
	if h.sim.Calls() != calls {
		t.Errorf("disabled device issued %d hardware calls", h.sim.Calls()-calls)
	}
}

func TestTwoDeviceFailover(t *testing.T) {
	h := newHarness(DefaultConfig(), "a", "b")
	h.feed("a", domain.RxCrc, 8)

	if h.devs["a"].Health() >= 30 {
		t.Fatalf("setup: health %d not below threshold", h.devs["a"].Health())
	}

	res := h.attempt("a", domain.RxCrc)
	if !res.Degraded || res.Backup != "b" || res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("expected degradation to b, got %+v", res)
	}
	st := h.coord.State()
	if !st.FailoverActive || st.BackupDevice != "b" {
		t.Errorf("coordinator not in failover: %+v", st)
	}
	if h.devs["a"].Health() != 0 || st.Health["a"] != 0 {
		t.Errorf("a health should be pinned at 0, got %d/%d", h.devs["a"].Health(), st.Health["a"])
	}

	// Further errors do not lift the pinned score.
	h.clk.Advance(time.Minute)
	h.feed("a", domain.RxCrc, 1)
	if h.devs["a"].Health() != 0 {
		t.Errorf("pinned health moved to %d", h.devs["a"].Health())
	}

	// While failed over, the next request recovers directly.
	res = h.attempt("a", domain.RxCrc)
	if res.Degraded {
		t.Errorf("should not degrade twice: %+v", res)
	}
	if res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("expected direct recovery, got %+v", res)
	}
	if h.coord.IsDegraded("a") || h.devs["a"].Pinned() {
		t.Error("validated recovery should clear degradation")
	}
}

func TestSingleDeviceSkipsDegradation(t *testing.T) {
	h := newHarness(DefaultConfig(), "a")
	h.feed("a", domain.RxCrc, 8)

	res := h.attempt("a", domain.RxCrc)
	if res.Degraded {
		t.Fatalf("single device cannot degrade: %+v", res)
	}
	if res.Level != domain.LevelRetry {
		t.Errorf("expected direct retry, got %s", res.Level)
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestRateLimitedTouchesNoHardware(t *testing.T) {
	h := newHarness(DefaultConfig(), "a")
	dev := h.devs["a"]
	dev.Defer(t0.Add(10 * time.Second))

	res := h.attempt("a", domain.RxCrc)
	if res.Outcome != domain.OutcomeRateLimited {
		t.Fatalf("expected rate limited, got %s", res.Outcome)
	}
	if h.sim.Calls() != 0 {
		t.Errorf("expected 0 hardware calls, got %d", h.sim.Calls())
	}
	if dev.Attempts() != 0 {
		t.Error("rate-limited request must not count as an attempt")
	}
}

func TestInProgressRejected(t *testing.T) {
	h := newHarness(DefaultConfig(), "a")
	dev := h.devs["a"]
	if !dev.Acquire() {
		t.Fatal("acquire failed")
	}
	defer dev.Release()

	res := h.attempt("a", domain.RxCrc)
	if res.Outcome != domain.OutcomeRateLimited {
		t.Errorf("expected rate limited, got %s", res.Outcome)
	}
	if h.sim.Calls() != 0 {
		t.Errorf("expected 0 hardware calls, got %d", h.sim.Calls())
	}
}

func TestCooldownAdvancesAfterEveryAttempt(t *testing.T) {
	h := newHarness(DefaultConfig(), "a")
	h.sim.Update("a", func(p *nic.Profile) {
		p.Status = domain.EncodeCategories(domain.RxFrame)
	})

	var prev time.Time
	for i := 0; i < 3; i++ {
		h.feed("a", domain.RxFrame, 1)
		res := h.attempt("a", domain.RxFrame)
		if res.Outcome == domain.OutcomeRateLimited {
			t.Fatalf("call %d rate limited", i)
		}
		next := h.devs["a"].NextAllowed()
		if !next.After(prev) {
			t.Errorf("call %d: next allowed did not advance (%v -> %v)", i, prev, next)
		}
		if !next.After(h.clk.Now()) {
			t.Errorf("call %d: next allowed not in the future", i)
		}
		prev = next

		again := h.attempt("a", domain.RxFrame)
		if again.Outcome != domain.OutcomeRateLimited {
			t.Errorf("call %d: immediate retry was not rate limited", i)
		}
		h.clk.Set(next)
	}
}

func TestEscalationMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 10
	h := newHarness(cfg, "a")
	h.sim.Update("a", func(p *nic.Profile) {
		p.FailResets = -1
		p.Stuck = true
	})

	cats := []domain.Category{
		domain.TxCollision, domain.RxCrc, domain.RxOverrun, domain.TxCollision,
		domain.RxDma, domain.RxCrc, domain.TxTimeout, domain.TxCollision,
		domain.AdapterHang, domain.RxCrc, domain.RxFrame, domain.TxCollision,
	}
	prev := domain.LevelNone
	for i, c := range cats {
		h.feed("a", c, 2)
		res := h.attempt("a", c)
		h.clk.Advance(time.Minute)
		if res.Outcome == domain.OutcomeRateLimited {
			continue
		}
		if res.Outcome == domain.OutcomeSuccess {
			t.Fatalf("call %d: device cannot recover in this setup", i)
		}
		if res.Level < prev {
			t.Fatalf("call %d: level dropped from %s to %s", i, prev, res.Level)
		}
		prev = res.Level
		if res.Outcome == domain.OutcomeFatal {
			break
		}
	}
	if !h.devs["a"].Disabled() {
		t.Error("expected the device to end disabled")
	}
}

func TestResetOnSuccess(t *testing.T) {
	h := newHarness(DefaultConfig(), "a")
	h.sim.Update("a", func(p *nic.Profile) {
		p.Status = domain.EncodeCategories(domain.RxOverrun)
	})

	h.feed("a", domain.RxOverrun, 3)
	first := h.attempt("a", domain.RxOverrun)
	if first.Outcome != domain.OutcomePartial || first.Level != domain.LevelRetry {
		t.Fatalf("expected partial retry, got %+v", first)
	}

	h.clk.Advance(time.Minute)
	h.feed("a", domain.RxOverrun, 2)
	second := h.attempt("a", domain.RxOverrun)
	if second.Outcome != domain.OutcomeSuccess || second.Level != domain.LevelSoftReset {
		t.Fatalf("expected soft reset success, got %+v", second)
	}

	dev := h.devs["a"]
	if dev.Attempts() != 0 || dev.Consecutive() != 0 || dev.Level() != domain.LevelNone {
		t.Errorf("episode not reset: attempts=%d consecutive=%d level=%s",
			dev.Attempts(), dev.Consecutive(), dev.Level())
	}
	if h.sim.ResetCounts("a")[domain.LevelSoftReset] != 1 {
		t.Error("expected one soft reset")
	}
}

func TestDisabledUntilStatisticsReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	h := newHarness(cfg, "a")
	h.sim.Update("a", func(p *nic.Profile) { p.Stuck = true })

	h.attempt("a", domain.RxCrc)
	h.clk.Advance(time.Minute)
	if res := h.attempt("a", domain.RxCrc); res.Outcome != domain.OutcomeFatal {
		t.Fatalf("expected fatal, got %s", res.Outcome)
	}

	dev := h.devs["a"]
	dev.Reset(h.clk.Now())
	h.coord.Reinstate("a", dev.Health())
	h.sim.Update("a", func(p *nic.Profile) { p.Stuck = false })

	res := h.attempt("a", domain.RxCrc)
	if res.Outcome != domain.OutcomeSuccess {
		t.Errorf("expected recovery after a statistics reset, got %+v", res)
	}
}

func TestThermalFailsOverImmediately(t *testing.T) {
	h := newHarness(DefaultConfig(), "a", "b")
	h.feed("a", domain.AdapterThermal, 1)

	res := h.attempt("a", domain.AdapterThermal)
	if res.Level != domain.LevelSystemFailover || !res.Degraded || res.Backup != "b" {
		t.Fatalf("expected immediate failover to b, got %+v", res)
	}
	if h.sim.TotalResets("a") != 0 {
		t.Error("failover should not reset the adapter")
	}
}

func TestFailedOverDeviceRecoversDirectly(t *testing.T) {
	h := newHarness(DefaultConfig(), "a", "b")
	h.feed("a", domain.AdapterThermal, 1)

	res := h.attempt("a", domain.AdapterThermal)
	if !res.Degraded || res.Backup != "b" {
		t.Fatalf("expected failover to b, got %+v", res)
	}
	if h.devs["a"].Attempts() != 0 {
		t.Errorf("failover should restart the ladder, attempts=%d", h.devs["a"].Attempts())
	}

	h.clk.Advance(time.Minute)
	res = h.attempt("a", domain.AdapterThermal)
	if res.Degraded || res.Level != domain.LevelReinitialize {
		t.Fatalf("expected a direct reinitialize, got %+v", res)
	}
	if res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Outcome, res.Reason)
	}
	if h.sim.ResetCounts("a")[domain.LevelReinitialize] != 1 {
		t.Errorf("expected one reinitialize, got %v", h.sim.ResetCounts("a"))
	}
	if h.coord.IsDegraded("a") || h.devs["a"].Pinned() {
		t.Error("validated recovery should clear degradation")
	}

	for i := 0; i < 5; i++ {
		h.clk.Advance(time.Minute)
		res = h.attempt("a", domain.AdapterThermal)
		if res.Degraded || res.Outcome == domain.OutcomeFatal {
			t.Fatalf("attempt %d: unexpected %+v", i+3, res)
		}
	}
	if h.devs["a"].Disabled() {
		t.Error("device disabled after repeated requests")
	}
	st := h.coord.State()
	if len(st.Episodes) != 1 || st.Episodes[0].EndedAt == nil {
		t.Errorf("expected one closed episode, got %+v", st.Episodes)
	}
}

func TestFailedOverDeviceNeverFailsOverAgain(t *testing.T) {
	h := newHarness(DefaultConfig(), "a", "b")
	h.feed("a", domain.AdapterPower, 1)
	h.attempt("a", domain.AdapterPower)
	h.sim.Update("a", func(p *nic.Profile) { p.FailResets = -1 })

	for i := 0; i < int(DefaultConfig().MaxAttempts)+1; i++ {
		h.clk.Advance(time.Minute)
		res := h.attempt("a", domain.AdapterPower)
		if res.Degraded {
			t.Fatalf("attempt %d failed over again: %+v", i+2, res)
		}
	}
	if h.sim.TotalResets("a") == 0 {
		t.Error("expected direct resets while failed over")
	}
	if !h.devs["a"].Disabled() {
		t.Error("repeated failed resets should disable the device")
	}
	if n := len(h.coord.State().Episodes); n != 1 {
		t.Errorf("expected a single episode, got %d", n)
	}
}

func TestFailoverWithoutBackupFallsBackToHardReset(t *testing.T) {
	h := newHarness(DefaultConfig(), "a")
	h.feed("a", domain.AdapterPower, 1)

	res := h.attempt("a", domain.AdapterPower)
	if res.Level != domain.LevelSystemFailover || res.Degraded {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.sim.ResetCounts("a")[domain.LevelHardReset] != 1 {
		t.Errorf("expected a hard reset, got %v", h.sim.ResetCounts("a"))
	}
	if res.Outcome != domain.OutcomeSuccess {
		t.Errorf("expected success, got %s (%s)", res.Outcome, res.Reason)
	}
}

func TestRecoveryIsLogged(t *testing.T) {
	h := newHarness(DefaultConfig(), "a")
	h.feed("a", domain.RxCrc, 1)
	h.attempt("a", domain.RxCrc)

	events := h.log.Dump()
	if len(events) != 1 {
		t.Fatalf("expected 1 logged recovery, got %d", len(events))
	}
	if events[0].Action != domain.LevelRetry || events[0].Severity != domain.SeverityInfo {
		t.Errorf("unexpected event %+v", events[0])
	}
}
