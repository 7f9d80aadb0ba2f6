package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/nicguard/internal/core/clock"
	"github.com/vietddude/nicguard/internal/core/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newCoordinator() (*Coordinator, *clock.Manual) {
	clk := clock.NewManual(t0)
	return New(DefaultConfig(), clk, nil), clk
}

func TestRegisterPrimary(t *testing.T) {
	c, _ := newCoordinator()
	c.Register("a", 100)
	c.Register("b", 100)
	c.Register("a", 100) // duplicate ignored

	st := c.State()
	if st.TotalDevices != 2 || st.ActiveDevices != 2 {
		t.Errorf("total=%d active=%d", st.TotalDevices, st.ActiveDevices)
	}
	if st.PrimaryDevice != "a" {
		t.Errorf("expected primary a, got %q", st.PrimaryDevice)
	}
}

func TestDegradePicksHealthiest(t *testing.T) {
	c, _ := newCoordinator()
	c.Register("a", 100)
	c.Register("b", 60)
	c.Register("c", 90)
	c.UpdateHealth("a", 10)

	backup, err := c.Degrade("a")
	if err != nil {
		t.Fatalf("Degrade: %v", err)
	}
	if backup != "c" {
		t.Errorf("expected backup c, got %q", backup)
	}

	st := c.State()
	if !st.FailoverActive || !st.FailoverStart.Equal(t0) {
		t.Errorf("failover not recorded: %+v", st)
	}
	if st.BackupDevice != "c" || st.PrimaryDevice != "c" {
		t.Errorf("backup=%q primary=%q", st.BackupDevice, st.PrimaryDevice)
	}
	if st.Health["a"] != 0 {
		t.Errorf("failing device health should be 0, got %d", st.Health["a"])
	}
	if st.ActiveDevices != 2 {
		t.Errorf("expected 2 active, got %d", st.ActiveDevices)
	}
	if len(st.Episodes) != 1 {
		t.Fatalf("expected one episode, got %d", len(st.Episodes))
	}
	if _, err := uuid.Parse(st.Episodes[0].ID); err != nil {
		t.Errorf("episode id is not a uuid: %v", err)
	}
	if !c.IsDegraded("a") {
		t.Error("a should be degraded")
	}
}

func TestDegradeNoBackup(t *testing.T) {
	c, _ := newCoordinator()
	c.Register("a", 100)
	c.Register("b", 100)
	c.UpdateHealth("b", 29)

	if _, err := c.Degrade("a"); !errors.Is(err, domain.ErrNoBackupAvailable) {
		t.Errorf("expected ErrNoBackupAvailable, got %v", err)
	}
	if c.FailoverActive() {
		t.Error("failover must not start without a backup")
	}

	single, _ := newCoordinator()
	single.Register("a", 100)
	if _, err := single.Degrade("a"); !errors.Is(err, domain.ErrNoBackupAvailable) {
		t.Errorf("single device: expected ErrNoBackupAvailable, got %v", err)
	}
}

func TestDegradeUnknown(t *testing.T) {
	c, _ := newCoordinator()
	if _, err := c.Degrade("ghost"); !errors.Is(err, domain.ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestDegradedHealthStaysPinned(t *testing.T) {
	c, _ := newCoordinator()
	c.Register("a", 100)
	c.Register("b", 100)
	c.Degrade("a")

	c.UpdateHealth("a", 95)
	if got := c.State().Health["a"]; got != 0 {
		t.Errorf("degraded device reported %d", got)
	}

	c.MarkRecovered("a")
	c.UpdateHealth("a", 95)
	if got := c.State().Health["a"]; got != 95 {
		t.Errorf("recovered device reported %d", got)
	}
	if ep := c.State().Episodes[0]; ep.EndedAt == nil {
		t.Error("episode should be closed on recovery")
	}
}

func TestFailoverExitAfterStablePeriod(t *testing.T) {
	c, clk := newCoordinator()
	c.Register("a", 100)
	c.Register("b", 100)
	c.Degrade("a")

	// Only one active device: never exits.
	clk.Advance(10 * time.Minute)
	if c.Update() {
		t.Fatal("exited failover with a single active device")
	}

	c.MarkRecovered("a")
	c.NoteRecovery()

	clk.Advance(119 * time.Second)
	if c.Update() {
		t.Fatal("exited failover before the stable period")
	}

	clk.Advance(time.Second)
	if !c.Update() {
		t.Fatal("expected failover exit after 120s")
	}
	st := c.State()
	if st.FailoverActive || st.BackupDevice != "" {
		t.Errorf("failover state not cleared: %+v", st)
	}
}

func TestMarkDisabledMovesPrimary(t *testing.T) {
	c, _ := newCoordinator()
	c.Register("a", 100)
	c.Register("b", 80)

	c.MarkDisabled("a")
	st := c.State()
	if st.PrimaryDevice != "b" || st.ActiveDevices != 1 {
		t.Errorf("primary=%q active=%d", st.PrimaryDevice, st.ActiveDevices)
	}

	c.Reinstate("a", 100)
	if c.ActiveDevices() != 2 {
		t.Errorf("reinstate should reactivate a")
	}
}

func TestHistoryBounded(t *testing.T) {
	clk := clock.NewManual(t0)
	c := New(Config{HistorySize: 2}, clk, nil)
	c.Register("a", 100)
	c.Register("b", 100)

	for i := 0; i < 5; i++ {
		if _, err := c.Degrade("a"); err != nil {
			t.Fatalf("degrade %d: %v", i, err)
		}
		c.MarkRecovered("a")
		c.UpdateHealth("a", 100)
	}
	if n := len(c.State().Episodes); n != 2 {
		t.Errorf("expected 2 retained episodes, got %d", n)
	}
}

func TestUnregister(t *testing.T) {
	c, _ := newCoordinator()
	c.Register("a", 100)
	c.Register("b", 50)
	c.Unregister("a")

	st := c.State()
	if st.TotalDevices != 1 || st.PrimaryDevice != "b" {
		t.Errorf("total=%d primary=%q", st.TotalDevices, st.PrimaryDevice)
	}
}
