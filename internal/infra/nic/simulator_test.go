package nic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
)

func TestSimResetClearsStatus(t *testing.T) {
	sim := NewSimAdapter()
	sim.AddDevice("eth0", Profile{
		Status: domain.EncodeCategories(domain.RxCrc, domain.TxTimeout),
		Link:   domain.LinkDown,
	})
	ctx := context.Background()

	st, err := sim.ReadStatus(ctx, "eth0")
	if err != nil || !st.HasErrors() {
		t.Fatalf("expected injected errors, got %+v (%v)", st, err)
	}

	if err := sim.Reset(ctx, "eth0", domain.LevelHardReset); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st, _ = sim.ReadStatus(ctx, "eth0")
	if st.HasErrors() {
		t.Errorf("reset should clear errors, got %+v", st)
	}
	if sim.LinkState(ctx, "eth0") != domain.LinkUp {
		t.Error("hard reset should bring link up")
	}
	if got := sim.ResetCounts("eth0")[domain.LevelHardReset]; got != 1 {
		t.Errorf("expected 1 hard reset, got %d", got)
	}
	if sim.Calls() != 4 {
		t.Errorf("expected 4 calls, got %d", sim.Calls())
	}
}

func TestSimFailResets(t *testing.T) {
	sim := NewSimAdapter()
	sim.AddDevice("eth0", Profile{FailResets: 1})
	ctx := context.Background()

	if err := sim.Reset(ctx, "eth0", domain.LevelSoftReset); !errors.Is(err, ErrResetFailed) {
		t.Errorf("expected injected failure, got %v", err)
	}
	if err := sim.Reset(ctx, "eth0", domain.LevelSoftReset); err != nil {
		t.Errorf("second reset should succeed: %v", err)
	}
}

func TestSimStuckReadsSentinel(t *testing.T) {
	sim := NewSimAdapter()
	sim.AddDevice("eth0", Profile{Stuck: true})

	st, _ := sim.ReadStatus(context.Background(), "eth0")
	if !st.IsSentinel() {
		t.Errorf("expected sentinel, got %+v", st)
	}
	err := sim.WaitReady(context.Background(), "eth0", ReadyCommand, 5*time.Millisecond)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestSimHangHonoursContext(t *testing.T) {
	sim := NewSimAdapter()
	sim.AddDevice("eth0", Profile{Hang: true})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := sim.ReadStatus(ctx, "eth0"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline, got %v", err)
	}
}

func TestSimUnknownDevice(t *testing.T) {
	sim := NewSimAdapter()
	if _, err := sim.ReadStatus(context.Background(), "nope"); !errors.Is(err, ErrNoDevice) {
		t.Errorf("expected ErrNoDevice, got %v", err)
	}
	if err := sim.Update("nope", func(*Profile) {}); !errors.Is(err, ErrNoDevice) {
		t.Errorf("expected ErrNoDevice, got %v", err)
	}
}
