package control

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/nicguard/internal/core/config"
)

func TestDaemon_Lifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0 // Random port
	cfg.Engine.PollInterval = 5 * time.Millisecond
	cfg.Devices = []config.DeviceConfig{
		{
			ID: "eth0",
			Fault: config.FaultConfig{
				Categories: []string{"tx_collision"},
				Every:      2 * time.Millisecond,
				Burst:      1,
				Packets:    10,
			},
		},
		{ID: "eth1"},
	}

	d, err := NewDaemon(cfg, nil)
	if err != nil {
		t.Fatalf("NewDaemon failed: %v", err)
	}
	if got := d.Supervisor().Devices(); len(got) != 2 {
		t.Fatalf("expected 2 devices, got %v", got)
	}
	if len(d.injectors) != 1 {
		t.Errorf("expected 1 injector, got %d", len(d.injectors))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	st, err := d.Supervisor().GetStatistics("eth0")
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if st.Counters["tx_collision"] == 0 {
		t.Error("expected injected collisions to be counted")
	}
	if len(d.Supervisor().DumpLog()) == 0 {
		t.Error("expected logged events")
	}
	if st, _ := d.Supervisor().GetStatistics("eth1"); st.Counters["tx_collision"] != 0 {
		t.Error("eth1 had no faults injected")
	}
}

func TestDaemon_RejectsBadFault(t *testing.T) {
	cfg := config.Default()
	cfg.Devices = []config.DeviceConfig{{
		ID:    "eth0",
		Fault: config.FaultConfig{Categories: []string{"rx_gremlins"}, Every: time.Second, Burst: 1},
	}}
	if _, err := NewDaemon(cfg, nil); err == nil {
		t.Error("expected error for unknown category")
	}
}
