package control

import (
	"context"
	"time"

	"github.com/vietddude/nicguard/internal/core/config"
	"github.com/vietddude/nicguard/internal/core/domain"
)

// injector plays the role of a device's interrupt handler in the demo
// daemon: it reports a fixed fault status on a timer.
type injector struct {
	id      string
	every   time.Duration
	burst   int
	packets uint64
	status  domain.RawStatus
}

func newInjectors(devices []config.DeviceConfig) ([]injector, error) {
	var out []injector
	for _, d := range devices {
		if d.Fault.Every <= 0 {
			continue
		}
		cats, err := config.ParseCategories(d.Fault.Categories)
		if err != nil {
			return nil, err
		}
		out = append(out, injector{
			id:      d.ID,
			every:   d.Fault.Every,
			burst:   d.Fault.Burst,
			packets: d.Fault.Packets,
			status:  domain.EncodeCategories(cats...),
		})
	}
	return out, nil
}

func (d *Daemon) runInjector(ctx context.Context, inj injector) error {
	ticker := time.NewTicker(inj.every)
	defer ticker.Stop()

	d.log.Info("Fault injection started", "device", inj.id, "every", inj.every, "burst", inj.burst)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if inj.packets > 0 {
				_ = d.supervisor.ReportTraffic(inj.id, inj.packets)
			}
			for i := 0; i < inj.burst; i++ {
				if err := d.supervisor.Report(inj.id, inj.status); err != nil {
					// Device was unregistered.
					return nil
				}
			}
		}
	}
}
