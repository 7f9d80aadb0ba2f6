package classifier

import (
	"testing"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/device"
	"github.com/vietddude/nicguard/internal/faults/eventlog"
	"github.com/vietddude/nicguard/internal/faults/tracker"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setup() (*Classifier, *eventlog.Log, *device.State) {
	log := eventlog.New(32)
	c := New(log, tracker.New(tracker.DefaultConfig()), DefaultInstantCritical())
	return c, log, device.New("eth0", t0)
}

func TestStatusFromRegisters(t *testing.T) {
	st := domain.StatusFromRegisters(0x0001, 0x00030000, 0x00840000, 0)
	got := Decode(st)
	want := []domain.Category{domain.RxOverrun, domain.RxCrc, domain.TxTimeout, domain.TxDma}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestClassifyMultipleCategories(t *testing.T) {
	c, log, dev := setup()
	st := domain.EncodeCategories(domain.RxOverrun, domain.RxCrc)

	events, _, critical := c.Classify(dev, st, t0, nil)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Category != domain.RxOverrun || events[1].Category != domain.RxCrc {
		t.Errorf("unexpected categories %s, %s", events[0].Category, events[1].Category)
	}
	if events[1].Severity != domain.SeverityCritical {
		t.Errorf("crc should be critical, got %s", events[1].Severity)
	}
	if critical {
		t.Error("overrun and crc are not instant-critical")
	}

	if dev.Count(domain.RxOverrun) != 1 || dev.Count(domain.RxCrc) != 1 {
		t.Error("counters not updated")
	}
	if dev.Consecutive() != 2 {
		t.Errorf("expected consecutive 2, got %d", dev.Consecutive())
	}
	if log.Len() != 2 {
		t.Errorf("expected 2 logged events, got %d", log.Len())
	}
	if dev.WindowSnapshot().Errors != 2 {
		t.Errorf("tracker did not see events")
	}
	if events[0].Seq == 0 || events[0].Seq >= events[1].Seq {
		t.Errorf("events not sequenced: %d, %d", events[0].Seq, events[1].Seq)
	}
}

func TestClassifyInstantCritical(t *testing.T) {
	c, _, dev := setup()
	st := domain.EncodeCategories(domain.AdapterHang, domain.AdapterThermal, domain.RxCrc)

	_, cat, ok := c.Classify(dev, st, t0, nil)
	if !ok || cat != domain.AdapterThermal {
		t.Errorf("expected thermal, got %s (%v)", cat, ok)
	}
	if dev.EpisodeFailures() != 2 {
		t.Errorf("expected 2 adapter-class failures, got %d", dev.EpisodeFailures())
	}
}

func TestClassifyConfigurableCritical(t *testing.T) {
	log := eventlog.New(8)
	c := New(log, tracker.New(tracker.DefaultConfig()), []domain.Category{domain.RxDma})
	dev := device.New("eth0", t0)

	_, cat, ok := c.Classify(dev, domain.EncodeCategories(domain.RxDma), t0, nil)
	if !ok || cat != domain.RxDma {
		t.Errorf("expected rx_dma critical, got %s (%v)", cat, ok)
	}
	if c.IsInstantCritical(domain.AdapterHang) {
		t.Error("hang not configured as critical")
	}
}

func TestClassifyLinkDown(t *testing.T) {
	c, _, dev := setup()
	dev.SetLink(domain.LinkUp)

	c.Classify(dev, domain.EncodeCategories(domain.TxCarrierLost), t0, nil)
	if dev.Link() != domain.LinkDown {
		t.Error("carrier lost should mark link down")
	}

	dev.SetLink(domain.LinkUp)
	events, _, _ := c.Classify(dev, domain.RawStatus{Adapter: domain.AdapterBitLink}, t0, nil)
	if dev.Link() != domain.LinkDown {
		t.Error("link bit should mark link down")
	}
	if len(events) != 0 {
		t.Errorf("link bit has no category, got %d events", len(events))
	}
}

func TestClassifySentinelIsHang(t *testing.T) {
	c, _, dev := setup()
	st := domain.RawStatus{Word: domain.StatusSentinel, Rx: 0xFF, Tx: 0xFF}

	events, cat, ok := c.Classify(dev, st, t0, nil)
	if len(events) != 1 || events[0].Category != domain.AdapterHang {
		t.Fatalf("expected a single hang event, got %+v", events)
	}
	if !ok || cat != domain.AdapterHang {
		t.Error("hang should be instant-critical")
	}
}

func TestClassifyCleanStatus(t *testing.T) {
	c, log, dev := setup()
	st := domain.RawStatus{Adapter: domain.AdapterBitReset | domain.AdapterBitIRQ}

	events, _, _ := c.Classify(dev, st, t0, nil)
	if len(events) != 0 || log.Len() != 0 || dev.Consecutive() != 0 {
		t.Error("informational bits must not produce events")
	}
}

func TestClassifyReusesBuffer(t *testing.T) {
	c, _, dev := setup()
	buf := make([]domain.ErrorEvent, 0, domain.NumCategories)
	st := domain.EncodeCategories(domain.RxCrc)

	allocs := testing.AllocsPerRun(100, func() {
		buf, _, _ = c.Classify(dev, st, t0, buf[:0])
	})
	if allocs != 0 {
		t.Errorf("expected no allocations, got %v", allocs)
	}
}
