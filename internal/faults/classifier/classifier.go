// Package classifier decodes adapter status registers into typed error
// events. Classification runs on the interrupt path: it never blocks, never
// logs and does not allocate when the caller supplies a buffer with room.
package classifier

import (
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/device"
	"github.com/vietddude/nicguard/internal/faults/eventlog"
	"github.com/vietddude/nicguard/internal/faults/tracker"
)

// DefaultInstantCritical are the categories that trigger recovery without
// waiting for thresholds.
func DefaultInstantCritical() []domain.Category {
	return []domain.Category{domain.AdapterHang, domain.AdapterThermal, domain.AdapterPower}
}

// Classifier feeds decoded events into the device state, the event log and
// the tracker.
type Classifier struct {
	log      *eventlog.Log
	tracker  *tracker.Tracker
	critical uint32 // bitmask over domain.Category
}

func New(log *eventlog.Log, tr *tracker.Tracker, instantCritical []domain.Category) *Classifier {
	c := &Classifier{log: log, tracker: tr}
	for _, cat := range instantCritical {
		c.critical |= 1 << uint(cat)
	}
	return c
}

// IsInstantCritical reports whether cat bypasses the rate window.
func (c *Classifier) IsInstantCritical(cat domain.Category) bool {
	return c.critical&(1<<uint(cat)) != 0
}

// Classify decodes st for dev, records every event and appends the events to
// dst. It also returns the most severe instant-critical category seen.
func (c *Classifier) Classify(
	dev *device.State,
	st domain.RawStatus,
	now time.Time,
	dst []domain.ErrorEvent,
) (events []domain.ErrorEvent, critical domain.Category, found bool) {
	events = dst

	// A floating bus means the adapter stopped answering.
	if st.IsSentinel() {
		st = domain.RawStatus{Adapter: domain.AdapterBitHang}
	}

	if st.Tx&domain.TxCarrierLost.Info().Bit != 0 || st.Adapter&domain.AdapterBitLink != 0 {
		dev.SetLink(domain.LinkDown)
	}

	for i := 0; i < domain.NumCategories; i++ {
		cat := domain.Category(i)
		if !Decodes(st, cat) {
			continue
		}

		dev.RecordError(cat, now)
		ev := domain.NewErrorEvent(dev.ID(), cat, now)
		ev.Seq = c.log.Append(ev)
		c.tracker.OnEvent(dev, now)
		events = append(events, ev)

		if c.IsInstantCritical(cat) {
			// Later categories are the more severe ones.
			critical, found = cat, true
		}
	}
	return events, critical, found
}

// Decodes reports whether st carries cat.
func Decodes(st domain.RawStatus, cat domain.Category) bool {
	info := cat.Info()
	var b uint8
	switch info.Class {
	case domain.ClassRx:
		b = st.Rx
	case domain.ClassTx:
		b = st.Tx
	case domain.ClassAdapter:
		b = st.Adapter
	}
	return b&info.Bit != 0
}

// Decode lists the categories in st.
func Decode(st domain.RawStatus) []domain.Category {
	var out []domain.Category
	for i := 0; i < domain.NumCategories; i++ {
		if cat := domain.Category(i); Decodes(st, cat) {
			out = append(out, cat)
		}
	}
	return out
}
