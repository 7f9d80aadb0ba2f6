// Package eventlog is the fixed-capacity diagnostic ring of error events.
package eventlog

import (
	"iter"
	"sync"
	"sync/atomic"

	"github.com/vietddude/nicguard/internal/core/domain"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 256

// Log is an overwrite-on-full ring of ErrorEvents. All storage is allocated
// up front; Append never allocates and never blocks beyond a few field
// writes.
type Log struct {
	mu      sync.Mutex
	slots   []domain.ErrorEvent
	head    int // next slot to write
	count   int
	wrapped bool
	nextSeq uint64

	overflow atomic.Uint64
}

// New creates a log holding capacity events.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		slots:   make([]domain.ErrorEvent, capacity),
		nextSeq: 1,
	}
}

// Append stores ev, overwriting the oldest event when full, and returns the
// sequence number assigned to it.
func (l *Log) Append(ev domain.ErrorEvent) uint64 {
	l.mu.Lock()
	ev.Seq = l.nextSeq
	l.nextSeq++
	l.slots[l.head] = ev
	l.head++
	if l.head == len(l.slots) {
		l.head = 0
		l.wrapped = true
	}
	full := l.count == len(l.slots)
	if !full {
		l.count++
	}
	l.mu.Unlock()

	if full {
		l.overflow.Add(1)
	}
	return ev.Seq
}

// All yields the retained events oldest first. Each call starts a fresh
// pass. Events overwritten while the pass is running are skipped.
func (l *Log) All() iter.Seq[domain.ErrorEvent] {
	return func(yield func(domain.ErrorEvent) bool) {
		l.mu.Lock()
		last := l.nextSeq - 1
		first := l.nextSeq - uint64(l.count)
		l.mu.Unlock()

		for seq := first; seq <= last && seq > 0; seq++ {
			ev, ok := l.at(seq)
			if !ok {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func (l *Log) at(seq uint64) (domain.ErrorEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := l.slots[(seq-1)%uint64(len(l.slots))]
	return ev, ev.Seq == seq
}

// Dump returns a copy of the retained events oldest first.
func (l *Log) Dump() []domain.ErrorEvent {
	out := make([]domain.ErrorEvent, 0, l.Len())
	for ev := range l.All() {
		out = append(out, ev)
	}
	return out
}

// Overflow is the number of events lost to overwrite. It never decreases.
func (l *Log) Overflow() uint64 { return l.overflow.Load() }

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *Log) Capacity() int { return len(l.slots) }

// Wrapped reports whether the write head has gone round at least once.
func (l *Log) Wrapped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wrapped
}
