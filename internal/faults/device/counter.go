package device

import (
	"math"
	"sync/atomic"
)

// Counter is a saturating 32-bit counter that is safe to bump from the
// interrupt path. It never wraps.
type Counter struct {
	v atomic.Uint32
}

// Inc adds one unless the counter is already at its maximum and returns the
// new value.
func (c *Counter) Inc() uint32 {
	for {
		old := c.v.Load()
		if old == math.MaxUint32 {
			return old
		}
		if c.v.CompareAndSwap(old, old+1) {
			return old + 1
		}
	}
}

func (c *Counter) Load() uint32 { return c.v.Load() }

func (c *Counter) Store(v uint32) { c.v.Store(v) }

func (c *Counter) Reset() { c.v.Store(0) }
