package wiegand

import (
	"sync/atomic"

	"github.com/catflap/catflapd/internal/clock"
)

// InterBitTimeout is how long after the last bit a frame is considered
// complete, in milliseconds.
const InterBitTimeout = 20

// Capture is the per-channel capture state shared between the two data-line
// edge handlers and the control loop. All fields are machine-word atomics;
// composite reads are advisory. An edge handler may append one more bit
// between the loop's deadline check and its Snapshot — the decoder rejects
// the odd-width frame, nothing corrupts.
type Capture struct {
	clk clock.Clock

	bits     atomic.Uint64
	count    atomic.Uint32
	deadline atomic.Int64 // monotonic ms, 0 = no frame in progress
	done     atomic.Bool
}

func NewCapture(clk clock.Clock) *Capture {
	return &Capture{clk: clk}
}

// Bit0 is the data-0 falling-edge handler.
func (c *Capture) Bit0() { c.push(0) }

// Bit1 is the data-1 falling-edge handler.
func (c *Capture) Bit1() { c.push(1) }

// push appends one bit, most-significant-first: prior bits shift left and
// the new bit becomes the least significant. Bits arriving while a completed
// frame awaits consumption are dropped.
func (c *Capture) push(bit uint64) {
	if c.done.Load() {
		return
	}
	c.deadline.Store(c.clk.Millis() + InterBitTimeout)
	c.count.Add(1)
	for {
		old := c.bits.Load()
		if c.bits.CompareAndSwap(old, old<<1|bit) {
			return
		}
	}
}

// Ready reports whether a completed frame is waiting: the inter-bit deadline
// is set and has elapsed. Once ready, the channel stays ready (and stops
// accepting bits) until Reset. Control loop only.
func (c *Capture) Ready(now int64) bool {
	if c.done.Load() {
		return true
	}
	d := c.deadline.Load()
	if d != 0 && d <= now {
		c.done.Store(true)
		return true
	}
	return false
}

// Snapshot returns the bit count and buffer. The two loads are not atomic
// together; the read is advisory by design.
func (c *Capture) Snapshot() (uint8, uint64) {
	return uint8(c.count.Load()), c.bits.Load()
}

// Reset clears the channel to empty. Idempotent, and safe to race against a
// late bit arrival: each store is word-atomic, so a lost bit is the worst
// case. The done latch clears last so stray bits are dropped until then.
func (c *Capture) Reset() {
	c.bits.Store(0)
	c.count.Store(0)
	c.deadline.Store(0)
	c.done.Store(false)
}
