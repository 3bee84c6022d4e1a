// Package door drives one solenoid lock through its timed actuation
// sequences and tracks its logical state. The two directions use physically
// independent outputs, so controllers never coordinate with each other.
package door

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/catflap/catflapd/internal/gpio"
)

type State int32

const (
	Locked State = iota
	Unlocked
	LockedOpen
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case LockedOpen:
		return "locked-open"
	default:
		return "locked"
	}
}

// Timings are the hardware settle-time contract for one solenoid. The
// sleeps are intentional: the sequence's correctness depends on strict
// ordering and duration, so they must not become asynchronous.
type Timings struct {
	UnlockSettle time.Duration
	UnlockHold   uint8
	LockSettle   time.Duration
	LockPulse    time.Duration
	LockHold     uint8
}

// The entry and exit solenoids are different hardware and were tuned
// separately.
var (
	EntryTimings = Timings{
		UnlockSettle: 30 * time.Millisecond,
		UnlockHold:   180,
		LockSettle:   8 * time.Millisecond,
		LockPulse:    11 * time.Millisecond,
		LockHold:     180,
	}
	ExitTimings = Timings{
		UnlockSettle: 20 * time.Millisecond,
		UnlockHold:   50,
		LockSettle:   8 * time.Millisecond,
		LockPulse:    11 * time.Millisecond,
		LockHold:     180,
	}
)

// Controller owns one lock actuator. Lock and Unlock are called only from
// the control loop; State may be read from other goroutines (status API).
// The deadline fields are control-loop-private scratch state.
type Controller struct {
	name    string
	act     gpio.Actuator
	timings Timings
	logger  *zerolog.Logger

	state atomic.Int32

	// closeDeadline is when to re-lock, monotonic ms, 0 = unset.
	// lastLockedAt is when the last ordinary re-lock finished, for the
	// obstruction-detection window. Both are touched by the control loop
	// only.
	closeDeadline int64
	lastLockedAt  int64
}

func NewController(name string, act gpio.Actuator, timings Timings, logger *zerolog.Logger) *Controller {
	c := &Controller{name: name, act: act, timings: timings, logger: logger}
	// Far enough in the past that startup never looks like an obstruction.
	c.lastLockedAt = -1 << 40
	return c
}

func (c *Controller) Name() string { return c.name }

func (c *Controller) State() State { return State(c.state.Load()) }

// IsOpen reports whether the actuator was last driven to its open position.
func (c *Controller) IsOpen() bool {
	s := c.State()
	return s == Unlocked || s == LockedOpen
}

// Unlock runs the open sequence: full drive, settle, then reduced hold
// drive. Synchronous and bounded; it always succeeds. The caller is
// responsible for setting the close deadline.
func (c *Controller) Unlock() {
	c.act.DriveOpen()
	time.Sleep(c.timings.UnlockSettle)
	c.act.Hold(c.timings.UnlockHold)
	c.state.Store(int32(Unlocked))
	c.logger.Debug().Str("door", c.name).Msg("unlocked")
}

// Lock runs the close sequence: drive closed, settle, a brief hold pulse,
// then release. Clears Unlocked or LockedOpen, whatever the state was.
func (c *Controller) Lock() {
	c.act.DriveClosed()
	time.Sleep(c.timings.LockSettle)
	c.act.Hold(c.timings.LockHold)
	time.Sleep(c.timings.LockPulse)
	c.act.DriveClosed()
	c.state.Store(int32(Locked))
	c.logger.Debug().Str("door", c.name).Msg("locked")
}

// MarkLockedOpen flags the obstruction-recovery state after the control
// loop has re-run Unlock.
func (c *Controller) MarkLockedOpen() {
	c.state.Store(int32(LockedOpen))
}

func (c *Controller) CloseDeadline() int64 { return c.closeDeadline }

func (c *Controller) SetCloseDeadline(ms int64) { c.closeDeadline = ms }

func (c *Controller) ClearCloseDeadline() { c.closeDeadline = 0 }

// ExtendCloseDeadline moves the close deadline out to ms unless it is
// already later. Extension never shortens the unlock window.
func (c *Controller) ExtendCloseDeadline(ms int64) {
	if ms > c.closeDeadline {
		c.closeDeadline = ms
	}
}

func (c *Controller) LastLockedAt() int64 { return c.lastLockedAt }

func (c *Controller) SetLastLockedAt(ms int64) { c.lastLockedAt = ms }
