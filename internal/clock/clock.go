// Package clock separates the monotonic millisecond counter used for all
// deadline arithmetic from the wall clock used for logging and ledger
// timestamps. The wall clock may jump on time sync; deadlines must not.
package clock

import (
	"sync/atomic"
	"time"
)

type Clock interface {
	// Millis is a monotonic millisecond counter, zero at process start.
	Millis() int64
	// Now is the wall clock. Timestamps only, never deadline arithmetic.
	Now() time.Time
}

type Monotonic struct {
	start time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

func (c *Monotonic) Millis() int64 {
	return time.Since(c.start).Milliseconds()
}

func (c *Monotonic) Now() time.Time {
	return time.Now()
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	ms   atomic.Int64
	wall atomic.Int64
}

func NewFake() *Fake {
	f := &Fake{}
	f.wall.Store(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli())
	return f
}

func (f *Fake) Millis() int64 {
	return f.ms.Load()
}

func (f *Fake) Now() time.Time {
	return time.UnixMilli(f.wall.Load())
}

func (f *Fake) Advance(d time.Duration) {
	f.ms.Add(d.Milliseconds())
	f.wall.Add(d.Milliseconds())
}
