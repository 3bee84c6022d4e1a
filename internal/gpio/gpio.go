// Package gpio is the digital I/O boundary. The real implementation uses the
// Linux GPIO character device; fakes allow testing without hardware.
package gpio

type Edge int

const (
	FallingEdge Edge = iota
	BothEdges
)

// InputLine is an edge-triggered input. The handler passed to Watch runs on
// the event delivery goroutine and must be bounded, allocation-free and
// non-blocking: it may only touch atomics.
type InputLine interface {
	Watch(edge Edge, handler func()) error
	// Read returns the current level, true for high.
	Read() (bool, error)
	Close() error
}

// Actuator drives one solenoid output. Hold applies a reduced duty drive so
// the coil stays engaged without overheating.
type Actuator interface {
	DriveOpen()
	DriveClosed()
	Hold(level uint8)
	Close() error
}
