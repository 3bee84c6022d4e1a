package gpio

import (
	"fmt"
	"sync"
)

// FakeInput is an in-memory InputLine for tests. Fire delivers an edge to
// the registered handler; SetLevel changes what Read reports.
type FakeInput struct {
	mu      sync.Mutex
	level   bool
	handler func()
}

func NewFakeInput() *FakeInput {
	return &FakeInput{}
}

func (f *FakeInput) Watch(_ Edge, handler func()) error {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return nil
}

func (f *FakeInput) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level, nil
}

func (f *FakeInput) SetLevel(high bool) {
	f.mu.Lock()
	f.level = high
	f.mu.Unlock()
}

func (f *FakeInput) Fire() {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (f *FakeInput) Close() error { return nil }

// FakeActuator records the drive sequence applied to it.
type FakeActuator struct {
	mu  sync.Mutex
	ops []string
}

func NewFakeActuator() *FakeActuator {
	return &FakeActuator{}
}

func (f *FakeActuator) DriveOpen() { f.record("open") }

func (f *FakeActuator) DriveClosed() { f.record("closed") }

func (f *FakeActuator) Hold(level uint8) {
	f.record(fmt.Sprintf("hold(%d)", level))
}

func (f *FakeActuator) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

// Ops returns the sequence of drive operations so far.
func (f *FakeActuator) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ops))
	copy(out, f.ops)
	return out
}

func (f *FakeActuator) Close() error { return nil }
