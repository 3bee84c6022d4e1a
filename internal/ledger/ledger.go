// Package ledger tracks which credential slots are currently inside. It is
// updated only on state-changing permitted entries and exits, never on every
// read, and is served by the status API.
package ledger

import (
	"sync"
	"time"

	"github.com/catflap/catflapd/internal/settings"
)

type Entry struct {
	Slot   int
	In     bool
	LastAt time.Time
}

type Ledger struct {
	mu   sync.RWMutex
	in   uint8
	seen [settings.NumSlots]time.Time
}

func New() *Ledger {
	return &Ledger{}
}

// MarkIn records a permitted entry for a slot at wall-clock time t.
func (l *Ledger) MarkIn(slot int, t time.Time) {
	if slot < 0 || slot >= settings.NumSlots {
		return
	}
	l.mu.Lock()
	l.in |= 1 << slot
	l.seen[slot] = t
	l.mu.Unlock()
}

// MarkOut records a permitted exit for a slot at wall-clock time t.
func (l *Ledger) MarkOut(slot int, t time.Time) {
	if slot < 0 || slot >= settings.NumSlots {
		return
	}
	l.mu.Lock()
	l.in &^= 1 << slot
	l.seen[slot] = t
	l.mu.Unlock()
}

// Entry returns a slot's presence state. ok is false until the slot has
// seen at least one transition.
func (l *Ledger) Entry(slot int) (e Entry, ok bool) {
	if slot < 0 || slot >= settings.NumSlots {
		return Entry{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.seen[slot].IsZero() {
		return Entry{}, false
	}
	return Entry{Slot: slot, In: l.in&(1<<slot) != 0, LastAt: l.seen[slot]}, true
}

// Snapshot lists every slot that has seen a transition.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, settings.NumSlots)
	for i := 0; i < settings.NumSlots; i++ {
		if l.seen[i].IsZero() {
			continue
		}
		out = append(out, Entry{Slot: i, In: l.in&(1<<i) != 0, LastAt: l.seen[i]})
	}
	return out
}
