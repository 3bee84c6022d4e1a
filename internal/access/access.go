// Package access decides whether a decoded credential may pass in a given
// direction. Decisions are pure lookups against the settings record; all
// notification and ledger side effects belong to the caller.
package access

import (
	"github.com/catflap/catflapd/internal/settings"
	"github.com/catflap/catflapd/internal/wiegand"
)

type Direction int

const (
	Exit Direction = iota
	Entry
)

func (d Direction) String() string {
	if d == Entry {
		return "Entry"
	}
	return "Exit"
}

type Decision int

const (
	Deny Decision = iota
	Permit
	Unknown
)

func (d Decision) String() string {
	switch d {
	case Permit:
		return "permit"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Result carries the decision plus the display fields the control loop needs
// for notifications and the ledger. Slot is -1 for unknown credentials.
type Result struct {
	Decision Decision
	Slot     int
	Name     string
	Topic    string
}

type Engine struct {
	store *settings.Store
}

func NewEngine(store *settings.Store) *Engine {
	return &Engine{store: store}
}

// Decide resolves a card against the credential table. Lookups always
// resolve to the first matching slot in storage order; duplicate
// (facility, card) pairs in later slots are shadowed.
func (e *Engine) Decide(dir Direction, card wiegand.Card) Result {
	rec := e.store.Record()

	slot := -1
	for i := range rec.Credentials {
		if rec.Credentials[i].Facility == card.Facility && rec.Credentials[i].Card == card.Number {
			slot = i
			break
		}
	}
	if slot == -1 {
		return Result{
			Decision: Unknown,
			Slot:     -1,
			Name:     "Unnamed",
			Topic:    rec.Ntfy.Topic,
		}
	}

	cred := rec.Credentials[slot]
	res := Result{
		Decision: Deny,
		Slot:     slot,
		Name:     cred.Name,
		Topic:    cred.Topic,
	}
	if res.Topic == "" {
		res.Topic = rec.Ntfy.Topic
	}
	if (dir == Entry && cred.EntryAllowed()) || (dir == Exit && cred.ExitAllowed()) {
		res.Decision = Permit
	}
	return res
}
