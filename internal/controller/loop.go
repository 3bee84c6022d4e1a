// Package controller runs the single-threaded control loop tying card
// capture, access decisions, the presence ledger and the lock actuators
// together. Everything here executes on one goroutine; the only state shared
// with edge handlers is the capture channels and one atomic event bitmask.
package controller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/catflap/catflapd/internal/access"
	"github.com/catflap/catflapd/internal/clock"
	"github.com/catflap/catflapd/internal/door"
	"github.com/catflap/catflapd/internal/gpio"
	"github.com/catflap/catflapd/internal/history"
	"github.com/catflap/catflapd/internal/ledger"
	"github.com/catflap/catflapd/internal/settings"
	"github.com/catflap/catflapd/internal/wiegand"
)

const (
	// DefaultDoorTimeout is how long a door stays unlocked after a
	// permitted read.
	DefaultDoorTimeout = 60 * time.Second
	// DefaultSwingTimeout is the grace period a door-sensor nudge buys
	// while a door is already open.
	DefaultSwingTimeout = 3 * time.Second
	// DefaultPollInterval is the loop tick period.
	DefaultPollInterval = 5 * time.Millisecond

	// obstructionWindowMs: a door seen open this soon after re-locking
	// means the bolt fired against an obstruction.
	obstructionWindowMs = 2000
	// lockedOpenDelay slows polling while recovering from an obstruction
	// to avoid thrashing the actuator.
	lockedOpenDelay = 500 * time.Millisecond
)

// Event bits set by interrupt-context handlers or the API and consumed by
// the loop.
type Event uint32

const (
	EventDoorTrigger Event = 1 << iota
	EventManualEntry
	EventManualExit
)

type Notifier interface {
	Notify(topic, title string, tags []string, priority int, format string, args ...any)
}

type Historian interface {
	Record(history.AccessEvent) error
}

// Deps wires the loop to its collaborators. History may be nil.
type Deps struct {
	Clock        clock.Clock
	Settings     *settings.Store
	Engine       *access.Engine
	EntryCapture *wiegand.Capture
	ExitCapture  *wiegand.Capture
	EntryDoor    *door.Controller
	ExitDoor     *door.Controller
	Sensor       gpio.InputLine
	Ledger       *ledger.Ledger
	Notifier     Notifier
	History      Historian
	Logger       *zerolog.Logger

	PollInterval time.Duration
	DoorTimeout  time.Duration
	SwingTimeout time.Duration
}

type Loop struct {
	clk      clock.Clock
	settings *settings.Store
	engine   *access.Engine
	captures [2]*wiegand.Capture
	doors    [2]*door.Controller
	sensor   gpio.InputLine
	ledger   *ledger.Ledger
	notifier Notifier
	history  Historian
	logger   *zerolog.Logger

	pollInterval   time.Duration
	doorTimeoutMs  int64
	swingTimeoutMs int64

	// events crosses the interrupt/loop boundary; everything below is
	// loop-private.
	events atomic.Uint32

	lastCard wiegand.Card
	haveLast bool
	booted   bool
}

func New(d Deps) *Loop {
	if d.PollInterval <= 0 {
		d.PollInterval = DefaultPollInterval
	}
	if d.DoorTimeout <= 0 {
		d.DoorTimeout = DefaultDoorTimeout
	}
	if d.SwingTimeout <= 0 {
		d.SwingTimeout = DefaultSwingTimeout
	}
	return &Loop{
		clk:            d.Clock,
		settings:       d.Settings,
		engine:         d.Engine,
		captures:       [2]*wiegand.Capture{access.Exit: d.ExitCapture, access.Entry: d.EntryCapture},
		doors:          [2]*door.Controller{access.Exit: d.ExitDoor, access.Entry: d.EntryDoor},
		sensor:         d.Sensor,
		ledger:         d.Ledger,
		notifier:       d.Notifier,
		history:        d.History,
		logger:         d.Logger,
		pollInterval:   d.PollInterval,
		doorTimeoutMs:  d.DoorTimeout.Milliseconds(),
		swingTimeoutMs: d.SwingTimeout.Milliseconds(),
	}
}

// AttachInputs registers the capture bit handlers and the door-sensor
// trigger with their input lines. The handlers only touch atomics.
func (l *Loop) AttachInputs(entryD0, entryD1, exitD0, exitD1 gpio.InputLine) error {
	if err := entryD0.Watch(gpio.FallingEdge, l.captures[access.Entry].Bit0); err != nil {
		return err
	}
	if err := entryD1.Watch(gpio.FallingEdge, l.captures[access.Entry].Bit1); err != nil {
		return err
	}
	if err := exitD0.Watch(gpio.FallingEdge, l.captures[access.Exit].Bit0); err != nil {
		return err
	}
	if err := exitD1.Watch(gpio.FallingEdge, l.captures[access.Exit].Bit1); err != nil {
		return err
	}
	return l.sensor.Watch(gpio.BothEdges, l.DoorTriggered)
}

// DoorTriggered is the door-sensor edge handler.
func (l *Loop) DoorTriggered() {
	l.events.Or(uint32(EventDoorTrigger))
}

// RequestUnlock queues a manual unlock for the next tick.
func (l *Loop) RequestUnlock(dir access.Direction) {
	if dir == access.Entry {
		l.events.Or(uint32(EventManualEntry))
	} else {
		l.events.Or(uint32(EventManualExit))
	}
}

// Door exposes a direction's controller for status reporting.
func (l *Loop) Door(dir access.Direction) *door.Controller {
	return l.doors[dir]
}

// Run polls until ctx is cancelled. While either direction is locked-open
// the poll rate drops so the recovery logic does not grind the actuator.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info().Msg("control loop started")
	timer := time.NewTimer(l.pollInterval)
	defer timer.Stop()
	for {
		l.Tick()
		delay := l.pollInterval
		if l.doors[access.Entry].State() == door.LockedOpen || l.doors[access.Exit].State() == door.LockedOpen {
			delay += lockedOpenDelay
		}
		timer.Reset(delay)
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("control loop stopped")
			return
		case <-timer.C:
		}
	}
}

// Tick runs one control-loop iteration.
func (l *Loop) Tick() {
	now := l.clk.Millis()

	if !l.booted {
		rec := l.settings.Record()
		l.notifier.Notify(rec.Ntfy.Topic, l.title(), []string{"facepalm"}, 3,
			"Boot up %6.3f seconds ago", float64(now)/1000.0)
		l.booted = true
	}

	l.processFrame(access.Entry, now)
	l.processFrame(access.Exit, now)

	ev := Event(l.events.Load())
	if ev&EventManualEntry != 0 {
		l.manualUnlock(access.Entry, now)
		l.events.And(^uint32(EventManualEntry))
	}
	if ev&EventManualExit != 0 {
		l.manualUnlock(access.Exit, now)
		l.events.And(^uint32(EventManualExit))
	}
	if ev&EventDoorTrigger != 0 {
		l.swing(now)
		l.events.And(^uint32(EventDoorTrigger))
	}

	sensorOpen := l.readSensor()
	for _, dir := range []access.Direction{access.Entry, access.Exit} {
		l.detectLockedOpen(dir, now, sensorOpen)
	}
	for _, dir := range []access.Direction{access.Entry, access.Exit} {
		l.relock(dir, now, sensorOpen)
	}
}

// processFrame consumes a completed frame on one channel. Whatever the
// outcome, the channel is reset to empty afterwards.
func (l *Loop) processFrame(dir access.Direction, now int64) {
	ch := l.captures[dir]
	if !ch.Ready(now) {
		return
	}
	defer ch.Reset()

	count, bits := ch.Snapshot()
	card, err := wiegand.Decode(count, bits)
	if err != nil {
		l.logger.Warn().Int("bits", int(count)).Str("direction", dir.String()).Msg("Unknown card format")
		return
	}

	res := l.engine.Decide(dir, card)
	l.recordEvent(dir, card, res)

	switch res.Decision {
	case access.Unknown:
		l.logger.Info().Uint8("facility", card.Facility).Uint16("card", card.Number).
			Str("direction", dir.String()).Msg("Unknown card")
		l.notifier.Notify(res.Topic, l.title(), []string{"interrobang"}, 3,
			"Unknown Card: facility %d, card %d", card.Facility, card.Number)
	case access.Deny:
		l.logger.Info().Str("name", res.Name).Str("direction", dir.String()).Msg("Access denied")
		l.notifier.Notify(res.Topic, l.title(), []string{"stop_sign"}, 3,
			"%s denied for %s", dir, res.Name)
	case access.Permit:
		l.permit(dir, card, res, now)
	}
}

// permit unlocks for a permitted read, subject to the pass-through policy:
// the two doors are never simultaneously open.
func (l *Loop) permit(dir access.Direction, card wiegand.Card, res access.Result, now int64) {
	opposite := l.doors[1-dir]
	if opposite.IsOpen() {
		l.logger.Debug().Str("direction", dir.String()).Msg("opposite door open, read ignored")
		return
	}

	own := l.doors[dir]
	own.Unlock()
	own.SetCloseDeadline(now + l.doorTimeoutMs)

	// A repeat read of the same credential while the door is open extends
	// the window but must not duplicate the notification or the ledger
	// transition.
	if !l.haveLast || l.lastCard != card {
		tags := []string{"arrow_right", "unlock"}
		if dir == access.Entry {
			tags = []string{"unlock", "arrow_left"}
		}
		l.notifier.Notify(res.Topic, l.title(), tags, 3, "%s %s", res.Name, dir)
		if dir == access.Entry {
			l.ledger.MarkIn(res.Slot, l.clk.Now())
		} else {
			l.ledger.MarkOut(res.Slot, l.clk.Now())
		}
	}
	l.lastCard = card
	l.haveLast = true
	l.logger.Info().Str("name", res.Name).Str("direction", dir.String()).Msg("Access granted")
}

// manualUnlock services an API unlock request as if it were a permitted
// read, without touching the ledger or the credential memo.
func (l *Loop) manualUnlock(dir access.Direction, now int64) {
	if l.doors[1-dir].IsOpen() {
		l.logger.Info().Str("direction", dir.String()).Msg("manual unlock refused, opposite door open")
		return
	}
	own := l.doors[dir]
	own.Unlock()
	own.SetCloseDeadline(now + l.doorTimeoutMs)
	l.logger.Info().Str("direction", dir.String()).Msg("manual unlock")
	if l.history != nil {
		if err := l.history.Record(history.AccessEvent{
			Direction: dir.String(),
			Slot:      -1,
			Decision:  "manual",
			CreatedAt: l.clk.Now(),
		}); err != nil {
			l.logger.Error().Err(err).Msg("history record failed")
		}
	}
}

// swing extends the close deadline of every open door. A physical nudge
// while open buys a short grace period instead of racing an immediate
// re-lock. The deadline only ever moves out, never in, and the actuator is
// not re-pulsed.
func (l *Loop) swing(now int64) {
	for _, dir := range []access.Direction{access.Entry, access.Exit} {
		if l.doors[dir].IsOpen() {
			l.logger.Debug().Str("direction", dir.String()).Msg("swing")
			l.doors[dir].ExtendCloseDeadline(now + l.swingTimeoutMs)
		}
	}
}

// detectLockedOpen catches a bolt that fired against an obstruction: the
// door reads open immediately after a re-lock. Policy is fail open —
// re-unlock and notify rather than grind the actuator or trap an animal
// against a closed flap.
func (l *Loop) detectLockedOpen(dir access.Direction, now int64, sensorOpen bool) {
	own := l.doors[dir]
	if own.State() != door.Locked || !sensorOpen {
		return
	}
	if now-own.LastLockedAt() >= obstructionWindowMs {
		return
	}
	own.Unlock()
	own.MarkLockedOpen()
	rec := l.settings.Record()
	l.logger.Warn().Str("direction", dir.String()).Msg("Locked open")
	l.notifier.Notify(rec.Ntfy.Topic, l.title(), []string{"lock", "unlock"}, 3,
		"Locked open (%s)", lower(dir))
}

// relock closes a door whose window has expired, once the sensor confirms
// the flap is at rest.
func (l *Loop) relock(dir access.Direction, now int64, sensorOpen bool) {
	own := l.doors[dir]
	if !own.IsOpen() || sensorOpen || own.CloseDeadline() >= now {
		return
	}
	wasLockedOpen := own.State() == door.LockedOpen
	own.Lock()
	l.lastCard = wiegand.Card{}
	l.haveLast = false
	// Locked-open episodes do not reset the obstruction-detection window.
	if !wasLockedOpen {
		own.SetLastLockedAt(now)
	}
	own.ClearCloseDeadline()
	l.logger.Info().Str("direction", dir.String()).Msg("Lock")
}

func (l *Loop) recordEvent(dir access.Direction, card wiegand.Card, res access.Result) {
	if l.history == nil {
		return
	}
	if err := l.history.Record(history.AccessEvent{
		Direction: dir.String(),
		Facility:  card.Facility,
		Card:      card.Number,
		Slot:      res.Slot,
		Name:      res.Name,
		Decision:  res.Decision.String(),
		CreatedAt: l.clk.Now(),
	}); err != nil {
		l.logger.Error().Err(err).Msg("history record failed")
	}
}

func (l *Loop) readSensor() bool {
	open, err := l.sensor.Read()
	if err != nil {
		l.logger.Error().Err(err).Msg("door sensor read failed")
		return false
	}
	return open
}

func (l *Loop) title() string {
	if name := l.settings.Record().Hostname; name != "" {
		return name
	}
	return "catflap"
}

func lower(dir access.Direction) string {
	if dir == access.Entry {
		return "entry"
	}
	return "exit"
}
