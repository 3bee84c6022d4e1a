package gpio

import (
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// pwmPeriod matches the 400Hz analogWrite frequency the solenoid drivers
// were tuned against.
const pwmPeriod = 2500 * time.Microsecond

type chardevInput struct {
	chip   string
	offset int
	line   *gpiocdev.Line
}

// RequestInput claims an input line on the given chip with its pull-up
// enabled. Watch must be called before any events are delivered.
func RequestInput(chip string, offset int) (InputLine, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, err
	}
	return &chardevInput{chip: chip, offset: offset, line: line}, nil
}

func (i *chardevInput) Watch(edge Edge, handler func()) error {
	opt := gpiocdev.WithFallingEdge
	if edge == BothEdges {
		opt = gpiocdev.WithBothEdges
	}
	if err := i.line.Close(); err != nil {
		return err
	}
	line, err := gpiocdev.RequestLine(i.chip, i.offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		opt,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			handler()
		}))
	if err != nil {
		return err
	}
	i.line = line
	return nil
}

func (i *chardevInput) Read() (bool, error) {
	v, err := i.line.Value()
	return v != 0, err
}

func (i *chardevInput) Close() error {
	return i.line.Close()
}

type chardevActuator struct {
	line *gpiocdev.Line

	mu      sync.Mutex
	pwmStop chan struct{}
}

// RequestActuator claims an output line, initially driven closed.
func RequestActuator(chip string, offset int) (Actuator, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &chardevActuator{line: line}, nil
}

func (a *chardevActuator) DriveOpen() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopPWM()
	_ = a.line.SetValue(1)
}

func (a *chardevActuator) DriveClosed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopPWM()
	_ = a.line.SetValue(0)
}

// Hold approximates a reduced-current drive with software PWM. level is the
// duty cycle out of 255.
func (a *chardevActuator) Hold(level uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopPWM()
	stop := make(chan struct{})
	a.pwmStop = stop
	on := pwmPeriod * time.Duration(level) / 255
	off := pwmPeriod - on
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = a.line.SetValue(1)
			time.Sleep(on)
			_ = a.line.SetValue(0)
			time.Sleep(off)
		}
	}()
}

func (a *chardevActuator) stopPWM() {
	if a.pwmStop != nil {
		close(a.pwmStop)
		a.pwmStop = nil
	}
}

func (a *chardevActuator) Close() error {
	a.mu.Lock()
	a.stopPWM()
	a.mu.Unlock()
	return a.line.Close()
}
