package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Sender sends one message. The real implementation is Client; tests
// substitute their own.
type Sender interface {
	Send(Message) error
}

// Pool fans messages out to a fixed set of worker goroutines over a
// buffered channel, keeping sends off the control loop. When the queue is
// full the message is dropped — delivery is best effort at this boundary.
type Pool struct {
	size   int
	jobs   chan Message
	sender Sender
	logger *zerolog.Logger
}

func NewPool(size, queue int, sender Sender, logger *zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if queue < size {
		queue = size
	}
	return &Pool{
		size:   size,
		jobs:   make(chan Message, queue),
		sender: sender,
		logger: logger,
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	p.logger.Debug().Int("worker", id).Msg("notify worker started")
	for {
		select {
		case m := <-p.jobs:
			if err := p.sender.Send(m); err != nil {
				p.logger.Error().Err(err).Str("topic", m.Topic).Msg("notification failed")
			}
		case <-ctx.Done():
			p.logger.Debug().Int("worker", id).Msg("notify worker stopped")
			return
		}
	}
}

// Notify queues a formatted message without blocking.
func (p *Pool) Notify(topic, title string, tags []string, priority int, format string, args ...any) {
	m := Message{
		Topic:    topic,
		Title:    title,
		Tags:     tags,
		Priority: priority,
		Message:  fmt.Sprintf(format, args...),
	}
	select {
	case p.jobs <- m:
	default:
		p.logger.Warn().Str("topic", topic).Msg("notification queue full, dropping")
	}
}
