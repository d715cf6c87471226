package app

import (
	"context"
	"errors"
	"sync"
)

// DefaultBusCapacity is the number of events that may queue before Send
// blocks.
const DefaultBusCapacity = 64

// ErrReceiverGone is returned by Send after the receiving side closed the
// bus.
var ErrReceiverGone = errors.New("app: event receiver gone")

// Bus is the bounded FIFO that carries button, audio and server events to
// the work task. Any number of goroutines may Send; exactly one receives.
// Order is preserved per sender only.
type Bus struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// Send blocks until ev is queued, the receiver closes the bus, or ctx ends.
func (b *Bus) Send(ctx context.Context, ev Event) error {
	select {
	case <-b.done:
		return ErrReceiverGone
	default:
	}
	select {
	case b.ch <- ev:
		return nil
	case <-b.done:
		return ErrReceiverGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv is the receive side.
func (b *Bus) Recv() <-chan Event { return b.ch }

// Done is closed once the receiver is gone.
func (b *Bus) Done() <-chan struct{} { return b.done }

// Close is called by the receiver when it stops consuming. Pending and
// future sends fail with ErrReceiverGone.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}
