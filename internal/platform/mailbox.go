package platform

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLoopClosed is returned when posting to an event loop that has
// already terminated.
var ErrLoopClosed = errors.New("platform: event loop closed")

type eventKind uint8

const (
	eventInvoke eventKind = iota + 1
	eventQuit
)

// Event is a message for the render loop: either a deferred action
// (Invoke) or a request to stop the loop (Quit). An Invoke action runs at
// most once, however many copies of the Event exist.
type Event struct {
	kind eventKind
	act  *action
}

type action struct {
	fn   func()
	done atomic.Bool
}

// Invoke wraps fn into an event. fn runs on the render loop.
func Invoke(fn func()) Event {
	return Event{kind: eventInvoke, act: &action{fn: fn}}
}

// Quit returns the event that stops the loop.
func Quit() Event {
	return Event{kind: eventQuit}
}

// IsQuit reports whether ev stops the loop.
func (ev Event) IsQuit() bool { return ev.kind == eventQuit }

// run executes the wrapped action if it has not run yet.
func (ev Event) run() {
	if ev.act == nil {
		return
	}
	if ev.act.done.CompareAndSwap(false, true) && ev.act.fn != nil {
		ev.act.fn()
	}
}

// Mailbox is the ordered cross-goroutine queue drained by the render loop.
type Mailbox struct {
	mu     sync.Mutex
	events []Event
	closed bool
	wake   chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{wake: make(chan struct{}, 1)}
}

// Push appends ev and wakes the loop. It fails with ErrLoopClosed after
// Close.
func (m *Mailbox) Push(ev Event) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrLoopClosed
	}
	m.events = append(m.events, ev)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wake is signalled after every successful Push.
func (m *Mailbox) Wake() <-chan struct{} { return m.wake }

// take swaps the queue with an empty one and returns what was queued.
func (m *Mailbox) take() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := m.events
	m.events = nil
	return ev
}

// Drain processes everything queued at the moment of the call, in order.
// Events pushed while draining wait for the next Drain. When a Quit is
// reached Drain returns true and the rest of that batch is dropped.
func (m *Mailbox) Drain() (quit bool) {
	for _, ev := range m.take() {
		if ev.IsQuit() {
			return true
		}
		ev.run()
	}
	return false
}

// Close rejects further pushes and drops whatever is still queued.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.events = nil
}

// Proxy is the handle other goroutines use to reach the render loop.
type Proxy struct {
	mb *Mailbox
}

// InvokeFromEventLoop queues fn to run on the render loop.
func (p Proxy) InvokeFromEventLoop(fn func()) error {
	return p.mb.Push(Invoke(fn))
}

// QuitEventLoop asks the render loop to stop.
func (p Proxy) QuitEventLoop() error {
	return p.mb.Push(Quit())
}
