// Package button turns the single K0 button into short and long press
// events. The pin is pulled up, so Low means pressed.
package button

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"echokit/internal/app"
	appLog "echokit/internal/log"
)

// DefaultLongPress is the press duration that makes a press long.
const DefaultLongPress = time.Second

// defaultPoll bounds each edge wait so cancellation is noticed.
const defaultPoll = 100 * time.Millisecond

// Open resolves a periph GPIO name (e.g. "GPIO17") and configures it as a
// pulled-up input reporting both edges.
func Open(name string) (gpio.PinIn, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("button: gpio %s not found", name)
	}
	if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("button: gpio %s In failed: %w", name, err)
	}
	return p, nil
}

// Released returns a stand-in pin that is never pressed, for running
// without the button wired.
func Released(name string) gpio.PinIn {
	return &gpiotest.Pin{N: name, L: gpio.High, EdgesChan: make(chan gpio.Level)}
}

// Held reports whether the button is pressed right now.
func Held(p gpio.PinIn) bool {
	return p.Read() == gpio.Low
}

// WaitPress blocks until the next press, or until ctx ends.
func WaitPress(ctx context.Context, p gpio.PinIn, poll time.Duration) error {
	_, err := waitLevel(ctx, p, gpio.Low, time.Time{}, poll)
	return err
}

// waitLevel waits for an edge after which the pin reads want. With a
// non-zero deadline it gives up at the deadline and reports false.
func waitLevel(ctx context.Context, p gpio.PinIn, want gpio.Level, deadline time.Time, poll time.Duration) (bool, error) {
	if poll <= 0 {
		poll = defaultPoll
	}
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		wait := poll
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return false, nil
			}
			wait = min(wait, left)
		}
		if p.WaitForEdge(wait) && p.Read() == want {
			return true, nil
		}
	}
}

// Classifier emits ButtonShort when a press is released before LongPress
// and ButtonLong when it is still held at LongPress. There is no debouncing.
type Classifier struct {
	Pin       gpio.PinIn
	LongPress time.Duration
	Poll      time.Duration
}

// Run classifies presses until ctx ends or the bus receiver is gone. A
// failed send is logged and ends the task.
func (c *Classifier) Run(ctx context.Context, bus *app.Bus) error {
	long := c.LongPress
	if long <= 0 {
		long = DefaultLongPress
	}
	for {
		if _, err := waitLevel(ctx, c.Pin, gpio.Low, time.Time{}, c.Poll); err != nil {
			return err
		}

		released, err := waitLevel(ctx, c.Pin, gpio.High, time.Now().Add(long), c.Poll)
		if err != nil {
			return err
		}

		kind := app.ButtonLong
		if released {
			kind = app.ButtonShort
		}
		appLog.Debug("button press", "kind", kind.String())

		if err := bus.Send(ctx, app.Event{Kind: kind}); err != nil {
			appLog.Error("button event send failed", err)
			return err
		}
	}
}
