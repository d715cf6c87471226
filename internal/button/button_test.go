package button

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"echokit/internal/app"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPin(t *testing.T) *gpiotest.Pin {
	t.Helper()
	p := &gpiotest.Pin{N: "GPIO17", Num: 17, EdgesChan: make(chan gpio.Level, 16)}
	require.NoError(t, p.In(gpio.PullUp, gpio.BothEdges))
	return p
}

type harness struct {
	bus    *app.Bus
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, c *Classifier) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{bus: app.NewBus(app.DefaultBusCapacity), cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- c.Run(ctx, h.bus) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) next(t *testing.T) app.Kind {
	t.Helper()
	select {
	case ev := <-h.bus.Recv():
		return ev.Kind
	case <-time.After(5 * time.Second):
		t.Fatal("no button event")
		return 0
	}
}

func (h *harness) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-h.bus.Recv():
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(d):
	}
}

func TestShortPress(t *testing.T) {
	pin := newPin(t)
	h := start(t, &Classifier{Pin: pin, LongPress: 500 * time.Millisecond, Poll: 10 * time.Millisecond})

	pin.EdgesChan <- gpio.Low
	pin.EdgesChan <- gpio.High

	assert.Equal(t, app.ButtonShort, h.next(t))
	h.none(t, 100*time.Millisecond)
}

func TestLongPressThenShort(t *testing.T) {
	pin := newPin(t)
	h := start(t, &Classifier{Pin: pin, LongPress: 50 * time.Millisecond, Poll: 10 * time.Millisecond})

	pin.EdgesChan <- gpio.Low
	assert.Equal(t, app.ButtonLong, h.next(t))

	// The release of a long press is not a new press.
	pin.EdgesChan <- gpio.High
	h.none(t, 100*time.Millisecond)

	pin.EdgesChan <- gpio.Low
	pin.EdgesChan <- gpio.High
	assert.Equal(t, app.ButtonShort, h.next(t))
}

func TestOneEventPerCycle(t *testing.T) {
	pin := newPin(t)
	h := start(t, &Classifier{Pin: pin, LongPress: time.Second, Poll: 10 * time.Millisecond})

	for range 5 {
		pin.EdgesChan <- gpio.Low
		pin.EdgesChan <- gpio.High
	}
	for range 5 {
		assert.Equal(t, app.ButtonShort, h.next(t))
	}
	h.none(t, 50*time.Millisecond)
}

func TestReceiverGoneEndsTask(t *testing.T) {
	pin := newPin(t)
	bus := app.NewBus(1)
	bus.Close()

	c := &Classifier{Pin: pin, LongPress: time.Second, Poll: 10 * time.Millisecond}
	pin.EdgesChan <- gpio.Low
	pin.EdgesChan <- gpio.High

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), bus) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, app.ErrReceiverGone)
	case <-time.After(5 * time.Second):
		t.Fatal("classifier kept running without a receiver")
	}
}

func TestCancelWhileIdle(t *testing.T) {
	pin := newPin(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := &Classifier{Pin: pin, Poll: 10 * time.Millisecond}
	go func() { done <- c.Run(ctx, app.NewBus(1)) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("classifier ignored cancellation")
	}
}

func TestHeldAndWaitPress(t *testing.T) {
	pin := newPin(t)
	assert.False(t, Held(pin))

	pin.EdgesChan <- gpio.High
	pin.EdgesChan <- gpio.Low
	require.NoError(t, WaitPress(context.Background(), pin, 10*time.Millisecond))
	assert.True(t, Held(pin))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, WaitPress(ctx, pin, 10*time.Millisecond), context.DeadlineExceeded)
}

func TestReleasedPinNeverPresses(t *testing.T) {
	p := Released("K0")
	assert.False(t, Held(p))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, WaitPress(ctx, p, 10*time.Millisecond), context.DeadlineExceeded)
}
