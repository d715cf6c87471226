package ui

import (
	"errors"
	"fmt"
	"sync/atomic"

	"echokit/internal/platform"
)

// ErrPlatformRegistered is returned when a second platform is registered
// in the same process.
var ErrPlatformRegistered = errors.New("ui: platform already registered")

var registered atomic.Bool

// Status is the goroutine-safe handle to the screen. Every update is
// marshalled onto the render loop through the platform proxy.
type Status struct {
	proxy platform.Proxy
	win   *Window
}

// Register binds the window of p to the UI. A device has one display, so
// only one registration per process succeeds.
func Register(p *platform.Platform) (*Status, error) {
	win, ok := p.Window().(*Window)
	if !ok {
		return nil, fmt.Errorf("ui: platform window is %T, want *ui.Window", p.Window())
	}
	if !registered.CompareAndSwap(false, true) {
		return nil, ErrPlatformRegistered
	}
	win.debug = p.DebugLog
	return &Status{proxy: p.Proxy(), win: win}, nil
}

// ShowStatus replaces the state line and body text.
func (s *Status) ShowStatus(state, text string) error {
	return s.proxy.InvokeFromEventLoop(func() {
		s.win.SetState(state)
		s.win.SetText(text)
	})
}

// ShowQR shows url as a QR code below the text; "" hides it. The code is
// encoded on the calling goroutine.
func (s *Status) ShowQR(url string) error {
	bitmap, err := encodeQR(url)
	if err != nil {
		return err
	}
	return s.proxy.InvokeFromEventLoop(func() { s.win.setQR(url, bitmap) })
}

// SetBackground decodes a GIF on the calling goroutine and installs it as
// the animated background. nil or empty data removes the background.
func (s *Status) SetBackground(data []byte) error {
	if len(data) == 0 {
		return s.proxy.InvokeFromEventLoop(func() { s.win.setBackground(nil) })
	}
	a, err := decodeGIF(data, s.win.Size())
	if err != nil {
		return err
	}
	return s.proxy.InvokeFromEventLoop(func() { s.win.setBackground(a) })
}
