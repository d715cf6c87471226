// Package platform bridges the retained-mode UI to the physical panel.
//
// One Platform owns the panel, the single frame buffer and the window. Its
// Run loop is the only code that touches the panel; every other goroutine
// reaches the display through a Proxy.
package platform

import (
	"errors"
	"image"
	"runtime"
	"time"

	appLog "echokit/internal/log"
)

// Panel is the display the frame buffer is flushed to. DrawBitmap writes
// the rectangle [x0,x1)×[y0,y1) from data in one blocking transfer.
type Panel interface {
	DrawBitmap(x0, y0, x1, y1 int, data []byte) error
}

// Window is the UI side of the contract.
type Window interface {
	// Size is the window size in pixels; it must match the panel.
	Size() image.Point
	// UpdateTimersAndAnimations advances UI time to elapsed since start.
	UpdateTimersAndAnimations(elapsed time.Duration)
	// DrawIfNeeded renders into fb when something changed and reports
	// whether it did. A draw overwrites the whole buffer.
	DrawIfNeeded(fb *FrameBuffer) bool
	// HasActiveAnimations reports whether the UI wants frames continuously.
	HasActiveAnimations() bool
}

// FrameScheduler is optionally implemented by a Window that knows when
// its next animation frame is due. Without it an animating window is
// polled continuously.
type FrameScheduler interface {
	// NextFrameIn is the time from elapsed until the next frame changes.
	NextFrameIn(elapsed time.Duration) time.Duration
}

// Options tune the loop.
type Options struct {
	// IdleTick bounds the idle wait so timers still fire without events.
	IdleTick time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type Platform struct {
	panel Panel
	win   Window
	fb    *FrameBuffer
	mb    *Mailbox
	start time.Time
	now   func() time.Time
	idle  time.Duration
}

// New takes ownership of panel and allocates the frame buffer from the
// window size.
func New(panel Panel, win Window, opts Options) (*Platform, error) {
	if panel == nil || win == nil {
		return nil, errors.New("platform: panel and window are required")
	}
	sz := win.Size()
	if sz.X <= 0 || sz.Y <= 0 {
		return nil, errors.New("platform: window has no size")
	}
	if opts.IdleTick <= 0 {
		opts.IdleTick = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Platform{
		panel: panel,
		win:   win,
		fb:    NewFrameBuffer(sz.X, sz.Y),
		mb:    NewMailbox(),
		start: opts.Now(),
		now:   opts.Now,
		idle:  opts.IdleTick,
	}, nil
}

// Window returns the single window of the device. Every call returns the
// same value.
func (p *Platform) Window() Window { return p.win }

// Elapsed is the time since the platform was created.
func (p *Platform) Elapsed() time.Duration { return p.now().Sub(p.start) }

// Proxy returns a handle for posting events from other goroutines.
func (p *Platform) Proxy() Proxy { return Proxy{mb: p.mb} }

// DebugLog is the UI's debug output sink.
func (p *Platform) DebugLog(msg string) {
	appLog.Debug("ui", "msg", msg)
}

// Run is the render loop. It returns only after a Quit event; the mailbox
// is closed on return so later posts fail with ErrLoopClosed.
func (p *Platform) Run() error {
	defer p.mb.Close()

	sz := p.fb.Rect.Size()
	timer := time.NewTimer(p.idle)
	defer timer.Stop()

	for {
		p.win.UpdateTimersAndAnimations(p.Elapsed())

		if p.mb.Drain() {
			appLog.Info("event loop quit")
			return nil
		}

		if p.win.DrawIfNeeded(p.fb) {
			if err := p.panel.DrawBitmap(0, 0, sz.X, sz.Y, p.fb.Pix); err != nil {
				appLog.Error("panel flush failed", err)
			}
		}

		wait := p.idle
		if p.win.HasActiveAnimations() {
			runtime.Gosched()
			fs, ok := p.win.(FrameScheduler)
			if !ok {
				continue
			}
			wait = min(fs.NextFrameIn(p.Elapsed()), p.idle)
			if wait <= 0 {
				continue
			}
		}

		timer.Reset(wait)
		select {
		case <-p.mb.Wake():
		case <-timer.C:
		}
	}
}
