package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	appLog "echokit/internal/log"
	"echokit/internal/protocol"
)

// Display is the part of the screen the work task drives.
type Display interface {
	ShowStatus(state, text string) error
}

type chatState int

const (
	stateIdle chatState = iota
	stateListening
	stateWaiting
	stateSpeaking
)

func (s chatState) String() string {
	return [...]string{"idle", "listening", "waiting", "speaking"}[s]
}

// Screen texts.
const (
	StateReady     = "Ready"
	StateListening = "Listening..."
	StateWaiting   = "Thinking..."
	StateSpeaking  = "Speaking"
	hintIdle       = "Press K0 to talk\nHold K0 to reset"
	hintListening  = "Press K0 when done"
)

// Worker runs one operating session. Run returns when the session or the
// bus fails, or when ctx ends; it never retries.
type Worker struct {
	Session  protocol.Session
	Bus      *Bus
	Playback chan<- []byte
	Display  Display

	state chatState
	// pending holds reply audio not yet taken by the audio task. It is
	// unbounded so a server burst never stalls the event loop.
	pending [][]byte
}

// Run reads server events into the bus and consumes the bus until
// something fails. The bus is closed and the session shut down on return.
func (w *Worker) Run(ctx context.Context) error {
	defer w.Bus.Close()

	w.show(StateReady, hintIdle)

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = w.Session.Close() })
	defer stop()

	g.Go(func() error { return w.readLoop(gctx) })
	g.Go(func() error { return w.eventLoop(gctx) })

	err := g.Wait()
	_ = w.Session.Close()
	return err
}

func (w *Worker) readLoop(ctx context.Context) error {
	for {
		ev, err := w.Session.Recv()
		if err != nil {
			if protocol.IsDecodeError(err) {
				appLog.Warn("dropping malformed server frame", "err", err.Error())
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("app: session read: %w", err)
		}
		if err := w.Bus.Send(ctx, Event{Kind: ServerFrame, Server: ev}); err != nil {
			return err
		}
	}
}

func (w *Worker) eventLoop(ctx context.Context) error {
	for {
		var out chan<- []byte
		var next []byte
		if len(w.pending) > 0 {
			out, next = w.Playback, w.pending[0]
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- next:
			w.pending[0] = nil
			w.pending = w.pending[1:]
		case ev := <-w.Bus.Recv():
			if err := w.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case ButtonShort:
		return w.onShortPress(ctx)
	case ButtonLong:
		appLog.Info("conversation reset")
		if err := w.Session.SendCommand(ctx, protocol.CmdReset); err != nil {
			return err
		}
		w.setState(stateIdle)
		w.show(StateReady, hintIdle)
	case MicAudio:
		if w.state != stateListening {
			return nil
		}
		return w.Session.SendAudio(ctx, ev.Audio)
	case ServerFrame:
		return w.onServer(ev.Server)
	default:
		appLog.Warn("unknown app event", "kind", ev.Kind.String())
	}
	return nil
}

func (w *Worker) onShortPress(ctx context.Context) error {
	switch w.state {
	case stateListening:
		if err := w.Session.SendCommand(ctx, protocol.CmdSubmit); err != nil {
			return err
		}
		w.setState(stateWaiting)
		w.show(StateWaiting, "")
	default:
		if err := w.Session.SendCommand(ctx, protocol.CmdStartChat); err != nil {
			return err
		}
		w.setState(stateListening)
		w.show(StateListening, hintListening)
	}
	return nil
}

func (w *Worker) onServer(ev protocol.ServerEvent) error {
	switch ev.Type {
	case protocol.EventASR:
		w.show(StateWaiting, ev.Text)
	case protocol.EventAction:
		w.show(ev.Text, "")
	case protocol.EventStartAudio:
		w.setState(stateSpeaking)
		w.show(StateSpeaking, ev.Text)
	case protocol.EventAudioChunk:
		if len(ev.Data) == 0 || w.Playback == nil {
			return nil
		}
		w.pending = append(w.pending, ev.Data)
	case protocol.EventEndAudio:
	case protocol.EventEndResponse:
		w.setState(stateIdle)
		w.show(StateReady, hintIdle)
	case protocol.EventError:
		appLog.Warn("server reported error", "text", ev.Text)
		w.setState(stateIdle)
		w.show("Server error", ev.Text)
	default:
		appLog.Debug("ignoring server event", "type", string(ev.Type))
	}
	return nil
}

func (w *Worker) setState(s chatState) {
	if s != w.state {
		appLog.Debug("chat state", "from", w.state.String(), "to", s.String())
		w.state = s
	}
}

func (w *Worker) show(state, text string) {
	if w.Display == nil {
		return
	}
	if err := w.Display.ShowStatus(state, text); err != nil {
		appLog.Warn("display update failed", "err", err.Error())
	}
}
