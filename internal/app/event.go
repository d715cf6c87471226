// Package app is the work task of an operating device: it owns the server
// session and turns button presses, microphone audio and server events
// into conversation turns.
package app

import (
	"fmt"

	"echokit/internal/protocol"
)

// Kind is the type of an Event.
type Kind int

const (
	ButtonShort Kind = iota + 1
	ButtonLong
	// MicAudio carries one captured PCM chunk in Audio.
	MicAudio
	// ServerFrame carries a decoded server event in Server.
	ServerFrame
)

func (k Kind) String() string {
	switch k {
	case ButtonShort:
		return "button_short"
	case ButtonLong:
		return "button_long"
	case MicAudio:
		return "mic_audio"
	case ServerFrame:
		return "server_frame"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one message on the Bus.
type Event struct {
	Kind   Kind
	Audio  []byte
	Server protocol.ServerEvent
}
