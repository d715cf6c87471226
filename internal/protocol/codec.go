package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EventType names a server event.
type EventType string

const (
	// EventASR carries the recognized user utterance.
	EventASR EventType = "asr"
	// EventAction carries a short state text for the display.
	EventAction EventType = "action"
	// EventStartAudio opens a reply; Text holds the reply text.
	EventStartAudio EventType = "start_audio"
	// EventAudioChunk carries reply PCM in Data.
	EventAudioChunk EventType = "audio_chunk"
	EventEndAudio   EventType = "end_audio"
	// EventEndResponse closes the whole turn.
	EventEndResponse EventType = "end_response"
	// EventError reports a server side failure in Text.
	EventError EventType = "error"
)

// ServerEvent is one frame received from the server. Binary frames are
// CBOR, text frames are JSON; both use the same keys.
type ServerEvent struct {
	Type EventType `cbor:"type" json:"type"`
	Text string    `cbor:"text,omitempty" json:"text,omitempty"`
	Data []byte    `cbor:"data,omitempty" json:"data,omitempty"`
}

// Command is a control message sent to the server as a JSON text frame.
type Command string

const (
	CmdStartChat Command = "start_chat"
	CmdSubmit    Command = "submit"
	CmdReset     Command = "reset"
)

type commandFrame struct {
	Event Command `json:"event"`
}

// encMode uses Core Deterministic Encoding so identical events encode to
// identical bytes.
var encMode cbor.EncMode

// decMode ignores unknown fields so newer servers stay compatible.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeEvent encodes ev as CBOR. Servers and tests use it to build
// binary frames.
func EncodeEvent(ev ServerEvent) ([]byte, error) {
	return encMode.Marshal(ev)
}

// DecodeBinary decodes a CBOR server frame.
func DecodeBinary(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := decMode.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, &decodeError{fmt.Errorf("decode binary frame: %w", err)}
	}
	if ev.Type == "" {
		return ServerEvent{}, &decodeError{errors.New("binary frame without type")}
	}
	return ev, nil
}

// DecodeText decodes a JSON server frame.
func DecodeText(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, &decodeError{fmt.Errorf("decode text frame: %w", err)}
	}
	if ev.Type == "" {
		return ServerEvent{}, &decodeError{errors.New("text frame without type")}
	}
	return ev, nil
}

// decodeError marks a malformed frame on an otherwise healthy session.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "protocol: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// IsDecodeError reports whether err came from a malformed frame rather
// than from the connection.
func IsDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}

func encodeCommand(c Command) ([]byte, error) {
	return json.Marshal(commandFrame{Event: c})
}
