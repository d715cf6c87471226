// Package protocol is the WebSocket session to the voice server: PCM goes
// up as binary frames, commands as JSON text frames, and server events come
// back as CBOR binary or JSON text frames.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by session calls after Close.
var ErrClosed = errors.New("protocol: session closed")

// Session is an established server session.
type Session interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendCommand(ctx context.Context, c Command) error
	// Recv blocks for the next server event. Close unblocks it.
	Recv() (ServerEvent, error)
	Close() error
}

// DialOptions tune the handshake.
type DialOptions struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

// WSSession is a Session over gorilla/websocket. Writes are serialized;
// Recv must be called from a single goroutine.
type WSSession struct {
	conn *websocket.Conn

	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

// Dial opens a session to url.
func Dial(ctx context.Context, url string, opts DialOptions) (*WSSession, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = 10 * time.Second
	}
	conn, resp, err := d.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("protocol: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("protocol: dial %s: %w", url, err)
	}
	return &WSSession{conn: conn}, nil
}

func (s *WSSession) SendAudio(ctx context.Context, pcm []byte) error {
	return s.write(ctx, websocket.BinaryMessage, pcm)
}

func (s *WSSession) SendCommand(ctx context.Context, c Command) error {
	data, err := encodeCommand(c)
	if err != nil {
		return err
	}
	return s.write(ctx, websocket.TextMessage, data)
}

func (s *WSSession) write(ctx context.Context, kind int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	var deadline time.Time
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// Recv returns the next server event. Frames that fail to decode are
// returned as errors; the session stays usable.
func (s *WSSession) Recv() (ServerEvent, error) {
	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		if s.closed.Load() {
			return ServerEvent{}, ErrClosed
		}
		return ServerEvent{}, fmt.Errorf("protocol: read: %w", err)
	}
	switch kind {
	case websocket.BinaryMessage:
		return DecodeBinary(data)
	case websocket.TextMessage:
		return DecodeText(data)
	}
	return ServerEvent{}, &decodeError{fmt.Errorf("unexpected frame type %d", kind)}
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once and from any goroutine.
func (s *WSSession) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		// WriteControl may run concurrently with a data write.
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
