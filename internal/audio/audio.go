// Package audio moves PCM between the codec and the work task. Captured
// frames go to the app bus as MicAudio events; reply audio arrives on the
// playback channel.
//
// Two wirings exist. "box" boards have one half-duplex codec shared by
// microphone and speaker; "boards" builds have separate microphone and
// speaker devices that run concurrently. The variant is chosen from the
// config at startup.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"echokit/internal/app"
	"echokit/internal/config"
	appLog "echokit/internal/log"
)

// DefaultFrameBytes is the capture chunk size used when none is set.
const DefaultFrameBytes = 1024

// Pipeline is the audio task. Run returns when capture fails, when the
// bus receiver is gone, or when ctx ends.
type Pipeline interface {
	Run(ctx context.Context, bus *app.Bus, playback <-chan []byte) error
}

// Codec is a half-duplex PCM device.
type Codec interface {
	io.Reader
	io.Writer
}

// New opens the devices named in cfg and returns the matching strategy.
func New(cfg config.AudioConfig) (Pipeline, error) {
	switch cfg.Variant {
	case "box":
		c, err := OpenFileCodec(cfg.CapturePath, cfg.PlaybackPath)
		if err != nil {
			return nil, err
		}
		return NewBox(c, cfg.FrameBytes), nil
	case "boards":
		mic, err := os.OpenFile(cfg.CapturePath, os.O_RDONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("audio: open mic %s: %w", cfg.CapturePath, err)
		}
		spk, err := os.OpenFile(cfg.PlaybackPath, os.O_WRONLY, 0)
		if err != nil {
			mic.Close()
			return nil, fmt.Errorf("audio: open speaker %s: %w", cfg.PlaybackPath, err)
		}
		return NewBoards(mic, spk, cfg.FrameBytes), nil
	}
	return nil, fmt.Errorf("audio: unknown variant %q", cfg.Variant)
}

// FileCodec is a Codec over two device nodes or FIFOs.
type FileCodec struct {
	capture  *os.File
	playback *os.File
}

func OpenFileCodec(capturePath, playbackPath string) (*FileCodec, error) {
	in, err := os.OpenFile(capturePath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("audio: open capture %s: %w", capturePath, err)
	}
	out, err := os.OpenFile(playbackPath, os.O_WRONLY, 0)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("audio: open playback %s: %w", playbackPath, err)
	}
	return &FileCodec{capture: in, playback: out}, nil
}

func (c *FileCodec) Read(p []byte) (int, error)  { return c.capture.Read(p) }
func (c *FileCodec) Write(p []byte) (int, error) { return c.playback.Write(p) }

func (c *FileCodec) Close() error {
	return errors.Join(c.capture.Close(), c.playback.Close())
}

// closeOnDone closes v when ctx ends if v can be closed, so blocked reads
// return. The returned func stops the watch.
func closeOnDone(ctx context.Context, v any) func() bool {
	c, ok := v.(io.Closer)
	if !ok {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() { _ = c.Close() })
}

// capture reads one frame and hands it to the bus.
func capture(ctx context.Context, r io.Reader, buf []byte, bus *app.Bus) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: capture: %w", err)
	}
	frame := make([]byte, len(buf))
	copy(frame, buf)
	if err := bus.Send(ctx, app.Event{Kind: app.MicAudio, Audio: frame}); err != nil {
		appLog.Error("mic audio send failed", err)
		return err
	}
	return nil
}

// Box drives one half-duplex codec: while reply audio is queued the
// microphone is not read, so the speaker never feeds back into capture.
type Box struct {
	codec      Codec
	frameBytes int
}

func NewBox(c Codec, frameBytes int) *Box {
	if frameBytes <= 0 {
		frameBytes = DefaultFrameBytes
	}
	return &Box{codec: c, frameBytes: frameBytes}
}

func (b *Box) Run(ctx context.Context, bus *app.Bus, playback <-chan []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := closeOnDone(ctx, b.codec)
	defer stop()

	buf := make([]byte, b.frameBytes)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pcm, ok := <-playback:
			if !ok {
				playback = nil
				continue
			}
			if _, err := b.codec.Write(pcm); err != nil {
				return fmt.Errorf("audio: playback: %w", err)
			}
			continue
		default:
		}
		if err := capture(ctx, b.codec, buf, bus); err != nil {
			return err
		}
	}
}

// Boards runs capture and playback concurrently on separate devices.
type Boards struct {
	mic        io.Reader
	speaker    io.Writer
	frameBytes int
}

func NewBoards(mic io.Reader, speaker io.Writer, frameBytes int) *Boards {
	if frameBytes <= 0 {
		frameBytes = DefaultFrameBytes
	}
	return &Boards{mic: mic, speaker: speaker, frameBytes: frameBytes}
}

func (b *Boards) Run(ctx context.Context, bus *app.Bus, playback <-chan []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := closeOnDone(gctx, b.mic)
	defer stop()

	g.Go(func() error {
		buf := make([]byte, b.frameBytes)
		for {
			if err := capture(gctx, b.mic, buf, bus); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case pcm, ok := <-playback:
				if !ok {
					return nil
				}
				if _, err := b.speaker.Write(pcm); err != nil {
					return fmt.Errorf("audio: playback: %w", err)
				}
			}
		}
	})
	return g.Wait()
}
