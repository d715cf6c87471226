package ui

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"time"
)

// defaultDelay is used for frames that declare no delay.
const defaultDelay = 100 * time.Millisecond

// animation is a GIF pre-composited into full frames so that drawing a
// frame is a single blit.
type animation struct {
	frames []*image.RGBA
	delays []time.Duration
	total  time.Duration
}

func (a *animation) String() string {
	return fmt.Sprintf("%d frames, %s", len(a.frames), a.total)
}

// frameAt returns the index of the frame visible at elapsed.
func (a *animation) frameAt(elapsed time.Duration) int {
	if len(a.frames) < 2 || a.total <= 0 {
		return 0
	}
	t := elapsed % a.total
	for i, d := range a.delays {
		if t < d {
			return i
		}
		t -= d
	}
	return len(a.frames) - 1
}

// untilNext is the time from elapsed until the visible frame changes.
func (a *animation) untilNext(elapsed time.Duration) time.Duration {
	if len(a.frames) < 2 || a.total <= 0 {
		return 0
	}
	t := elapsed % a.total
	for _, d := range a.delays {
		if t < d {
			return d - t
		}
		t -= d
	}
	return 0
}

// decodeGIF decodes data and composites every frame onto a canvas no
// larger than size, honouring the GIF disposal methods.
func decodeGIF(data []byte, size image.Point) (*animation, error) {
	if len(data) == 0 {
		return nil, errors.New("ui: empty gif")
	}
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ui: decode gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, errors.New("ui: gif has no frames")
	}

	// The canvas is the GIF logical screen clipped to the window.
	bounds := image.Rect(0, 0, size.X, size.Y)
	if g.Config.Width > 0 && g.Config.Height > 0 {
		bounds = bounds.Intersect(image.Rect(0, 0, g.Config.Width, g.Config.Height))
	}
	canvas := image.NewRGBA(bounds)
	a := &animation{}

	for i, frame := range g.Image {
		var prev *image.RGBA
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			prev = cloneRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		a.frames = append(a.frames, cloneRGBA(canvas))

		d := defaultDelay
		if i < len(g.Delay) && g.Delay[i] > 0 {
			d = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		a.delays = append(a.delays, d)
		a.total += d

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = prev
		}
	}
	return a, nil
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}
