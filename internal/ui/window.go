// Package ui is the retained-mode screen of the device: a state line, a
// block of text, an optional QR code and an optional animated background.
// All Window mutators must run on the render loop; other goroutines go
// through Status.
package ui

import (
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"echokit/internal/platform"
)

var (
	colorBackground = color.RGBA{R: 0x10, G: 0x18, B: 0x28, A: 0xff}
	colorState      = color.RGBA{R: 0xff, G: 0xc8, B: 0x3c, A: 0xff}
	colorText       = color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}
	colorShade      = color.RGBA{A: 0xff}
)

const margin = 8

// Window implements platform.Window.
type Window struct {
	size  image.Point
	face  font.Face
	debug func(string)

	state string
	text  string

	qr    [][]bool
	qrURL string

	bg      *animation
	elapsed time.Duration
	frame   int

	dirty bool

	stateSrc, textSrc, shadeSrc *image.Uniform
}

var (
	_ platform.Window         = (*Window)(nil)
	_ platform.FrameScheduler = (*Window)(nil)
)

// NewWindow creates a w×h window. It starts dirty so the first loop
// iteration paints the background.
func NewWindow(w, h int) *Window {
	return &Window{
		size:     image.Pt(w, h),
		face:     basicfont.Face7x13,
		debug:    func(string) {},
		dirty:    true,
		stateSrc: image.NewUniform(colorState),
		textSrc:  image.NewUniform(colorText),
		shadeSrc: image.NewUniform(colorShade),
	}
}

func (w *Window) Size() image.Point { return w.size }

// UpdateTimersAndAnimations advances the background animation.
func (w *Window) UpdateTimersAndAnimations(elapsed time.Duration) {
	w.elapsed = elapsed
	if w.bg == nil || len(w.bg.frames) < 2 {
		return
	}
	if f := w.bg.frameAt(elapsed); f != w.frame {
		w.frame = f
		w.dirty = true
	}
}

func (w *Window) HasActiveAnimations() bool {
	return w.bg != nil && len(w.bg.frames) > 1
}

// NextFrameIn implements platform.FrameScheduler.
func (w *Window) NextFrameIn(elapsed time.Duration) time.Duration {
	if !w.HasActiveAnimations() {
		return 0
	}
	return w.bg.untilNext(elapsed)
}

// DrawIfNeeded repaints the whole frame when anything changed.
func (w *Window) DrawIfNeeded(fb *platform.FrameBuffer) bool {
	if !w.dirty {
		return false
	}
	w.dirty = false

	fb.Fill(colorBackground)
	if w.bg != nil {
		fb.Blit(w.bg.frames[w.frame])
	}
	bottom := w.drawText(fb)
	w.drawQR(fb, bottom)
	return true
}

// SetState sets the short state line at the top of the screen.
func (w *Window) SetState(s string) {
	if s != w.state {
		w.state = s
		w.dirty = true
	}
}

// SetText sets the body text. Lines are split on '\n' and wrapped.
func (w *Window) SetText(s string) {
	if s != w.text {
		w.text = s
		w.dirty = true
	}
}

// SetQR shows url as a QR code; an empty url hides it.
func (w *Window) SetQR(url string) error {
	if url == w.qrURL {
		return nil
	}
	bitmap, err := encodeQR(url)
	if err != nil {
		return err
	}
	w.setQR(url, bitmap)
	return nil
}

func (w *Window) setQR(url string, bitmap [][]bool) {
	if url == w.qrURL {
		return
	}
	w.qr, w.qrURL = bitmap, url
	w.dirty = true
}

func encodeQR(url string) ([][]bool, error) {
	if url == "" {
		return nil, nil
	}
	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return q.Bitmap(), nil
}

// setBackground installs a decoded animation; nil removes it.
func (w *Window) setBackground(a *animation) {
	w.bg = a
	w.frame = 0
	if a != nil {
		w.frame = a.frameAt(w.elapsed)
		w.debug("background installed: " + a.String())
	}
	w.dirty = true
}

// drawQR draws the code centered in the space between top and the bottom
// margin, scaled by whole modules.
func (w *Window) drawQR(fb *platform.FrameBuffer, top int) {
	if len(w.qr) == 0 {
		return
	}
	n := len(w.qr)
	avail := min(w.size.X-2*margin, w.size.Y-margin-top)
	scale := max(avail/n, 1)
	side := n * scale
	x0 := (w.size.X - side) / 2
	y0 := top + max((w.size.Y-margin-top-side)/2, 0)

	for my, row := range w.qr {
		for mx, dark := range row {
			c := color.Color(color.White)
			if dark {
				c = color.Black
			}
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					fb.Set(x0+mx*scale+dx, y0+my*scale+dy, c)
				}
			}
		}
	}
}

func (w *Window) lineHeight() int {
	return w.face.Metrics().Height.Ceil()
}

// drawText draws the state line and the body and returns the y just below
// the last line drawn.
func (w *Window) drawText(fb *platform.FrameBuffer) int {
	lh := w.lineHeight()
	ascent := w.face.Metrics().Ascent.Ceil()
	cols := w.columns()

	y := margin + ascent
	if w.state != "" {
		for _, l := range wrap(w.state, cols) {
			w.drawLine(fb, l, y, w.stateSrc)
			y += lh
		}
		y += lh / 2
	}
	for _, l := range wrap(w.text, cols) {
		if y > w.size.Y-margin {
			break
		}
		w.drawLine(fb, l, y, w.textSrc)
		y += lh
	}
	return y - ascent + lh/2
}

// drawLine draws a centered line with a one-pixel shadow so it stays
// readable over the background.
func (w *Window) drawLine(fb *platform.FrameBuffer, s string, baseline int, src image.Image) {
	d := &font.Drawer{Dst: fb, Face: w.face}
	width := d.MeasureString(s).Ceil()
	x := max((w.size.X-width)/2, margin)

	d.Src = w.shadeSrc
	d.Dot = fixed.P(x+1, baseline+1)
	d.DrawString(s)

	d.Src = src
	d.Dot = fixed.P(x, baseline)
	d.DrawString(s)
}

func (w *Window) columns() int {
	adv, ok := w.face.GlyphAdvance('M')
	if !ok || adv <= 0 {
		return 1
	}
	return max((w.size.X-2*margin)/adv.Ceil(), 1)
}

// wrap splits s into lines of at most cols runes, breaking at spaces
// where possible.
func wrap(s string, cols int) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, para := range strings.Split(s, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		line := ""
		for _, word := range words {
			for len([]rune(word)) > cols {
				if line != "" {
					out = append(out, line)
					line = ""
				}
				r := []rune(word)
				out = append(out, string(r[:cols]))
				word = string(r[cols:])
			}
			switch {
			case line == "":
				line = word
			case len([]rune(line))+1+len([]rune(word)) <= cols:
				line += " " + word
			default:
				out = append(out, line)
				line = word
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
