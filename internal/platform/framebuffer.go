package platform

import (
	"image"
	"image/color"

	"echokit/internal/convert"
)

// FrameBuffer is the single panel-sized RGB565 buffer owned by the render
// loop. Pix is laid out row-major, big-endian, exactly as the panel
// expects it, so a flush hands Pix over without conversion.
type FrameBuffer struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// NewFrameBuffer allocates a w×h buffer.
func NewFrameBuffer(w, h int) *FrameBuffer {
	return &FrameBuffer{
		Pix:    make([]byte, w*h*convert.BytesPerPixel),
		Stride: w * convert.BytesPerPixel,
		Rect:   image.Rect(0, 0, w, h),
	}
}

func (f *FrameBuffer) ColorModel() color.Model { return convert.RGB565Model }

func (f *FrameBuffer) Bounds() image.Rectangle { return f.Rect }

func (f *FrameBuffer) PixOffset(x, y int) int {
	return (y-f.Rect.Min.Y)*f.Stride + (x-f.Rect.Min.X)*convert.BytesPerPixel
}

func (f *FrameBuffer) At(x, y int) color.Color {
	return f.RGB565At(x, y)
}

func (f *FrameBuffer) RGB565At(x, y int) convert.RGB565 {
	if !(image.Point{x, y}.In(f.Rect)) {
		return 0
	}
	return convert.Get(f.Pix[f.PixOffset(x, y):])
}

func (f *FrameBuffer) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(f.Rect)) {
		return
	}
	convert.Put(f.Pix[f.PixOffset(x, y):], convert.ToRGB565(c))
}

// Fill overwrites the whole buffer with c.
func (f *FrameBuffer) Fill(c color.Color) {
	if len(f.Pix) == 0 {
		return
	}
	v := convert.ToRGB565(c)
	convert.Put(f.Pix, v)
	// Double the filled prefix until the buffer is covered.
	for n := 2; n < len(f.Pix); n *= 2 {
		copy(f.Pix[n:], f.Pix[:n])
	}
}

// Blit composites the part of src that overlaps the buffer over the
// current contents, aligned at the buffer origin.
func (f *FrameBuffer) Blit(src *image.RGBA) {
	r := src.Bounds().Intersect(f.Rect)
	if r.Empty() {
		return
	}
	convert.PackRGBA(f.Pix[f.PixOffset(r.Min.X, r.Min.Y):], f.Stride, src, r)
}
