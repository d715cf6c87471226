package convert

import (
	"image"
	"image/color"
)

// BytesPerPixel is the size of one RGB565 pixel on the wire.
const BytesPerPixel = 2

// RGB565 is the panel-native 16-bit color: 5 bits red, 6 bits green,
// 5 bits blue, sent big-endian over SPI.
type RGB565 uint16

// RGBA implements color.Color. The 5/6-bit channels are widened by
// replicating their high bits so that white stays white.
func (c RGB565) RGBA() (r, g, b, a uint32) {
	r5 := uint32(c>>11) & 0x1f
	g6 := uint32(c>>5) & 0x3f
	b5 := uint32(c) & 0x1f

	r8 := r5<<3 | r5>>2
	g8 := g6<<2 | g6>>4
	b8 := b5<<3 | b5>>2

	return r8 * 0x101, g8 * 0x101, b8 * 0x101, 0xffff
}

// RGB565Model converts any color to RGB565.
var RGB565Model = color.ModelFunc(func(c color.Color) color.Color {
	return ToRGB565(c)
})

// FromRGB8 packs 8-bit channels.
func FromRGB8(r, g, b uint8) RGB565 {
	return RGB565(uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3))
}

// ToRGB565 converts c, ignoring alpha (the panel has no transparency).
func ToRGB565(c color.Color) RGB565 {
	switch v := c.(type) {
	case RGB565:
		return v
	case color.RGBA:
		return FromRGB8(v.R, v.G, v.B)
	case color.NRGBA:
		return FromRGB8(v.R, v.G, v.B)
	}
	r, g, b, _ := c.RGBA()
	return FromRGB8(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// Put writes c big-endian into dst[0:2].
func Put(dst []byte, c RGB565) {
	dst[0] = byte(c >> 8)
	dst[1] = byte(c)
}

// Get reads a big-endian RGB565 value from src[0:2].
func Get(src []byte) RGB565 {
	return RGB565(uint16(src[0])<<8 | uint16(src[1]))
}

// PackRGBA composites the part of src covered by r over dst, a big-endian
// RGB565 buffer with the given row stride in bytes whose origin maps to
// r.Min. src is premultiplied; transparent pixels leave dst as it is.
// r must lie inside src.Bounds().
//
// The loop walks src.Pix with the image stride directly to avoid At().
func PackRGBA(dst []byte, dstStride int, src *image.RGBA, r image.Rectangle) {
	r = r.Intersect(src.Bounds())
	if r.Empty() {
		return
	}
	w := r.Dx()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		si := src.PixOffset(r.Min.X, y)
		di := (y - r.Min.Y) * dstStride
		row := src.Pix[si : si+w*4]
		out := dst[di : di+w*BytesPerPixel]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			switch p[3] {
			case 0:
				continue
			case 0xff:
				Put(out[x*2:], FromRGB8(p[0], p[1], p[2]))
			default:
				Put(out[x*2:], over(p, Get(out[x*2:])))
			}
		}
	}
}

// over blends one premultiplied RGBA pixel onto an opaque background.
func over(p []byte, bg RGB565) RGB565 {
	br, bgG, bb, _ := bg.RGBA()
	k := uint32(0xff - p[3])
	mix := func(s uint8, d uint32) uint8 {
		return uint8(uint32(s) + (d>>8)*k/0xff)
	}
	return FromRGB8(mix(p[0], br), mix(p[1], bgG), mix(p[2], bb))
}
