package convert

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrimaries(t *testing.T) {
	assert.Equal(t, RGB565(0xf800), ToRGB565(color.RGBA{R: 255, A: 255}))
	assert.Equal(t, RGB565(0x07e0), ToRGB565(color.RGBA{G: 255, A: 255}))
	assert.Equal(t, RGB565(0x001f), ToRGB565(color.RGBA{B: 255, A: 255}))
	assert.Equal(t, RGB565(0xffff), ToRGB565(color.White))
	assert.Equal(t, RGB565(0x0000), ToRGB565(color.Black))
}

func TestWhiteSurvivesWidening(t *testing.T) {
	r, g, b, a := RGB565(0xffff).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff, 0xffff}, []uint32{r, g, b, a})

	back := color.RGBAModel.Convert(RGB565(0xf800)).(color.RGBA)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, back)
}

func TestPutGetBigEndian(t *testing.T) {
	buf := make([]byte, 2)
	Put(buf, 0xf81f)
	assert.Equal(t, []byte{0xf8, 0x1f}, buf)
	assert.Equal(t, RGB565(0xf81f), Get(buf))
}

func TestPackRGBASubRect(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 3))
	src.Set(1, 1, color.RGBA{R: 255, A: 255})
	src.Set(2, 1, color.RGBA{B: 255, A: 255})
	src.Set(1, 2, color.White)

	r := image.Rect(1, 1, 3, 3)
	dst := make([]byte, r.Dx()*r.Dy()*BytesPerPixel)
	PackRGBA(dst, r.Dx()*BytesPerPixel, src, r)

	assert.Equal(t, []byte{
		0xf8, 0x00, 0x00, 0x1f,
		0xff, 0xff, 0x00, 0x00,
	}, dst)
}

func TestPackRGBAKeepsBackgroundUnderTransparency(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 1))
	src.Set(1, 0, color.RGBA{G: 255, A: 255})
	// Half-transparent red, premultiplied.
	src.SetRGBA(2, 0, color.RGBA{R: 128, A: 128})

	dst := make([]byte, 3*BytesPerPixel)
	for i := 0; i < 3; i++ {
		Put(dst[i*2:], 0x001f)
	}
	PackRGBA(dst, len(dst), src, src.Bounds())

	assert.Equal(t, RGB565(0x001f), Get(dst[0:]))
	assert.Equal(t, RGB565(0x07e0), Get(dst[2:]))
	assert.Equal(t, FromRGB8(128, 0, 127), Get(dst[4:]))
}
