package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"echokit/internal/convert"
	"echokit/internal/platform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func twoFrameGIF(t *testing.T, w, h int, delays ...int) []byte {
	t.Helper()
	pal := color.Palette{color.RGBA{R: 255, A: 255}, color.RGBA{B: 255, A: 255}}
	g := &gif.GIF{}
	for i, c := range pal {
		img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Set(x, y, c)
			}
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, delays[i])
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

func TestWrap(t *testing.T) {
	assert.Nil(t, wrap("", 10))
	assert.Equal(t, []string{"Press K0 to", "continue"}, wrap("Press K0 to continue", 11))
	assert.Equal(t, []string{"a", "", "b"}, wrap("a\n\nb", 5))
	assert.Equal(t, []string{"abcd", "efgh", "ij x"}, wrap("abcdefghij x", 4))
}

func TestDrawOnlyWhenDirty(t *testing.T) {
	w := NewWindow(64, 64)
	fb := platform.NewFrameBuffer(64, 64)

	require.True(t, w.DrawIfNeeded(fb))
	assert.Equal(t, convert.ToRGB565(colorBackground), fb.RGB565At(63, 63))
	assert.False(t, w.DrawIfNeeded(fb))

	w.SetState("Connecting to wifi...")
	assert.True(t, w.DrawIfNeeded(fb))

	w.SetState("Connecting to wifi...")
	assert.False(t, w.DrawIfNeeded(fb))
}

func TestQRCodeDrawnBelowText(t *testing.T) {
	w := NewWindow(240, 240)
	fb := platform.NewFrameBuffer(240, 240)
	w.SetState("Please setup device by bt")
	w.SetText("Goto https://echokit.dev/setup/ to set up the device.\nPress K0 to continue")
	require.NoError(t, w.SetQR("https://echokit.dev/setup/"))
	require.True(t, w.DrawIfNeeded(fb))

	var black, white int
	for y := 120; y < 232; y++ {
		for x := 0; x < 240; x++ {
			switch fb.RGB565At(x, y) {
			case 0x0000:
				black++
			case 0xffff:
				white++
			}
		}
	}
	assert.Positive(t, black)
	assert.Positive(t, white)

	require.NoError(t, w.SetQR(""))
	require.True(t, w.DrawIfNeeded(fb))
	assert.Equal(t, convert.ToRGB565(colorBackground), fb.RGB565At(120, 200))
}

func TestAnimatedBackground(t *testing.T) {
	a, err := decodeGIF(twoFrameGIF(t, 16, 16, 10, 30), image.Pt(16, 16))
	require.NoError(t, err)
	require.Len(t, a.frames, 2)
	assert.Equal(t, 400*time.Millisecond, a.total)

	assert.Equal(t, 0, a.frameAt(0))
	assert.Equal(t, 0, a.frameAt(99*time.Millisecond))
	assert.Equal(t, 1, a.frameAt(100*time.Millisecond))
	assert.Equal(t, 0, a.frameAt(410*time.Millisecond))

	w := NewWindow(16, 16)
	fb := platform.NewFrameBuffer(16, 16)
	w.setBackground(a)
	assert.True(t, w.HasActiveAnimations())
	assert.Equal(t, 100*time.Millisecond, w.NextFrameIn(0))
	assert.Equal(t, 250*time.Millisecond, w.NextFrameIn(150*time.Millisecond))
	assert.Equal(t, 90*time.Millisecond, w.NextFrameIn(410*time.Millisecond))

	w.UpdateTimersAndAnimations(0)
	require.True(t, w.DrawIfNeeded(fb))
	assert.Equal(t, convert.RGB565(0xf800), fb.RGB565At(15, 15))

	w.UpdateTimersAndAnimations(50 * time.Millisecond)
	assert.False(t, w.DrawIfNeeded(fb))

	w.UpdateTimersAndAnimations(150 * time.Millisecond)
	require.True(t, w.DrawIfNeeded(fb))
	assert.Equal(t, convert.RGB565(0x001f), fb.RGB565At(15, 15))

	w.setBackground(nil)
	assert.False(t, w.HasActiveAnimations())
	assert.Zero(t, w.NextFrameIn(0))
}

func TestDecodeGIFRejectsGarbage(t *testing.T) {
	_, err := decodeGIF(nil, image.Pt(4, 4))
	assert.Error(t, err)
	_, err = decodeGIF([]byte("not a gif"), image.Pt(4, 4))
	assert.Error(t, err)
}

type nopPanel struct{}

func (nopPanel) DrawBitmap(int, int, int, int, []byte) error { return nil }

func TestRegisterOnceAndStatusUpdates(t *testing.T) {
	registered.Store(false)
	t.Cleanup(func() { registered.Store(false) })

	win := NewWindow(32, 32)
	p, err := platform.New(nopPanel{}, win, platform.Options{IdleTick: 10 * time.Millisecond})
	require.NoError(t, err)

	st, err := Register(p)
	require.NoError(t, err)
	_, err = Register(p)
	assert.ErrorIs(t, err, ErrPlatformRegistered)

	done := make(chan error, 1)
	go func() { done <- p.Run() }()

	require.NoError(t, st.ShowStatus("Connecting to server...", "wss://echo.example/ws/aabbccddeeff"))
	require.NoError(t, st.SetBackground(twoFrameGIF(t, 8, 8, 5, 5)))
	assert.Error(t, st.SetBackground([]byte("junk")))

	type snapshot struct {
		state, text string
		animating   bool
	}
	got := make(chan snapshot, 1)
	require.NoError(t, p.Proxy().InvokeFromEventLoop(func() {
		got <- snapshot{win.state, win.text, win.HasActiveAnimations()}
	}))
	select {
	case s := <-got:
		assert.Equal(t, snapshot{"Connecting to server...", "wss://echo.example/ws/aabbccddeeff", true}, s)
	case <-time.After(5 * time.Second):
		t.Fatal("status not applied")
	}

	require.NoError(t, p.Proxy().QuitEventLoop())
	require.NoError(t, <-done)
	assert.ErrorIs(t, st.ShowStatus("late", ""), platform.ErrLoopClosed)
}

func TestTransparentBackgroundShowsScreenColor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	w := NewWindow(16, 16)
	w.setBackground(&animation{frames: []*image.RGBA{img}, delays: []time.Duration{defaultDelay}, total: defaultDelay})
	fb := platform.NewFrameBuffer(16, 16)
	require.True(t, w.DrawIfNeeded(fb))

	assert.Equal(t, convert.RGB565(0xf800), fb.RGB565At(0, 0))
	assert.Equal(t, convert.ToRGB565(colorBackground), fb.RGB565At(10, 10))
}
