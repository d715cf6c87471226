// Package panel drives the ST7789 240x240 TFT over SPI using periph.io.
//
// The controller takes 16-bit RGB565 pixels, big-endian on the wire, in a
// rectangular window set with CASET/RASET. Orientation and inversion are
// fixed at Init from the config.
package panel

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"echokit/internal/config"
	appLog "echokit/internal/log"
)

// ST7789 command set (subset).
const (
	cmdSWRESET = 0x01
	cmdSLPIN   = 0x10
	cmdSLPOUT  = 0x11
	cmdNORON   = 0x13
	cmdINVOFF  = 0x20
	cmdINVON   = 0x21
	cmdDISPOFF = 0x28
	cmdDISPON  = 0x29
	cmdCASET   = 0x2A
	cmdRASET   = 0x2B
	cmdRAMWR   = 0x2C
	cmdMADCTL  = 0x36
	cmdCOLMOD  = 0x3A
)

// MADCTL bits.
const (
	madMY = 0x80
	madMX = 0x40
	madMV = 0x20
)

// colmod16 selects 65k colors, 16 bits per pixel.
const colmod16 = 0x55

// defaultMaxTx is used when the SPI port does not report its limit.
const defaultMaxTx = 4096

// Driver owns the SPI connection and the control pins.
type Driver struct {
	conn spi.Conn
	port spi.PortCloser

	dc gpio.PinOut
	// rst and bl are optional.
	rst gpio.PinOut
	bl  gpio.PinOut

	cfg   config.PanelConfig
	maxTx int
	sleep func(time.Duration)
}

// Open connects to the configured SPI port and pins. The host drivers must
// already be initialized (host.Init). The panel is not touched until Init.
func Open(cfg config.PanelConfig) (*Driver, error) {
	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("panel: failed to open SPI port %q: %w", cfg.SPIPort, err)
	}

	clock := physic.Frequency(cfg.ClockMHz) * physic.MegaHertz
	c, err := port.Connect(clock, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("panel: failed to connect SPI: %w", err)
	}

	dc, err := outPin(cfg.DC, gpio.Low)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	rst, err := outPin(cfg.Reset, gpio.High)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	bl, err := outPin(cfg.Backlight, gpio.Low)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	d := newDriver(c, dc, rst, bl, cfg)
	d.port = port
	return d, nil
}

// outPin resolves a GPIO by name. An empty name means the pin is not wired.
func outPin(name string, initial gpio.Level) (gpio.PinOut, error) {
	if name == "" {
		return nil, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("panel: gpio %s not found", name)
	}
	if err := p.Out(initial); err != nil {
		return nil, fmt.Errorf("panel: gpio %s Out failed: %w", name, err)
	}
	return p, nil
}

func newDriver(c spi.Conn, dc, rst, bl gpio.PinOut, cfg config.PanelConfig) *Driver {
	maxTx := defaultMaxTx
	if l, ok := c.(interface{ MaxTxSize() int }); ok && l.MaxTxSize() > 0 {
		maxTx = l.MaxTxSize()
	}
	return &Driver{conn: c, dc: dc, rst: rst, bl: bl, cfg: cfg, maxTx: maxTx, sleep: time.Sleep}
}

// Size is the visible panel area.
func (d *Driver) Size() (int, int) { return d.cfg.Width, d.cfg.Height }

func (d *Driver) out(p gpio.PinOut, l gpio.Level) {
	if p != nil {
		_ = p.Out(l)
	}
}

// command sends one command byte with DC low, then its parameters with DC
// high.
func (d *Driver) command(cmd byte, params ...byte) error {
	d.out(d.dc, gpio.Low)
	if err := d.conn.Tx([]byte{cmd}, nil); err != nil {
		return fmt.Errorf("panel: command 0x%02x: %w", cmd, err)
	}
	if len(params) == 0 {
		return nil
	}
	return d.data(params)
}

// data streams b with DC high in chunks the SPI port accepts.
func (d *Driver) data(b []byte) error {
	d.out(d.dc, gpio.High)
	for len(b) > 0 {
		n := min(len(b), d.maxTx)
		if err := d.conn.Tx(b[:n], nil); err != nil {
			return fmt.Errorf("panel: data: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (d *Driver) reset() {
	if d.rst == nil {
		return
	}
	d.out(d.rst, gpio.High)
	d.sleep(10 * time.Millisecond)
	d.out(d.rst, gpio.Low)
	d.sleep(10 * time.Millisecond)
	d.out(d.rst, gpio.High)
	d.sleep(120 * time.Millisecond)
}

func (d *Driver) madctl() byte {
	var m byte
	if d.cfg.MirrorX {
		m |= madMX
	}
	if d.cfg.MirrorY {
		m |= madMY
	}
	if d.cfg.SwapXY {
		m |= madMV
	}
	return m
}

// Init resets the controller and brings it to 16-bit color with the
// configured orientation, then turns on the display and backlight.
func (d *Driver) Init() error {
	d.reset()

	if err := d.command(cmdSWRESET); err != nil {
		return err
	}
	d.sleep(150 * time.Millisecond)

	if err := d.command(cmdSLPOUT); err != nil {
		return err
	}
	d.sleep(120 * time.Millisecond)

	if err := d.command(cmdCOLMOD, colmod16); err != nil {
		return err
	}
	if err := d.command(cmdMADCTL, d.madctl()); err != nil {
		return err
	}

	inv := byte(cmdINVOFF)
	if d.cfg.Invert {
		inv = cmdINVON
	}
	if err := d.command(inv); err != nil {
		return err
	}
	if err := d.command(cmdNORON); err != nil {
		return err
	}
	if err := d.command(cmdDISPON); err != nil {
		return err
	}
	d.sleep(20 * time.Millisecond)

	d.out(d.bl, gpio.High)
	appLog.Info("panel initialized", "width", d.cfg.Width, "height", d.cfg.Height, "madctl", d.madctl())
	return nil
}

// DrawBitmap writes the rectangle [x0,x1)×[y0,y1). data must hold exactly
// (x1-x0)*(y1-y0) big-endian RGB565 pixels.
func (d *Driver) DrawBitmap(x0, y0, x1, y1 int, data []byte) error {
	if x0 < 0 || y0 < 0 || x1 > d.cfg.Width || y1 > d.cfg.Height || x0 >= x1 || y0 >= y1 {
		return fmt.Errorf("panel: window (%d,%d)-(%d,%d) outside %dx%d", x0, y0, x1, y1, d.cfg.Width, d.cfg.Height)
	}
	if want := (x1 - x0) * (y1 - y0) * 2; len(data) != want {
		return fmt.Errorf("panel: invalid buffer size %d, expected %d", len(data), want)
	}

	xs, xe := x0+d.cfg.OffsetX, x1-1+d.cfg.OffsetX
	ys, ye := y0+d.cfg.OffsetY, y1-1+d.cfg.OffsetY
	if err := d.command(cmdCASET, byte(xs>>8), byte(xs), byte(xe>>8), byte(xe)); err != nil {
		return err
	}
	if err := d.command(cmdRASET, byte(ys>>8), byte(ys), byte(ye>>8), byte(ye)); err != nil {
		return err
	}
	if err := d.command(cmdRAMWR); err != nil {
		return err
	}
	return d.data(data)
}

// Sleep turns the display off and puts the controller in sleep mode.
func (d *Driver) Sleep() error {
	d.out(d.bl, gpio.Low)
	if err := d.command(cmdDISPOFF); err != nil {
		return err
	}
	if err := d.command(cmdSLPIN); err != nil {
		return err
	}
	d.sleep(5 * time.Millisecond)
	return nil
}

// Close releases the SPI port.
func (d *Driver) Close() error {
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// Discard is a panel that accepts and drops frames, for headless runs.
type Discard struct {
	Width, Height int
}

var errDiscardWindow = errors.New("panel: window outside discard panel")

func (p Discard) DrawBitmap(x0, y0, x1, y1 int, data []byte) error {
	if x0 < 0 || y0 < 0 || x1 > p.Width || y1 > p.Height {
		return errDiscardWindow
	}
	return nil
}
