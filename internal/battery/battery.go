// Package battery reads the charge state of the device's battery board.
package battery

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// DefaultAddr is the PiSugar-style fuel gauge address.
const DefaultAddr = 0x57

// Gauge registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// Status is one battery reading.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int
	// VoltageMv is the battery voltage in millivolts.
	VoltageMv int
}

// Reader abstracts how battery information is obtained.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// I2CReader opens the bus on every Read so a missing or hot-plugged board
// never holds the bus open.
type I2CReader struct {
	Bus  string
	Addr uint16
}

// NewI2CReader constructs an I2C-backed Reader. An empty busName selects
// the first bus; a zero addr selects DefaultAddr.
func NewI2CReader(busName string, addr uint16) *I2CReader {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &I2CReader{Bus: busName, Addr: addr}
}

func (r *I2CReader) Read(_ context.Context) (Status, error) {
	bus, err := i2creg.Open(r.Bus)
	if err != nil {
		return Status{}, fmt.Errorf("battery: open i2c %q: %w", r.Bus, err)
	}
	defer bus.Close()
	return readGauge(bus, r.Addr)
}

func readGauge(bus i2c.Bus, addr uint16) (Status, error) {
	dev := &i2c.Dev{Bus: bus, Addr: addr}

	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read reg 0x%02x: %w", reg, err)
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Percent:   int(min(pct, 100)),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}
