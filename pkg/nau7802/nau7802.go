// Package nau7802 drives a Nuvoton NAU7802 24-bit load cell ADC over I2C.
package nau7802

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/itohio/loadcell/pkg/adc"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Addr is the fixed I2C address of the chip.
const Addr = 0x2A

// Registers.
const (
	RegPUCtrl  byte = 0x00
	RegCtrl1   byte = 0x01
	RegCtrl2   byte = 0x02
	RegADCB2   byte = 0x12 // conversion result, MSB first
	RegADC     byte = 0x15
	RegPGA     byte = 0x1B
	RegPowerCt byte = 0x1C
	RegRevID   byte = 0x1F
)

// PU_CTRL bits.
const (
	puReset byte = 0x01
	puPUD   byte = 0x02
	puPUA   byte = 0x04
	puCS    byte = 0x10
	puCR    byte = 0x20
	puAVDDS byte = 0x80
)

const (
	ldo3V0       byte = 0x28 // CTRL1 VLDO = 3.0V
	adcClkChpOff byte = 0x30 // ADC register REG_CHPS off
	pgaCapEnable byte = 0x80 // PGA_PWR cap on VIN2
	pgaLDOMode   byte = 0x40 // PGA register LDOMODE bit
)

var (
	// ErrInvalidGain is returned for gains other than powers of two up to 128.
	ErrInvalidGain = errors.New("nau7802: invalid gain")
	// ErrInvalidRate is returned for sample rates the chip lacks.
	ErrInvalidRate = errors.New("nau7802: invalid sample rate")
)

// Ensure Device implements adc.Source.
var _ adc.Source = (*Device)(nil)

// gainCode maps a PGA gain to its CTRL1 GAINS field.
func gainCode(gain int) (byte, error) {
	for code := 0; code < 8; code++ {
		if gain == 1<<code {
			return byte(code), nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidGain, gain)
}

// rateCode maps a conversion rate to its CTRL2 CRS field, already shifted.
func rateCode(sps int) (byte, error) {
	switch sps {
	case 10:
		return 0x00, nil
	case 20:
		return 0x10, nil
	case 40:
		return 0x20, nil
	case 80:
		return 0x30, nil
	case 320:
		return 0x70, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidRate, sps)
	}
}

// Device is a NAU7802 on an I2C bus.
type Device struct {
	dev  *i2c.Dev
	bus  i2c.Bus
	drdy gpio.PinIn // optional, nil polls PU_CTRL.CR

	ctrl1 byte
	ctrl2 byte
	sps   int

	mu      sync.Mutex
	powered bool
	ready   atomic.Bool
}

// Open initializes the host drivers, opens busName (empty for the first
// available bus) and returns a device at addr. drdy optionally names the
// pin wired to DRDY.
func Open(busName string, addr uint16, gain, sps int, drdy string) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("nau7802: could not initialize host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("nau7802: could not open I2C bus: %w", err)
	}

	var pin gpio.PinIn
	if drdy != "" {
		p := gpioreg.ByName(drdy)
		if p == nil {
			bus.Close()
			return nil, fmt.Errorf("nau7802: no DRDY pin %s", drdy)
		}
		if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			bus.Close()
			return nil, fmt.Errorf("nau7802: could not configure DRDY: %w", err)
		}
		pin = p
	}

	d, err := New(bus, addr, gain, sps, pin)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return d, nil
}

// New returns a device on an open bus. Closing the device closes the bus if
// it is an i2c.BusCloser.
func New(bus i2c.Bus, addr uint16, gain, sps int, drdy gpio.PinIn) (*Device, error) {
	g, err := gainCode(gain)
	if err != nil {
		return nil, err
	}
	r, err := rateCode(sps)
	if err != nil {
		return nil, err
	}
	if addr == 0 {
		addr = Addr
	}

	return &Device{
		dev:   &i2c.Dev{Addr: addr, Bus: bus},
		bus:   bus,
		drdy:  drdy,
		ctrl1: ldo3V0 | g,
		ctrl2: r,
		sps:   sps,
	}, nil
}

// PowerOn powers the analog and digital sections, applies gain and rate
// and starts conversions.
func (d *Device) PowerOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.powered {
		return nil
	}

	if err := d.write(RegPUCtrl, puAVDDS|puPUA|puPUD, d.ctrl1, d.ctrl2); err != nil {
		return fmt.Errorf("nau7802: could not power up: %w", err)
	}
	if err := d.update(RegADC, adcClkChpOff, 0xFF); err != nil {
		return fmt.Errorf("nau7802: could not disable clock chopper: %w", err)
	}
	if err := d.write(RegPowerCt, pgaCapEnable); err != nil {
		return fmt.Errorf("nau7802: could not enable decoupling cap: %w", err)
	}
	if err := d.update(RegPGA, 0, ^pgaLDOMode); err != nil {
		return fmt.Errorf("nau7802: could not set PGA mode: %w", err)
	}
	if err := d.write(RegPUCtrl, puAVDDS|puPUA|puPUD|puCS); err != nil {
		return fmt.Errorf("nau7802: could not start conversions: %w", err)
	}

	d.powered = true
	d.ready.Store(false)

	return nil
}

// PowerOff resets the register file, which also powers the chip down.
func (d *Device) PowerOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.powered {
		return nil
	}
	d.powered = false
	d.ready.Store(false)

	if err := d.write(RegPUCtrl, puReset); err != nil {
		return fmt.Errorf("nau7802: could not power down: %w", err)
	}
	return nil
}

// Close powers the chip down and releases the bus.
func (d *Device) Close() error {
	err := d.PowerOff()
	if c, ok := d.bus.(i2c.BusCloser); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

// Ready reports a pending conversion, sampled from DRDY when wired and from
// PU_CTRL.CR otherwise.
func (d *Device) Ready() bool {
	if d.ready.Load() {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.powered {
		return false
	}

	if d.drdy != nil {
		if d.drdy.Read() == gpio.High {
			d.ready.Store(true)
		}
		return d.ready.Load()
	}

	pu, err := d.read(RegPUCtrl)
	if err == nil && pu&puCR != 0 {
		d.ready.Store(true)
	}
	return d.ready.Load()
}

// ReadRaw reads the pending conversion. Reading ADCO_B2 clears CR.
func (d *Device) ReadRaw() (adc.RawSample, error) {
	if !d.ready.Swap(false) {
		return 0, adc.ErrNotReady
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	b := make([]byte, 3)
	if err := d.dev.Tx([]byte{RegADCB2}, b); err != nil {
		return 0, fmt.Errorf("nau7802: could not read conversion: %w", err)
	}

	return adc.SignExtend24(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])), nil
}

// MaxSampleRate returns the configured conversion rate.
func (d *Device) MaxSampleRate() float64 {
	return float64(d.sps)
}

// Revision returns the chip revision ID.
func (d *Device) Revision() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rev, err := d.read(RegRevID)
	if err != nil {
		return 0, fmt.Errorf("nau7802: could not get revision ID: %w", err)
	}
	return rev & 0x0F, nil
}

// read reads a single register.
func (d *Device) read(reg byte) (byte, error) {
	b := make([]byte, 1)
	if err := d.dev.Tx([]byte{reg}, b); err != nil {
		return 0, err
	}
	return b[0], nil
}

// write writes data to consecutive registers starting at reg.
func (d *Device) write(reg byte, data ...byte) error {
	return d.dev.Tx(append([]byte{reg}, data...), nil)
}

// update sets bits in set and keeps bits in keep of a register.
func (d *Device) update(reg, set, keep byte) error {
	v, err := d.read(reg)
	if err != nil {
		return err
	}
	return d.write(reg, v&keep|set)
}
