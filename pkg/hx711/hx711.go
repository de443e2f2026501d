// Package hx711 drives an HX711 load cell amplifier over two GPIO lines.
//
// PD_SCK is bit-banged by the host and DOUT doubles as the data-ready line:
// it falls when a conversion is available and rises again once the 24 data
// bits have been clocked out.
package hx711

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/loadcell/pkg/adc"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	// MaxSampleRate caps acquisition: every read blocks for the whole
	// clock train, which is too long for faster periodic polling.
	MaxSampleRate = 2

	// powerDownHold is how long PD_SCK stays high to enter power down (>60µs).
	powerDownHold = 64 * time.Microsecond
	// halfClock is the minimum PD_SCK high and low time.
	halfClock = time.Microsecond
	// edgeTimeout bounds each wait for a DOUT edge so the watcher can stop.
	edgeTimeout = 50 * time.Millisecond
)

// Gain selects the input channel and amplifier gain of the next conversion.
// Its value is the number of PD_SCK pulses per read.
type Gain int

const (
	GainA128 Gain = 25
	GainB32  Gain = 26
	GainA64  Gain = 27
)

func (g Gain) String() string {
	switch g {
	case GainA128:
		return "A128"
	case GainB32:
		return "B32"
	case GainA64:
		return "A64"
	default:
		return fmt.Sprintf("Gain(%d)", int(g))
	}
}

// ErrInvalidGain is returned for channel/gain selections the chip lacks.
var ErrInvalidGain = errors.New("hx711: invalid gain")

// ParseGain converts "A128", "B32" or "A64" to a Gain.
func ParseGain(s string) (Gain, error) {
	switch s {
	case "A128", "":
		return GainA128, nil
	case "B32":
		return GainB32, nil
	case "A64":
		return GainA64, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidGain, s)
	}
}

// Ensure Device implements adc.Source.
var _ adc.Source = (*Device)(nil)

// Device is an HX711 attached to two GPIO pins.
type Device struct {
	clk  gpio.PinOut
	data gpio.PinIn

	mu      sync.Mutex // serializes clock trains and power changes
	gain    Gain
	powered bool
	cancel  context.CancelFunc
	done    chan struct{}

	ready atomic.Bool
}

// Open initializes the host drivers and returns a device on the named pins.
func Open(clock, data string, gain Gain) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hx711: could not initialize host: %w", err)
	}
	if clock == data {
		return nil, fmt.Errorf("hx711: clock and data share pin %s", clock)
	}

	clk := gpioreg.ByName(clock)
	if clk == nil {
		return nil, fmt.Errorf("hx711: no clock pin %s", clock)
	}
	dout := gpioreg.ByName(data)
	if dout == nil {
		return nil, fmt.Errorf("hx711: no data pin %s", data)
	}

	return New(clk, dout, gain)
}

// New returns a device on already resolved pins. The chip is left powered
// down until PowerOn.
func New(clk gpio.PinOut, data gpio.PinIn, gain Gain) (*Device, error) {
	if gain < GainA128 || gain > GainA64 {
		return nil, fmt.Errorf("%w: %d pulses", ErrInvalidGain, int(gain))
	}
	if err := clk.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("hx711: could not drive clock: %w", err)
	}
	if err := data.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("hx711: could not configure data: %w", err)
	}

	return &Device{
		clk:  clk,
		data: data,
		gain: gain,
	}, nil
}

// PowerOn pulls PD_SCK low and starts watching DOUT for conversions.
func (d *Device) PowerOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.powered {
		return nil
	}
	if err := d.clk.Out(gpio.Low); err != nil {
		return fmt.Errorf("hx711: could not power on: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.powered = true
	d.ready.Store(false)

	go d.watch(ctx, d.done)

	return nil
}

// PowerOff holds PD_SCK high long enough for the chip to power down.
func (d *Device) PowerOff() error {
	d.mu.Lock()
	if !d.powered {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	d.powered = false
	done := d.done
	d.mu.Unlock()

	<-done
	d.ready.Store(false)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.clk.Out(gpio.High); err != nil {
		return fmt.Errorf("hx711: could not power off: %w", err)
	}
	time.Sleep(powerDownHold)

	return nil
}

// Close powers the chip down and halts both pins.
func (d *Device) Close() error {
	err := d.PowerOff()
	return errors.Join(err, d.data.Halt(), d.clk.Halt())
}

// Ready reports a pending conversion.
func (d *Device) Ready() bool {
	return d.ready.Load()
}

// MaxSampleRate returns the acquisition ceiling in Hz.
func (d *Device) MaxSampleRate() float64 {
	return MaxSampleRate
}

// Gain returns the gain applied to conversions.
func (d *Device) Gain() Gain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

// SetGain selects a new channel and gain. The chip latches the selection
// from the pulse count of a read, so the pending conversion is read and
// discarded. It fails unless a conversion is pending.
func (d *Device) SetGain(g Gain) error {
	if g < GainA128 || g > GainA64 {
		return fmt.Errorf("%w: %d pulses", ErrInvalidGain, int(g))
	}
	if !d.Ready() {
		return fmt.Errorf("hx711: could not apply gain %s: %w", g, adc.ErrNotReady)
	}

	d.mu.Lock()
	d.gain = g
	d.mu.Unlock()

	if _, err := d.ReadRaw(); err != nil {
		return fmt.Errorf("hx711: could not apply gain %s: %w", g, err)
	}
	return nil
}

// ReadRaw clocks out the pending conversion.
func (d *Device) ReadRaw() (adc.RawSample, error) {
	if !d.ready.Swap(false) {
		return 0, adc.ErrNotReady
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.powered {
		return 0, adc.ErrNotReady
	}

	code, err := shiftIn(d.clk, d.data, int(d.gain))
	if err != nil {
		return 0, err
	}
	return adc.SignExtend24(code), nil
}

// watch latches the ready flag whenever DOUT sits low between reads.
func (d *Device) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		d.mu.Lock()
		if d.powered && d.data.Read() == gpio.Low {
			d.ready.Store(true)
		}
		d.mu.Unlock()

		d.data.WaitForEdge(edgeTimeout)
	}
}

// shiftIn clocks out 24 data bits MSB first, then the extra pulses that
// select the gain of the next conversion.
func shiftIn(clk gpio.PinOut, data gpio.PinIn, pulses int) (uint32, error) {
	var code uint32
	for i := 0; i < pulses; i++ {
		if err := clk.Out(gpio.High); err != nil {
			return 0, fmt.Errorf("hx711: clock high: %w", err)
		}
		spin(halfClock)
		if i < 24 {
			code <<= 1
			if data.Read() == gpio.High {
				code |= 1
			}
		}
		if err := clk.Out(gpio.Low); err != nil {
			return 0, fmt.Errorf("hx711: clock low: %w", err)
		}
		spin(halfClock)
	}
	return code, nil
}

// spin busy-waits for d. time.Sleep overshoots by far more than the 60µs
// after which a high PD_SCK powers the chip down.
func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}
