package adc

import "errors"

// RawSample is one signed 24-bit conversion result, sign-extended.
type RawSample int32

const (
	// MinSample is the most negative 24-bit code.
	MinSample RawSample = -1 << 23
	// MaxSample is the most positive 24-bit code.
	MaxSample RawSample = 1<<23 - 1
	// Saturated marks a failed or clipped conversion. It must never be filtered.
	Saturated = MaxSample
)

// ErrNotReady is returned by ReadRaw when no conversion is pending.
var ErrNotReady = errors.New("conversion not ready")

// Source defines the interface for load cell front-ends (real or mocked).
//
// Ready reports a pending conversion; it is fed by the front-end's own
// data-ready signal. ReadRaw consumes that conversion.
type Source interface {
	PowerOn() error
	PowerOff() error
	Ready() bool
	ReadRaw() (RawSample, error)
	MaxSampleRate() float64
	Close() error
}

// Ensure Serial implements Source. The GPIO and I2C front-ends assert the
// same in their own packages.
var _ Source = (*Serial)(nil)

// Ensure Mock implements Source.
var _ Source = (*Mock)(nil)

// SignExtend24 converts a 24-bit two's complement code to a RawSample.
// Bits above the 24th are ignored.
func SignExtend24(code uint32) RawSample {
	code &= 0xFFFFFF
	if code&0x800000 != 0 {
		return RawSample(int32(code) - 0x1000000)
	}
	return RawSample(code)
}
