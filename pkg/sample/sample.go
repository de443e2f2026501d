package sample

import (
	"log"
	"time"

	"github.com/itohio/loadcell/pkg/config"
	"github.com/itohio/loadcell/pkg/filter"
)

// DefaultBufferSize is the default size of converter output channels.
const DefaultBufferSize = 100

// Reading is a filter output stamped with the time it was produced.
type Reading struct {
	Timestamp time.Time
	filter.Reading
}

// Weight represents a filtered measurement in physical units.
type Weight struct {
	Timestamp time.Time
	Value     float64 // (mean - offset) / scale
	Trend     float64 // units per sample
	Stable    bool
	Unit      string
}

// Calibration maps raw codes to weight: weight = (code - Offset) / Scale.
type Calibration struct {
	Offset float64
	Scale  float64
	Unit   string
}

// FromConfig returns the calibration stored in cfg.
func FromConfig(cfg config.CalibrationConfig) Calibration {
	return Calibration{
		Offset: cfg.Offset,
		Scale:  cfg.Scale,
		Unit:   cfg.Unit,
	}
}

// Calibrator supplies the calibration to apply to each reading.
type Calibrator interface {
	Calibration() Calibration
}

// Fixed is a Calibrator that never changes.
type Fixed Calibration

// Calibration returns c.
func (c Fixed) Calibration() Calibration {
	return Calibration(c)
}

// Converter is a function type that converts a Reading channel to a Weight channel.
type Converter func(in <-chan Reading) <-chan Weight

// NewConverter creates a converter that turns filter readings into weights.
// Readings taken while the filter is still filling carry no estimate and
// are skipped.
func NewConverter(cal Calibrator, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	return func(in <-chan Reading) <-chan Weight {
		out := make(chan Weight, bufSize)

		go func() {
			defer close(out)

			for r := range in {
				if r.Mode == filter.ModeFilling {
					continue
				}

				select {
				case out <- Convert(r, cal.Calibration()):
				case <-time.After(time.Second):
					log.Printf("Converter output channel full, dropping sample")
				}
			}
		}()

		return out
	}
}

// Convert applies cal to a single reading. A zero scale yields a zero weight.
func Convert(r Reading, cal Calibration) Weight {
	w := Weight{
		Timestamp: r.Timestamp,
		Stable:    r.Stable,
		Unit:      cal.Unit,
	}
	if cal.Scale == 0 {
		return w
	}

	w.Value = (r.Mean - cal.Offset) / cal.Scale
	w.Trend = r.Trend / cal.Scale
	return w
}
