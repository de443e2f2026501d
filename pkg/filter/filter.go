package filter

import (
	"errors"
	"fmt"
	"log"

	"github.com/itohio/loadcell/pkg/adc"
)

// ErrInvalidProfile is returned by New for profiles no filter can run with.
var ErrInvalidProfile = errors.New("invalid filter profile")

// Mode is the filter's position in its fill/track/recheck cycle.
type Mode int

const (
	ModeFilling    Mode = iota // window not yet primed
	ModeTracking               // steady-state regression
	ModeRechecking             // last sample is a suspected spike
)

func (m Mode) String() string {
	switch m {
	case ModeFilling:
		return "filling"
	case ModeTracking:
		return "tracking"
	case ModeRechecking:
		return "rechecking"
	default:
		return "unknown"
	}
}

// Profile holds the device-specific calibration of a Filter.
type Profile struct {
	WindowSize       int     // odd, at least 3
	StableThreshold  float64 // residual below which the reading is stable
	RecheckThreshold float64 // residual above which the newest sample is suspect
	RecheckAccept    float64 // residual below which dropping the suspect is accepted
	Recheck          bool    // enables the spike recheck policy
}

// HX711 is the profile of the bit-banged 24-bit front-end.
var HX711 = Profile{
	WindowSize:       11,
	StableThreshold:  250,
	RecheckThreshold: 10000,
	RecheckAccept:    500,
	Recheck:          true,
}

// NAU7802 is the profile of the I2C 24-bit front-end.
var NAU7802 = Profile{
	WindowSize:      21,
	StableThreshold: 200,
}

// Validate checks that the profile describes a usable filter.
func (p Profile) Validate() error {
	if p.WindowSize < 3 || p.WindowSize%2 == 0 {
		return fmt.Errorf("%w: window size %d must be odd and at least 3", ErrInvalidProfile, p.WindowSize)
	}
	if p.StableThreshold <= 0 {
		return fmt.Errorf("%w: stable threshold %v must be positive", ErrInvalidProfile, p.StableThreshold)
	}
	if p.Recheck && (p.RecheckThreshold <= 0 || p.RecheckAccept <= 0) {
		return fmt.Errorf("%w: recheck thresholds must be positive", ErrInvalidProfile)
	}
	return nil
}

// Reading is a snapshot of the filter output.
type Reading struct {
	Mean      float64 // average of the window
	Trend     float64 // regression slope, codes per sample
	Intercept float64 // fitted value at the window centre
	Residual  float64 // mean absolute residual of the fit
	Stable    bool
	Mode      Mode
	Count     int // samples accepted since the last reset
}

// Rechecking reports whether the newest sample is awaiting confirmation.
func (r Reading) Rechecking() bool {
	return r.Mode == ModeRechecking
}

// Filter turns a stream of raw samples into a drift-tracking estimate.
// It keeps a sliding window, fits a line through it on every sample and
// rejects isolated spikes when the profile enables rechecking.
//
// Filter is not safe for concurrent use.
type Filter struct {
	profile Profile
	x       []float64
	window  *Window
	fit     Result
	reading Reading
}

// New creates a filter for the given profile.
func New(p Profile) (*Filter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Filter{
		profile: p,
		x:       Offsets(p.WindowSize),
		window:  NewWindow(p.WindowSize),
	}, nil
}

// Profile returns the profile the filter was built with.
func (f *Filter) Profile() Profile {
	return f.profile
}

// Reading returns the current output snapshot.
func (f *Filter) Reading() Reading {
	return f.reading
}

// Window exposes the sample history, oldest first. The slice is only valid
// until the next Add or Reset.
func (f *Filter) Window() []float64 {
	return f.window.Values()
}

// Reset empties the window and zeroes the output.
func (f *Filter) Reset() {
	f.window.Reset()
	f.fit = Result{}
	f.reading = Reading{}
}

// Add feeds one accepted sample through the filter and returns the new reading.
func (f *Filter) Add(s adc.RawSample) Reading {
	v := float64(s)
	f.reading.Count++

	switch f.reading.Mode {
	case ModeFilling:
		f.window.Append(v)
		if !f.window.Full() {
			return f.reading
		}
		f.update()
		f.reading.Mode = ModeTracking

	case ModeTracking:
		f.window.Append(v)
		f.update()
		f.suspect()

	case ModeRechecking:
		f.recheck(v)
		f.reading.Mode = ModeTracking
	}

	return f.reading
}

// recheck resolves a suspected spike using the sample that followed it.
// The suspect is first replaced by v; if that window fits well the suspect
// is dropped. Otherwise the suspect is kept and v slides in normally.
func (f *Filter) recheck(v float64) {
	suspect := f.window.ReplaceLast(v)
	f.fit = Fit(f.x, f.window.Values())
	if f.fit.Residual < f.profile.RecheckAccept {
		log.Printf("filter: dropped spike %d", int64(suspect))
		f.publish()
		return
	}

	f.window.ReplaceLast(suspect)
	f.window.Append(v)
	f.update()
}

// update refits the window and publishes the result.
func (f *Filter) update() {
	f.fit = Fit(f.x, f.window.Values())
	f.publish()
}

func (f *Filter) publish() {
	f.reading.Mean = Mean(f.window.Values())
	f.reading.Trend = f.fit.Slope
	f.reading.Intercept = f.fit.Intercept
	f.reading.Residual = f.fit.Residual
	f.reading.Stable = f.fit.Residual < f.profile.StableThreshold
}

// suspect flags the newest sample for recheck when the fit is too poor.
func (f *Filter) suspect() {
	if f.profile.Recheck && f.fit.Residual > f.profile.RecheckThreshold {
		f.reading.Mode = ModeRechecking
	}
}
