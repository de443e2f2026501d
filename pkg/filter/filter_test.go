package filter

import (
	"testing"

	"github.com/itohio/loadcell/pkg/adc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spike lifts one sample far enough above a flat 11-sample window to push
// the residual past the HX711 recheck threshold (about 0.17 * spike).
const spike = 100000

func newFilter(t *testing.T, p Profile) *Filter {
	t.Helper()
	f, err := New(p)
	require.NoError(t, err)
	return f
}

func addAll(f *Filter, samples ...adc.RawSample) Reading {
	var r Reading
	for _, s := range samples {
		r = f.Add(s)
	}
	return r
}

func repeat(v adc.RawSample, n int) []adc.RawSample {
	out := make([]adc.RawSample, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Profile)
		wantErr bool
	}{
		{name: "hx711 preset", mutate: func(p *Profile) {}},
		{name: "nau7802 preset", mutate: func(p *Profile) { *p = NAU7802 }},
		{name: "even window", mutate: func(p *Profile) { p.WindowSize = 10 }, wantErr: true},
		{name: "window too small", mutate: func(p *Profile) { p.WindowSize = 1 }, wantErr: true},
		{name: "zero stable threshold", mutate: func(p *Profile) { p.StableThreshold = 0 }, wantErr: true},
		{name: "recheck without threshold", mutate: func(p *Profile) { p.RecheckThreshold = 0 }, wantErr: true},
		{name: "recheck without accept", mutate: func(p *Profile) { p.RecheckAccept = -1 }, wantErr: true},
		{
			name: "recheck disabled ignores thresholds",
			mutate: func(p *Profile) {
				p.Recheck = false
				p.RecheckThreshold = 0
				p.RecheckAccept = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := HX711
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidProfile)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_InvalidProfile(t *testing.T) {
	f, err := New(Profile{WindowSize: 2, StableThreshold: 1})
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.Nil(t, f)
}

func TestFilter_Filling(t *testing.T) {
	f := newFilter(t, HX711)

	r := addAll(f, repeat(1000, 10)...)
	assert.Equal(t, ModeFilling, r.Mode)
	assert.Equal(t, 10, r.Count)
	assert.False(t, r.Stable)
	assert.Zero(t, r.Mean)
	assert.Zero(t, r.Trend)
	assert.Len(t, f.Window(), 10)
}

func TestFilter_IdenticalSamples(t *testing.T) {
	f := newFilter(t, HX711)

	r := addAll(f, repeat(1000, 11)...)
	assert.Equal(t, ModeTracking, r.Mode)
	assert.True(t, r.Stable)
	assert.InDelta(t, 0, r.Trend, 1e-9)
	assert.InDelta(t, 1000, r.Mean, 1e-9)
	assert.InDelta(t, 1000, r.Intercept, 1e-9)
	assert.InDelta(t, 0, r.Residual, 1e-9)
}

func TestFilter_ArithmeticProgression(t *testing.T) {
	f := newFilter(t, HX711)

	var samples []adc.RawSample
	for i := 0; i <= 10; i++ {
		samples = append(samples, adc.RawSample(i*100))
	}

	r := addAll(f, samples...)
	assert.InDelta(t, 100, r.Trend, 1e-9)
	assert.InDelta(t, 500, r.Mean, 1e-9)
	assert.InDelta(t, 0, r.Residual, 1e-9)
	assert.True(t, r.Stable)

	// Keep ramping: the window slides and the trend holds
	r = addAll(f, 1100, 1200)
	assert.InDelta(t, 100, r.Trend, 1e-9)
	assert.InDelta(t, 700, r.Mean, 1e-9)
	assert.Equal(t, []float64{200, 300, 400, 500, 600, 700, 800, 900, 1000, 1100, 1200}, f.Window())
}

func TestFilter_NoisyIsUnstable(t *testing.T) {
	f := newFilter(t, HX711)

	var samples []adc.RawSample
	for i := 0; i < 11; i++ {
		if i%2 == 0 {
			samples = append(samples, 1300)
		} else {
			samples = append(samples, 700)
		}
	}

	r := addAll(f, samples...)
	assert.Greater(t, r.Residual, HX711.StableThreshold)
	assert.Less(t, r.Residual, HX711.RecheckThreshold)
	assert.False(t, r.Stable)
	assert.Equal(t, ModeTracking, r.Mode)
}

func TestFilter_SpikeEntersRecheck(t *testing.T) {
	f := newFilter(t, HX711)
	addAll(f, repeat(1000, 11)...)

	r := f.Add(1000 + spike)
	assert.Equal(t, ModeRechecking, r.Mode)
	assert.True(t, r.Rechecking())
	assert.Greater(t, r.Residual, HX711.RecheckThreshold)
	assert.False(t, r.Stable)
}

func TestFilter_SpikeCompletingWindowIsKept(t *testing.T) {
	f := newFilter(t, HX711)
	addAll(f, repeat(1000, 10)...)

	// Outlier checks start with the first sliding sample
	r := f.Add(1000 + spike)
	assert.Equal(t, ModeTracking, r.Mode)
	assert.Greater(t, r.Residual, HX711.RecheckThreshold)
	assert.False(t, r.Stable)
	assert.Contains(t, f.Window(), float64(1000+spike))

	f.Add(1000)
	assert.Contains(t, f.Window(), float64(1000+spike))
}

func TestFilter_TransientSpikeDropped(t *testing.T) {
	f := newFilter(t, HX711)
	addAll(f, repeat(1000, 11)...)
	f.Add(1000 + spike)

	r := f.Add(1000)
	assert.Equal(t, ModeTracking, r.Mode)
	assert.True(t, r.Stable)
	assert.InDelta(t, 1000, r.Mean, 1e-9)
	assert.InDelta(t, 0, r.Residual, 1e-9)
	assert.Equal(t, 13, r.Count)

	// The spike is gone and the window is still full
	assert.Len(t, f.Window(), 11)
	assert.NotContains(t, f.Window(), float64(1000+spike))
}

func TestFilter_ConfirmedStepKept(t *testing.T) {
	f := newFilter(t, HX711)
	addAll(f, repeat(1000, 11)...)
	f.Add(1000 + spike)

	// The following sample confirms the step, so the suspect stays
	r := f.Add(1000 + spike)
	assert.Equal(t, ModeTracking, r.Mode, "recheck lasts exactly one sample")
	assert.False(t, r.Stable)
	assert.InDelta(t, 9.0*spike/110, r.Trend, 1e-6)

	want := append([]float64{}, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000+spike, 1000+spike)
	assert.Equal(t, want, f.Window())

	// Tracking resumes and evaluates the next sample normally
	r = f.Add(1000 + spike)
	assert.NotEqual(t, ModeFilling, r.Mode)
}

func TestFilter_NAU7802NeverRechecks(t *testing.T) {
	f := newFilter(t, NAU7802)

	r := addAll(f, repeat(-5000, 21)...)
	require.Equal(t, ModeTracking, r.Mode)
	assert.True(t, r.Stable)
	assert.InDelta(t, -5000, r.Mean, 1e-9)

	r = f.Add(-5000 + 5*spike)
	assert.Equal(t, ModeTracking, r.Mode)
	assert.False(t, r.Stable)
	assert.Contains(t, f.Window(), float64(-5000+5*spike))
}

func TestFilter_NAU7802Threshold(t *testing.T) {
	f := newFilter(t, NAU7802)
	assert.Equal(t, 21, f.Profile().WindowSize)

	// Residual of 210 sits between the two devices' stable thresholds.
	var samples []adc.RawSample
	for i := 0; i < 21; i++ {
		if i%2 == 0 {
			samples = append(samples, 210)
		} else {
			samples = append(samples, -210)
		}
	}

	r := addAll(f, samples...)
	assert.Greater(t, r.Residual, NAU7802.StableThreshold)
	assert.False(t, r.Stable)
}

func TestFilter_Reset(t *testing.T) {
	f := newFilter(t, HX711)
	addAll(f, repeat(1000, 11)...)
	f.Add(1000 + spike)
	require.True(t, f.Reading().Rechecking())

	f.Reset()
	assert.Equal(t, Reading{}, f.Reading())
	assert.Empty(t, f.Window())

	// Refills from scratch
	r := addAll(f, repeat(42, 11)...)
	assert.Equal(t, ModeTracking, r.Mode)
	assert.InDelta(t, 42, r.Mean, 1e-9)
	assert.Equal(t, 11, r.Count)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "filling", ModeFilling.String())
	assert.Equal(t, "tracking", ModeTracking.String())
	assert.Equal(t, "rechecking", ModeRechecking.String())
	assert.Equal(t, "unknown", Mode(7).String())
}
