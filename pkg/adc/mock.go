package adc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/loadcell/pkg/config"
)

// spikeAmplitude is the code offset of an injected spike, well above any
// recheck threshold.
const spikeAmplitude = 200000

// Mock simulates a load cell front-end for testing and development.
//
// Codes are computed in float32: its 24-bit mantissa holds every 24-bit
// conversion exactly, like the converters themselves.
type Mock struct {
	cfg *config.MockConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	powered bool

	// Simulation state
	n      int
	load   float32
	latest atomic.Int32
	ready  atomic.Bool
}

// NewMock creates a new simulated source.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			Bias:       1000,
			Noise:      20,
			SampleRate: 10 * time.Millisecond,
			MaxRate:    100,
		}
	}

	return &Mock{
		cfg:  cfg,
		load: float32(cfg.Load),
	}
}

// PowerOn starts the simulated conversions.
func (m *Mock) PowerOn() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.powered {
		return fmt.Errorf("already powered")
	}
	if m.cfg.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %v", m.cfg.SampleRate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.powered = true

	go m.generateSamples(ctx, m.done)

	return nil
}

// PowerOff stops the simulated conversions.
func (m *Mock) PowerOff() error {
	m.mu.Lock()
	if !m.powered {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.powered = false
	done := m.done
	m.mu.Unlock()

	<-done
	m.ready.Store(false)

	return nil
}

// Close stops the simulated device.
func (m *Mock) Close() error {
	return m.PowerOff()
}

// Ready reports a pending conversion.
func (m *Mock) Ready() bool {
	return m.ready.Load()
}

// ReadRaw consumes the pending conversion.
func (m *Mock) ReadRaw() (RawSample, error) {
	if !m.ready.Swap(false) {
		return 0, ErrNotReady
	}
	return RawSample(m.latest.Load()), nil
}

// MaxSampleRate returns the configured simulated rate limit.
func (m *Mock) MaxSampleRate() float64 {
	return m.cfg.MaxRate
}

// SetLoad sets the code offset of the simulated load.
func (m *Mock) SetLoad(codes float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.load = float32(codes)
}

// generateSamples produces one conversion per sample period.
func (m *Mock) generateSamples(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.latest.Store(int32(m.generateSample()))
			m.ready.Store(true)
		}
	}
}

// generateSample computes the next simulated conversion.
func (m *Mock) generateSample() RawSample {
	m.mu.Lock()
	m.n++
	n := m.n
	load := m.load
	m.mu.Unlock()

	t := float32(n)
	v := float32(m.cfg.Bias) + load + float32(m.cfg.Drift)*t

	// Two incommensurate tones make a cheap, repeatable noise source.
	v += (math32.Sin(t*1.7) + math32.Cos(t*2.3)) * float32(m.cfg.Noise) * 0.5

	if m.cfg.SpikeEvery > 0 && n%m.cfg.SpikeEvery == 0 {
		v += spikeAmplitude
	}

	return clampCode(v)
}

// clampCode rounds v to the nearest 24-bit code, saturating at the rails.
func clampCode(v float32) RawSample {
	v = math32.Round(v)
	if v >= float32(MaxSample) {
		return Saturated
	}
	if v <= float32(MinSample) {
		return MinSample
	}
	return RawSample(v)
}
