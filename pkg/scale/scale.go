// Package scale wires a front-end, the acquisition scheduler and the weight
// pipeline together from a Config.
package scale

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itohio/loadcell/pkg/acquire"
	"github.com/itohio/loadcell/pkg/adc"
	"github.com/itohio/loadcell/pkg/config"
	"github.com/itohio/loadcell/pkg/filter"
	"github.com/itohio/loadcell/pkg/hx711"
	"github.com/itohio/loadcell/pkg/meter"
	"github.com/itohio/loadcell/pkg/nau7802"
	"github.com/itohio/loadcell/pkg/sample"
)

// Scale is a load cell front-end with filtering and calibration.
type Scale struct {
	cfg   *config.Config
	src   adc.Source
	sched *acquire.Scheduler

	mu   sync.Mutex
	cal  sample.Calibration
	subs map[chan sample.Reading]struct{}
}

// Open creates the front-end named by cfg.Device.Kind and wraps it in a Scale.
func Open(cfg *config.Config) (*Scale, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}

	s, err := New(src, cfg)
	if err != nil {
		return nil, errors.Join(err, src.Close())
	}
	return s, nil
}

// NewSource creates the sample source selected by cfg.
func NewSource(cfg *config.Config) (adc.Source, error) {
	switch cfg.Device.Kind {
	case config.DeviceMock:
		mockCfg := cfg.Mock
		return adc.NewMock(&mockCfg), nil

	case config.DeviceSerial:
		s := adc.NewSerial(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.MaxRate)
		if err := s.SetGain(cfg.HX711.Gain); err != nil {
			return nil, err
		}
		return s, nil

	case config.DeviceHX711:
		gain, err := hx711.ParseGain(cfg.HX711.Gain)
		if err != nil {
			return nil, err
		}
		d, err := hx711.Open(cfg.HX711.Clock, cfg.HX711.Data, gain)
		if err != nil {
			return nil, err
		}
		return d, nil

	case config.DeviceNAU7802:
		n := cfg.NAU7802
		d, err := nau7802.Open(n.Bus, n.Addr, n.Gain, n.SPS, n.DRDY)
		if err != nil {
			return nil, err
		}
		return d, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDevice, cfg.Device.Kind)
	}
}

// Profile returns the filter profile for cfg: the device preset with any
// non-zero filter settings applied on top.
func Profile(cfg *config.Config) filter.Profile {
	p := filter.HX711
	if cfg.Device.Kind == config.DeviceNAU7802 {
		p = filter.NAU7802
	}

	f := cfg.Filter
	if f.WindowSize != 0 {
		p.WindowSize = f.WindowSize
	}
	if f.StableThreshold != 0 {
		p.StableThreshold = f.StableThreshold
	}
	if f.RecheckThreshold != 0 {
		p.RecheckThreshold = f.RecheckThreshold
	}
	if f.RecheckAccept != 0 {
		p.RecheckAccept = f.RecheckAccept
	}
	if f.Recheck != nil {
		p.Recheck = *f.Recheck
	}
	return p
}

// New wraps an existing source. The source is owned by the Scale from here on.
func New(src adc.Source, cfg *config.Config) (*Scale, error) {
	sched, err := acquire.New(src, Profile(cfg),
		acquire.WithPollInterval(cfg.Acquisition.PollInterval),
		acquire.WithPowerOnTimeout(cfg.Acquisition.PowerOnTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scale{
		cfg:   cfg,
		src:   src,
		sched: sched,
		cal:   sample.FromConfig(cfg.Calibration),
		subs:  make(map[chan sample.Reading]struct{}),
	}
	sched.OnUpdate(s.publish)

	return s, nil
}

// Start powers the front-end on, waits for its first conversion and starts
// acquisition at the configured frequency, or the device maximum when unset.
func (s *Scale) Start(ctx context.Context) error {
	if err := s.sched.PowerOn(ctx); err != nil {
		return err
	}

	freq := s.cfg.Acquisition.Frequency
	if freq == 0 {
		freq = s.sched.MaxSampleRate()
	}
	return s.sched.Start(freq)
}

// Stop halts acquisition and powers the front-end down.
func (s *Scale) Stop() error {
	s.sched.Stop()
	return s.sched.PowerOff()
}

// Close stops everything, closes all subscriptions and releases the source.
func (s *Scale) Close() error {
	err := s.sched.Close()

	s.mu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()

	return err
}

// Scheduler exposes the acquisition scheduler.
func (s *Scale) Scheduler() *acquire.Scheduler {
	return s.sched
}

// Source exposes the sample source.
func (s *Scale) Source() adc.Source {
	return s.src
}

// Reading returns the latest filter output.
func (s *Scale) Reading() filter.Reading {
	return s.sched.Reading()
}

// Weight returns the latest filter output converted to weight.
func (s *Scale) Weight() sample.Weight {
	return sample.Convert(sample.Reading{Timestamp: time.Now(), Reading: s.sched.Reading()}, s.Calibration())
}

// Calibration returns the calibration in use.
func (s *Scale) Calibration() sample.Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cal
}

// SetCalibration replaces the calibration in use.
func (s *Scale) SetCalibration(cal sample.Calibration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cal = cal
}

// Subscribe returns a channel receiving every filter output and a function
// that cancels the subscription and closes the channel. Readings are dropped
// while the channel is full.
func (s *Scale) Subscribe(bufSize int) (<-chan sample.Reading, func()) {
	if bufSize <= 0 {
		bufSize = sample.DefaultBufferSize
	}
	ch := make(chan sample.Reading, bufSize)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// Weights returns a channel of calibrated weights and its cancel function.
// Calibration changes apply to weights converted afterwards.
func (s *Scale) Weights(bufSize int) (<-chan sample.Weight, func()) {
	in, cancel := s.Subscribe(bufSize)
	return sample.NewConverter(s, bufSize)(in), cancel
}

// Meter attaches a load-change meter to a new weight subscription. The meter
// stops updating once the returned cancel function is called.
func (s *Scale) Meter(bufSize int) (*meter.Meter, func()) {
	m := meter.New(s.cfg.Meter)
	weights, cancel := s.Weights(bufSize)
	go m.ProcessWeights(weights)
	return m, cancel
}

// Tare averages n stable readings with nothing on the scale and makes that
// the zero point.
func (s *Scale) Tare(ctx context.Context, n int) error {
	in, cancel := s.Subscribe(n)
	defer cancel()

	cal, err := s.Calibration().Zero(ctx, in, n)
	if err != nil {
		return err
	}
	s.SetCalibration(cal)
	return nil
}

// Calibrate averages n stable readings with known units on the scale and
// derives the scale factor. Call after Tare.
func (s *Scale) Calibrate(ctx context.Context, known float64, n int) error {
	in, cancel := s.Subscribe(n)
	defer cancel()

	cal, err := s.Calibration().Span(ctx, in, known, n)
	if err != nil {
		return err
	}
	s.SetCalibration(cal)
	return nil
}

// publish fans a filter output out to all subscribers.
func (s *Scale) publish(r filter.Reading) {
	stamped := sample.Reading{Timestamp: time.Now(), Reading: r}

	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- stamped:
		default:
			log.Printf("Subscriber channel full, dropping reading")
		}
	}
}
