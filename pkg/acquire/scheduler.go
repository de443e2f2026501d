// Package acquire bridges a periodic timer to the drift filter and owns the
// power lifecycle of the front-end.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itohio/loadcell/pkg/adc"
	"github.com/itohio/loadcell/pkg/filter"
)

const (
	// DefaultPollInterval is the ready poll period while powering on.
	DefaultPollInterval = 100 * time.Microsecond
	// DefaultPowerOnTimeout bounds the power-on wait.
	DefaultPowerOnTimeout = 5 * time.Second
)

var (
	// ErrNotPermitted is wrapped by every refused Start.
	ErrNotPermitted = errors.New("not permitted")
	// ErrPowerOnTimeout is returned when the converter never reports ready.
	ErrPowerOnTimeout = errors.New("timed out waiting for converter ready")
	// ErrNoSource is returned by New without a sample source.
	ErrNoSource = errors.New("no sample source")
)

// State is the power state of the front-end.
type State int

const (
	StateUninitialized State = iota
	StateConfigured
	StatePoweredOn
	StatePoweredOff
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StatePoweredOn:
		return "powered on"
	case StatePoweredOff:
		return "powered off"
	default:
		return "unknown"
	}
}

// An Option configures a Scheduler.
type Option func(s *Scheduler)

// WithPollInterval sets the ready poll period used by PowerOn.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithPowerOnTimeout bounds the PowerOn wait. Zero waits forever.
func WithPowerOnTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.powerOnTimeout = d
		}
	}
}

// Scheduler pulls samples from a Source on a periodic timer and feeds them
// through a Filter.
//
// A single mutex serializes the filter, the power state and the flags; it is
// held for one read and one filter update per tick. Update callbacks run
// without it, so they may call Stop.
type Scheduler struct {
	src            adc.Source
	pollInterval   time.Duration
	powerOnTimeout time.Duration

	mu       sync.Mutex
	filter   *filter.Filter
	state    State
	ready    bool // converter reported ready since power on
	periodic bool // acquisition timer armed
	cancel   context.CancelFunc

	callbacks []func(filter.Reading)
	cbMu      sync.RWMutex
}

// New creates a scheduler for src using filter profile p.
func New(src adc.Source, p filter.Profile, opts ...Option) (*Scheduler, error) {
	if src == nil {
		return nil, ErrNoSource
	}

	f, err := filter.New(p)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		src:            src,
		pollInterval:   DefaultPollInterval,
		powerOnTimeout: DefaultPowerOnTimeout,
		filter:         f,
		state:          StateConfigured,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// PowerOn powers the front-end and blocks until it reports a conversion ready.
// It is a no-op when already powered or closed.
//
// The wait ends with ErrPowerOnTimeout after the configured timeout, or with
// ctx.Err(). After a timeout the scheduler stays powered but not ready, so
// Start is refused and further PowerOn calls are no-ops: call PowerOff before
// retrying. With a zero timeout and a context that never ends, a converter
// that never becomes ready blocks the caller forever.
func (s *Scheduler) PowerOn(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConfigured, StatePoweredOff:
	case StateUninitialized, StatePoweredOn:
		s.mu.Unlock()
		return nil
	}

	if err := s.src.PowerOn(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to power on: %w", err)
	}
	s.state = StatePoweredOn
	s.ready = false
	s.mu.Unlock()

	if s.powerOnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.powerOnTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for !s.src.Ready() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %v", ErrPowerOnTimeout, s.powerOnTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}

	s.mu.Lock()
	if s.state == StatePoweredOn {
		s.ready = true
	}
	s.mu.Unlock()

	return nil
}

// PowerOff stops acquisition and powers the front-end down.
// It is a no-op unless powered.
func (s *Scheduler) PowerOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StatePoweredOn:
	case StateUninitialized, StateConfigured, StatePoweredOff:
		return nil
	}

	s.stopLocked()
	s.state = StatePoweredOff
	s.ready = false

	if err := s.src.PowerOff(); err != nil {
		return fmt.Errorf("failed to power off: %w", err)
	}
	return nil
}

// Start arms periodic acquisition at freq Hz and resets the filter.
// It fails unless the converter is powered and ready, acquisition is not
// already running, and 0 < freq <= the source's maximum sample rate.
func (s *Scheduler) Start(freq float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StatePoweredOn:
		if !s.ready {
			return fmt.Errorf("%w: converter not ready", ErrNotPermitted)
		}
	case StateUninitialized, StateConfigured, StatePoweredOff:
		return fmt.Errorf("%w: device %s", ErrNotPermitted, s.state)
	}

	if s.periodic {
		return fmt.Errorf("%w: acquisition already running", ErrNotPermitted)
	}

	maxRate := s.src.MaxSampleRate()
	if !(freq > 0 && freq <= maxRate) {
		return fmt.Errorf("%w: frequency %v outside (0, %v]", ErrNotPermitted, freq, maxRate)
	}

	s.filter.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.periodic = true

	go s.loop(ctx, time.Duration(float64(time.Second)/freq))

	return nil
}

// Stop disarms periodic acquisition. It returns false if nothing was running.
// Stop may be called from an update callback.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Scheduler) stopLocked() bool {
	if !s.periodic {
		return false
	}
	s.cancel()
	s.cancel = nil
	s.periodic = false
	return true
}

// Close stops acquisition, powers down and releases the source.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	var err error
	if s.state == StatePoweredOn {
		err = s.src.PowerOff()
	}
	s.state = StateUninitialized
	s.ready = false

	return errors.Join(err, s.src.Close())
}

// loop fires tick once per period until ctx ends.
func (s *Scheduler) loop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r, ok := s.tick(ctx); ok {
				s.notifyCallbacks(ctx, r)
			}
		}
	}
}

// tick reads at most one sample and feeds it to the filter.
// It reports whether the filter accepted a sample.
func (s *Scheduler) tick(ctx context.Context) (filter.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil || !s.periodic || !s.src.Ready() {
		return filter.Reading{}, false
	}

	raw, err := s.src.ReadRaw()
	if err != nil {
		if !errors.Is(err, adc.ErrNotReady) {
			log.Printf("Failed to read sample: %v", err)
		}
		return filter.Reading{}, false
	}

	if raw == adc.Saturated {
		return filter.Reading{}, false
	}

	return s.filter.Add(raw), true
}

// Reading returns the latest filter output.
func (s *Scheduler) Reading() filter.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Reading()
}

// Window returns a copy of the filter's sample history, oldest first.
func (s *Scheduler) Window() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.filter.Window()
	result := make([]float64, len(w))
	copy(result, w)
	return result
}

// Profile returns the filter profile in use.
func (s *Scheduler) Profile() filter.Profile {
	return s.filter.Profile()
}

// State returns the power state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether the converter came up after the last PowerOn.
func (s *Scheduler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Acquiring reports whether periodic acquisition is running.
func (s *Scheduler) Acquiring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periodic
}

// MaxSampleRate returns the source's rate ceiling.
func (s *Scheduler) MaxSampleRate() float64 {
	return s.src.MaxSampleRate()
}

// OnUpdate registers a callback invoked after every accepted sample.
// The callback should return quickly.
func (s *Scheduler) OnUpdate(callback func(filter.Reading)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// notifyCallbacks invokes all registered callbacks without holding s.mu.
// Acquisition is rechecked before each callback. A Stop racing with a
// dispatch may still let that one update through.
func (s *Scheduler) notifyCallbacks(ctx context.Context, r filter.Reading) {
	s.cbMu.RLock()
	callbacks := make([]func(filter.Reading), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		if ctx.Err() != nil || !s.Acquiring() {
			return
		}
		if cb != nil {
			cb(r)
		}
	}
}
