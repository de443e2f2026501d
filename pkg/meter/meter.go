package meter

import (
	"math"
	"sync"
	"time"

	"github.com/itohio/loadcell/pkg/config"
	"github.com/itohio/loadcell/pkg/sample"
)

var _ LoadMeter = (*Meter)(nil)

// Load represents a detected change of the settled weight.
type Load struct {
	StartTime time.Time // first unstable weight, or EndTime if none was seen
	EndTime   time.Time // weight settled again
	From      float64   // settled weight before the change
	To        float64   // settled weight after the change
}

// Delta returns the weight added (positive) or removed (negative).
func (l Load) Delta() float64 {
	return l.To - l.From
}

// LoadMeter processes weights, keeps a time window of them and detects
// load changes.
type LoadMeter interface {
	ProcessWeights(input <-chan sample.Weight)
	Weights() []sample.Weight                             // Weights within the window, oldest first
	Loads() []Load                                        // Load changes that ended within the window
	Settled() (float64, bool)                             // Last settled weight
	OnUpdate(func(weights []sample.Weight, loads []Load)) // Register callback for updates
}

// Meter implements LoadMeter.
//
// A load change is reported when a stable weight differs from the last
// settled weight by at least the configured minimum. Unstable weights in
// between mark when the change began.
type Meter struct {
	// FIFO buffers ordered oldest first, trimmed by timestamp
	weights []sample.Weight
	loads   []Load

	mu sync.RWMutex

	callbacks []func(weights []sample.Weight, loads []Load)
	cbMu      sync.RWMutex

	// Configuration
	window    time.Duration
	minChange float64

	// Detection state
	settled    float64
	hasSettled bool
	moving     bool
	moveStart  time.Time

	// Shutdown control
	shutdown bool // Set when the input channel closes, prevents further callbacks
}

// New creates a new Meter.
func New(cfg config.MeterConfig) *Meter {
	return &Meter{
		weights:   make([]sample.Weight, 0),
		loads:     make([]Load, 0),
		window:    cfg.Window,
		minChange: cfg.MinChange,
	}
}

// ProcessWeights consumes weights until the input channel closes, then
// stops sending callbacks.
func (m *Meter) ProcessWeights(input <-chan sample.Weight) {
	for w := range input {
		m.processWeight(w)
	}

	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

// processWeight appends a weight, trims the window and updates load detection.
func (m *Meter) processWeight(w sample.Weight) {
	m.mu.Lock()

	m.weights = append(m.weights, w)

	// Remove weights outside the time window
	cutoff := w.Timestamp.Add(-m.window)
	cutoffIndex := 0
	for i, old := range m.weights {
		if old.Timestamp.After(cutoff) {
			cutoffIndex = i
			break
		}
	}
	if cutoffIndex > 0 {
		m.weights = m.weights[cutoffIndex:]
	}

	loads := m.loads[:0]
	for _, l := range m.loads {
		if l.EndTime.After(cutoff) {
			loads = append(loads, l)
		}
	}
	m.loads = loads

	m.updateLoads(w)

	shouldNotify := !m.shutdown
	m.mu.Unlock()

	if shouldNotify {
		m.notifyCallbacks()
	}
}

// updateLoads advances load detection with the newest weight.
func (m *Meter) updateLoads(w sample.Weight) {
	if !w.Stable {
		if !m.moving {
			m.moving = true
			m.moveStart = w.Timestamp
		}
		return
	}

	start := w.Timestamp
	if m.moving {
		start = m.moveStart
	}
	m.moving = false

	if !m.hasSettled {
		m.settled = w.Value
		m.hasSettled = true
		return
	}

	if math.Abs(w.Value-m.settled) < m.minChange {
		return
	}

	m.loads = append(m.loads, Load{
		StartTime: start,
		EndTime:   w.Timestamp,
		From:      m.settled,
		To:        w.Value,
	})
	m.settled = w.Value
}

// Weights returns a copy of the weights within the window.
func (m *Meter) Weights() []sample.Weight {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]sample.Weight, len(m.weights))
	copy(result, m.weights)
	return result
}

// Loads returns a copy of the load changes within the window.
func (m *Meter) Loads() []Load {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Load, len(m.loads))
	copy(result, m.loads)
	return result
}

// Settled returns the last settled weight and whether there is one.
func (m *Meter) Settled() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settled, m.hasSettled
}

// OnUpdate registers a callback invoked after every processed weight.
// The callback should copy data quickly and return as fast as possible.
func (m *Meter) OnUpdate(callback func(weights []sample.Weight, loads []Load)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ResetShutdown allows callbacks again before a new input chain is attached.
func (m *Meter) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

// notifyCallbacks invokes all registered callbacks with copies of the current data.
func (m *Meter) notifyCallbacks() {
	weights := m.Weights()
	loads := m.Loads()

	m.cbMu.RLock()
	callbacks := make([]func(weights []sample.Weight, loads []Load), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(weights, loads)
		}
	}
}
