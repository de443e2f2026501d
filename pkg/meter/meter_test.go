package meter

import (
	"testing"
	"time"

	"github.com/itohio/loadcell/pkg/config"
	"github.com/itohio/loadcell/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0)

func weight(sec int, value float64, stable bool) sample.Weight {
	return sample.Weight{
		Timestamp: t0.Add(time.Duration(sec) * time.Second),
		Value:     value,
		Stable:    stable,
		Unit:      "g",
	}
}

func newMeter() *Meter {
	return New(config.MeterConfig{Window: 10 * time.Second, MinChange: 5})
}

func TestNew(t *testing.T) {
	m := New(config.Default().Meter)

	assert.NotNil(t, m)
	assert.Empty(t, m.Weights())
	assert.Empty(t, m.Loads())
	_, ok := m.Settled()
	assert.False(t, ok)
}

func TestProcessWeight_FirstStableSettles(t *testing.T) {
	m := newMeter()

	m.processWeight(weight(0, 3, false))
	_, ok := m.Settled()
	assert.False(t, ok, "unstable weights never settle")

	m.processWeight(weight(1, 0.5, true))
	settled, ok := m.Settled()
	require.True(t, ok)
	assert.Equal(t, 0.5, settled)
	assert.Empty(t, m.Loads(), "first settle is not a load change")
}

func TestProcessWeight_DetectsLoadAndUnload(t *testing.T) {
	m := newMeter()

	m.processWeight(weight(0, 0, true))
	m.processWeight(weight(1, 40, false))
	m.processWeight(weight(2, 95, false))
	m.processWeight(weight(3, 100, true))
	m.processWeight(weight(4, 100.2, true))
	m.processWeight(weight(5, 0, true))

	loads := m.Loads()
	require.Len(t, loads, 2)

	assert.Equal(t, weight(1, 0, false).Timestamp, loads[0].StartTime)
	assert.Equal(t, weight(3, 0, false).Timestamp, loads[0].EndTime)
	assert.Equal(t, 0.0, loads[0].From)
	assert.Equal(t, 100.0, loads[0].To)
	assert.Equal(t, 100.0, loads[0].Delta())

	// No unstable weights in between: the change starts where it settles.
	assert.Equal(t, loads[1].EndTime, loads[1].StartTime)
	assert.Equal(t, -100.0, loads[1].Delta())

	settled, _ := m.Settled()
	assert.Equal(t, 0.0, settled)
}

func TestProcessWeight_IgnoresSmallChanges(t *testing.T) {
	m := newMeter()

	m.processWeight(weight(0, 10, true))
	m.processWeight(weight(1, 14, false))
	m.processWeight(weight(2, 14.9, true))

	assert.Empty(t, m.Loads())
	settled, _ := m.Settled()
	assert.Equal(t, 10.0, settled)
}

func TestProcessWeight_TimeWindow(t *testing.T) {
	m := newMeter()

	m.processWeight(weight(0, 0, true))
	m.processWeight(weight(1, 50, true))
	for sec := 2; sec <= 15; sec++ {
		m.processWeight(weight(sec, 50, true))
	}

	weights := m.Weights()
	require.NotEmpty(t, weights)
	assert.True(t, weights[0].Timestamp.After(t0.Add(5*time.Second)), "old weights trimmed")
	assert.Equal(t, t0.Add(15*time.Second), weights[len(weights)-1].Timestamp)
	assert.Empty(t, m.Loads(), "load change at 1s fell out of the window")
}

func TestOnUpdate(t *testing.T) {
	m := newMeter()

	var gotWeights []sample.Weight
	var gotLoads []Load
	m.OnUpdate(func(weights []sample.Weight, loads []Load) {
		gotWeights = weights
		gotLoads = loads
	})

	m.processWeight(weight(0, 0, true))
	m.processWeight(weight(1, 20, true))

	assert.Len(t, gotWeights, 2)
	assert.Len(t, gotLoads, 1)

	// Callback data is a copy
	gotWeights[0].Value = 999
	assert.Equal(t, 0.0, m.Weights()[0].Value)
}
