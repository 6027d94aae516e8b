package timesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA(t *testing.T) {
	e := NewEMA(3) // alpha 0.5
	e.Add(10)
	assert.Equal(t, 10.0, e.Value)
	assert.Zero(t, e.Variance)

	e.Add(20)
	assert.Equal(t, 15.0, e.Value)
	assert.InDelta(t, 25.0, e.Variance, 1e-9)
	assert.InDelta(t, 5.0, e.StandardDeviation, 1e-9)
}

func TestRTTIgnoresFutureTimestamps(t *testing.T) {
	r := NewRTT(10)
	r.Add(1.0, 2.0)
	assert.Zero(t, r.Value())
	r.Add(1.2, 1.0)
	assert.InDelta(t, 0.2, r.Value(), 1e-9)
}

func TestElapsed(t *testing.T) {
	last := 0.0
	assert.False(t, Elapsed(0.05, 0.1, &last))
	assert.True(t, Elapsed(0.13, 0.1, &last))
	assert.InDelta(t, 0.1, last, 1e-9)
	assert.False(t, Elapsed(0.19, 0.1, &last))
	assert.True(t, Elapsed(0.2, 0.1, &last))
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(1)
	c.Advance(500 * time.Millisecond)
	assert.Equal(t, 1.5, c.Seconds())
	c.Set(3)
	assert.Equal(t, 3.0, c.Seconds())
}

func TestTimescale(t *testing.T) {
	assert.InDelta(t, 1.02, Timescale(2, 0.02, 0.04, -1, 1), 1e-9)
	assert.InDelta(t, 0.96, Timescale(-2, 0.02, 0.04, -1, 1), 1e-9)
	assert.Equal(t, 1.0, Timescale(0.5, 0.02, 0.04, -1, 1))
}

func TestDynamicAdjustment(t *testing.T) {
	assert.InDelta(t, 2.5, DynamicAdjustment(0.1, 0.05, 1), 1e-9)
}

func TestSample(t *testing.T) {
	snaps := []Snapshot{{RemoteTime: 1}, {RemoteTime: 2}, {RemoteTime: 3}}

	from, to, f := Sample(snaps, 2.5)
	assert.Equal(t, 1, from)
	assert.Equal(t, 2, to)
	assert.InDelta(t, 0.5, f, 1e-9)

	from, to, _ = Sample(snaps, 0.5)
	assert.Equal(t, 0, from)
	assert.Equal(t, 0, to)

	from, to, _ = Sample(snaps, 10)
	assert.Equal(t, 2, from)
	assert.Equal(t, 2, to)
}

func TestTimelineStartsBufferTimeBehind(t *testing.T) {
	cfg := DefaultTimelineConfig(10)
	cfg.DynamicAdjustment = false
	tl := NewTimeline(cfg)

	require.True(t, tl.Insert(Snapshot{RemoteTime: 5, LocalTime: 1}))
	assert.InDelta(t, 5-tl.BufferTime(), tl.Time(), 1e-9)
	assert.InDelta(t, 0.2, tl.BufferTime(), 1e-9)

	assert.False(t, tl.Insert(Snapshot{RemoteTime: 5, LocalTime: 1.1}))
	assert.Equal(t, 1, tl.Len())
}

func TestTimelineStepDropsOldSnapshots(t *testing.T) {
	cfg := DefaultTimelineConfig(10)
	cfg.DynamicAdjustment = false
	tl := NewTimeline(cfg)

	for i := 0; i < 5; i++ {
		tl.Insert(Snapshot{RemoteTime: float64(i) * 0.1, LocalTime: float64(i) * 0.1})
	}
	tl.Step(0.45)
	assert.Less(t, tl.Len(), 5)
	assert.Greater(t, tl.Time(), 0.0)
}

func TestTimelineBufferLimit(t *testing.T) {
	cfg := DefaultTimelineConfig(10)
	cfg.BufferLimit = 2
	tl := NewTimeline(cfg)

	assert.True(t, tl.Insert(Snapshot{RemoteTime: 1}))
	assert.True(t, tl.Insert(Snapshot{RemoteTime: 2}))
	assert.False(t, tl.Insert(Snapshot{RemoteTime: 3}))
}
