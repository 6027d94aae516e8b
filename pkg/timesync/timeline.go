package timesync

import (
	"slices"
)

// Snapshot pairs the remote send time of a batch with its local arrival time.
type Snapshot struct {
	RemoteTime float64
	LocalTime  float64
}

type TimelineConfig struct {
	SendInterval               float64
	BufferTimeMultiplier       float64
	BufferLimit                int
	CatchupSpeed               float64
	SlowdownSpeed              float64
	CatchupNegativeThreshold   float64
	CatchupPositiveThreshold   float64
	DriftEmaDuration           float64
	DeliveryTimeEmaDuration    float64
	DynamicAdjustment          bool
	DynamicAdjustmentTolerance float64
}

func DefaultTimelineConfig(sendRate int) TimelineConfig {
	return TimelineConfig{
		SendInterval:               1 / float64(sendRate),
		BufferTimeMultiplier:       2,
		BufferLimit:                32,
		CatchupSpeed:               0.02,
		SlowdownSpeed:              0.04,
		CatchupNegativeThreshold:   -1,
		CatchupPositiveThreshold:   1,
		DriftEmaDuration:           1,
		DeliveryTimeEmaDuration:    2,
		DynamicAdjustment:          true,
		DynamicAdjustmentTolerance: 1,
	}
}

// Timeline runs a local copy of the remote clock, a buffer time behind the
// newest snapshot, and nudges its speed to keep that distance.
type Timeline struct {
	cfg        TimelineConfig
	multiplier float64
	snapshots  []Snapshot
	local      float64
	timescale  float64
	drift      EMA
	delivery   EMA
}

func NewTimeline(cfg TimelineConfig) *Timeline {
	sendRate := 1 / cfg.SendInterval
	return &Timeline{
		cfg:        cfg,
		multiplier: cfg.BufferTimeMultiplier,
		timescale:  1,
		drift:      NewEMA(int(sendRate * cfg.DriftEmaDuration)),
		delivery:   NewEMA(int(sendRate * cfg.DeliveryTimeEmaDuration)),
	}
}

func (t *Timeline) BufferTime() float64 {
	return t.cfg.SendInterval * t.multiplier
}

// Time is the interpolated remote time.
func (t *Timeline) Time() float64 {
	return t.local
}

func (t *Timeline) Timescale() float64 {
	return t.timescale
}

func (t *Timeline) Len() int {
	return len(t.snapshots)
}

// Insert adds a snapshot and adjusts the timescale. Duplicate remote times
// and snapshots beyond the buffer limit are dropped and reported as false.
func (t *Timeline) Insert(s Snapshot) bool {
	if t.cfg.DynamicAdjustment {
		t.multiplier = DynamicAdjustment(t.cfg.SendInterval, t.delivery.StandardDeviation, t.cfg.DynamicAdjustmentTolerance)
	}

	if len(t.snapshots) == 0 {
		t.local = s.RemoteTime - t.BufferTime()
	}
	if len(t.snapshots) >= t.cfg.BufferLimit {
		return false
	}

	i, found := slices.BinarySearchFunc(t.snapshots, s.RemoteTime, func(e Snapshot, target float64) int {
		switch {
		case e.RemoteTime < target:
			return -1
		case e.RemoteTime > target:
			return 1
		}
		return 0
	})
	if found {
		return false
	}
	t.snapshots = slices.Insert(t.snapshots, i, s)

	if n := len(t.snapshots); n >= 2 {
		t.delivery.Add(t.snapshots[n-1].LocalTime - t.snapshots[n-2].LocalTime)
	}

	t.drift.Add(s.RemoteTime - t.local)
	drift := t.drift.Value - t.BufferTime()
	t.timescale = Timescale(drift,
		t.cfg.CatchupSpeed, t.cfg.SlowdownSpeed,
		t.cfg.SendInterval*t.cfg.CatchupNegativeThreshold,
		t.cfg.SendInterval*t.cfg.CatchupPositiveThreshold,
	)
	return true
}

// Step advances the local timeline and drops snapshots it has passed.
func (t *Timeline) Step(dt float64) {
	if len(t.snapshots) == 0 {
		return
	}
	t.local += dt * t.timescale

	from, _, _ := Sample(t.snapshots, t.local)
	if from > 0 {
		t.snapshots = slices.Delete(t.snapshots, 0, from)
	}
}

// Sample locates localTime between two buffered snapshots and returns their
// indices and the interpolation factor between them.
func Sample(snapshots []Snapshot, localTime float64) (from, to int, t float64) {
	if len(snapshots) == 0 {
		return 0, 0, 0
	}
	for i := 0; i < len(snapshots)-1; i++ {
		a, b := snapshots[i], snapshots[i+1]
		if localTime >= a.RemoteTime && localTime <= b.RemoteTime {
			return i, i + 1, inverseLerp(a.RemoteTime, b.RemoteTime, localTime)
		}
	}
	if snapshots[0].RemoteTime > localTime {
		return 0, 0, 0
	}
	last := len(snapshots) - 1
	return last, last, 0
}

func (t *Timeline) Reset() {
	t.snapshots = t.snapshots[:0]
	t.local = 0
	t.timescale = 1
	t.multiplier = t.cfg.BufferTimeMultiplier
	t.drift.Reset()
	t.delivery.Reset()
}

// Timescale speeds the timeline up when it lags and slows it down when it runs ahead.
func Timescale(drift, catchupSpeed, slowdownSpeed, negativeThreshold, positiveThreshold float64) float64 {
	if drift > positiveThreshold {
		return 1 + catchupSpeed
	}
	if drift < negativeThreshold {
		return 1 - slowdownSpeed
	}
	return 1
}

// DynamicAdjustment returns the buffer time multiplier that covers the
// observed delivery jitter plus tolerance.
func DynamicAdjustment(sendInterval, jitterStd, tolerance float64) float64 {
	return (sendInterval+jitterStd)/sendInterval + tolerance
}

func inverseLerp(a, b, v float64) float64 {
	if a == b {
		return 0
	}
	r := (v - a) / (b - a)
	return max(0, min(1, r))
}
