package timesync

import "math"

// EMA is an exponential moving average over roughly n samples that also
// tracks variance.
type EMA struct {
	alpha       float64
	initialized bool

	Value             float64
	Variance          float64
	StandardDeviation float64
}

func NewEMA(n int) EMA {
	return EMA{alpha: 2.0 / float64(n+1)}
}

func (e *EMA) Add(v float64) {
	if !e.initialized {
		e.Value = v
		e.initialized = true
		return
	}
	delta := v - e.Value
	e.Value += e.alpha * delta
	e.Variance = (1 - e.alpha) * (e.Variance + e.alpha*delta*delta)
	e.StandardDeviation = math.Sqrt(e.Variance)
}

func (e *EMA) Reset() {
	e.initialized = false
	e.Value = 0
	e.Variance = 0
	e.StandardDeviation = 0
}

// RTT averages round trip samples taken from ping/pong exchanges.
type RTT struct {
	ema EMA
}

func NewRTT(window int) *RTT {
	return &RTT{ema: NewEMA(window)}
}

// Add records the round trip of a pong that echoes sentAt.
func (r *RTT) Add(now, sentAt float64) {
	if sentAt > now {
		return
	}
	r.ema.Add(now - sentAt)
}

func (r *RTT) Value() float64 {
	return r.ema.Value
}

func (r *RTT) Jitter() float64 {
	return r.ema.StandardDeviation
}
