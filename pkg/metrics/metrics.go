// Package metrics records network diagnostics: per message traffic in both
// directions, tick stage timings and gauges such as connection counts.
package metrics

import (
	"sync"
	"time"
)

type Recorder interface {
	// MessageOut records count copies of a message of bytes size, e.g. one
	// RPC fanned out to count observers.
	MessageOut(name string, channel int, bytes, count int)
	MessageIn(name string, channel int, bytes int)
	Tick(stage string, d time.Duration)
	Gauge(name string, v float64)
}

type nop struct{}

func (nop) MessageOut(string, int, int, int) {}
func (nop) MessageIn(string, int, int)       {}
func (nop) Tick(string, time.Duration)       {}
func (nop) Gauge(string, float64)            {}

var Nop Recorder = nop{}

func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop
	}
	return r
}

// Since records the time elapsed since start under stage.
func Since(r Recorder, stage string, start time.Time) {
	r.Tick(stage, time.Since(start))
}

type Traffic struct {
	Count int
	Bytes int
}

// Memory keeps running totals. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	out    map[string]Traffic
	in     map[string]Traffic
	ticks  map[string]int
	gauges map[string]float64
}

func NewMemory() *Memory {
	return &Memory{
		out:    make(map[string]Traffic),
		in:     make(map[string]Traffic),
		ticks:  make(map[string]int),
		gauges: make(map[string]float64),
	}
}

func (m *Memory) MessageOut(name string, channel int, bytes, count int) {
	m.mu.Lock()
	t := m.out[name]
	t.Count += count
	t.Bytes += bytes * count
	m.out[name] = t
	m.mu.Unlock()
}

func (m *Memory) MessageIn(name string, channel int, bytes int) {
	m.mu.Lock()
	t := m.in[name]
	t.Count++
	t.Bytes += bytes
	m.in[name] = t
	m.mu.Unlock()
}

func (m *Memory) Tick(stage string, d time.Duration) {
	m.mu.Lock()
	m.ticks[stage]++
	m.mu.Unlock()
}

func (m *Memory) Gauge(name string, v float64) {
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}

func (m *Memory) Out(name string) Traffic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out[name]
}

func (m *Memory) In(name string) Traffic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.in[name]
}

func (m *Memory) Ticks(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks[stage]
}

func (m *Memory) GaugeValue(name string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.gauges[name]
	return v, ok
}
