package netlog

import (
	"fmt"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Entry struct {
	Level     Level
	Msg       string
	KeyValues []any
}

func (e Entry) String() string {
	var sb strings.Builder
	sb.WriteString(string(e.Level))
	sb.WriteString(" ")
	sb.WriteString(e.Msg)
	for i := 0; i+1 < len(e.KeyValues); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", e.KeyValues[i], e.KeyValues[i+1])
	}
	return sb.String()
}

// Memory keeps every entry in memory. Tests use it to assert on warnings.
type Memory struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []any
}

func NewMemory() *Memory {
	return &Memory{mu: new(sync.Mutex), entries: new([]Entry)}
}

func (m *Memory) log(level Level, msg string, keyValues []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv := append(append([]any{}, m.fields...), keyValues...)
	*m.entries = append(*m.entries, Entry{Level: level, Msg: msg, KeyValues: kv})
}

func (m *Memory) Info(msg string, keyValues ...any)  { m.log(LevelInfo, msg, keyValues) }
func (m *Memory) Error(msg string, keyValues ...any) { m.log(LevelError, msg, keyValues) }
func (m *Memory) Debug(msg string, keyValues ...any) { m.log(LevelDebug, msg, keyValues) }
func (m *Memory) Warn(msg string, keyValues ...any)  { m.log(LevelWarn, msg, keyValues) }

func (m *Memory) With(keyValues ...any) Logger {
	return &Memory{
		mu:      m.mu,
		entries: m.entries,
		fields:  append(append([]any{}, m.fields...), keyValues...),
	}
}

// Entries returns a copy of everything logged so far, children included.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), *m.entries...)
}

// Count returns how many entries of the level contain substr in their message.
func (m *Memory) Count(level Level, substr string) int {
	n := 0
	for _, e := range m.Entries() {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			n++
		}
	}
	return n
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.entries = (*m.entries)[:0]
}
