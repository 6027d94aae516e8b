// Package netlog is the logging boundary of netsync. Sessions take a Logger
// and never log through a global.
package netlog

type Logger interface {
	Info(msg string, keyValues ...any)
	Error(msg string, keyValues ...any)
	Debug(msg string, keyValues ...any)
	Warn(msg string, keyValues ...any)
	With(keyValues ...any) Logger
}

type nop struct{}

func (nop) Info(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (nop) Debug(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (n nop) With(...any) Logger { return n }

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nop{}
}

// OrNop returns l, or a discarding logger if l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}
