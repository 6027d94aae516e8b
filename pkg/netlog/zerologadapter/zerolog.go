// Package zerologadapter backs netlog.Logger with zerolog.
package zerologadapter

import (
	"fmt"

	"github.com/QYUbit/netsync/pkg/netlog"
	"github.com/rs/zerolog"
)

type Adapter struct {
	logger zerolog.Logger
}

var _ netlog.Logger = (*Adapter)(nil)

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

func (a *Adapter) Info(msg string, keyValues ...any) {
	a.emit(a.logger.Info(), msg, keyValues)
}

func (a *Adapter) Error(msg string, keyValues ...any) {
	a.emit(a.logger.Error(), msg, keyValues)
}

func (a *Adapter) Debug(msg string, keyValues ...any) {
	a.emit(a.logger.Debug(), msg, keyValues)
}

func (a *Adapter) Warn(msg string, keyValues ...any) {
	a.emit(a.logger.Warn(), msg, keyValues)
}

func (a *Adapter) With(keyValues ...any) netlog.Logger {
	ctx := a.logger.With()
	for i := 0; i < len(keyValues); i += 2 {
		key, val := pair(keyValues, i)
		ctx = ctx.Interface(key, val)
	}
	return &Adapter{logger: ctx.Logger()}
}

func (a *Adapter) emit(ev *zerolog.Event, msg string, keyValues []any) {
	for i := 0; i < len(keyValues); i += 2 {
		key, val := pair(keyValues, i)
		if err, ok := val.(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, val)
	}
	ev.Msg(msg)
}

func pair(keyValues []any, i int) (string, any) {
	key, ok := keyValues[i].(string)
	if !ok {
		key = fmt.Sprint(keyValues[i])
	}
	if i+1 >= len(keyValues) {
		return key, "!MISSING"
	}
	return key, keyValues[i+1]
}
