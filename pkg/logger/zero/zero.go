// Package zero adapts a zerolog.Logger to the logger.Logger interface.
// The relay daemon uses it for structured JSON output in production.
package zero

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/inklet-io/inklet/pkg/logger"
)

type zeroLogger struct {
	zl zerolog.Logger
}

func New(zl zerolog.Logger) logger.Logger {
	return &zeroLogger{zl: zl}
}

func (l *zeroLogger) Debug(msg string, args ...any) { emit(l.zl.Debug(), msg, args) }
func (l *zeroLogger) Info(msg string, args ...any)  { emit(l.zl.Info(), msg, args) }
func (l *zeroLogger) Warn(msg string, args ...any)  { emit(l.zl.Warn(), msg, args) }
func (l *zeroLogger) Error(msg string, args ...any) { emit(l.zl.Error(), msg, args) }

// emit interprets args as alternating key/value pairs, matching the slog
// convention used across the codebase. A trailing odd value is logged under
// the "arg" key rather than dropped.
func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	if len(args)%2 == 1 {
		ev = ev.Interface("arg", args[len(args)-1])
	}
	ev.Msg(msg)
}
