package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// storeLog forwards badger's printf-style output into the journal's slog
// logger. Badger terminates most lines with a newline, which is dropped.
type storeLog struct {
	out *slog.Logger
}

var _ badger.Logger = (*storeLog)(nil)

func (s *storeLog) emit(level slog.Level, format string, args []interface{}) {
	ctx := context.Background()
	if !s.out.Enabled(ctx, level) {
		return
	}
	s.out.Log(ctx, level, strings.TrimSpace(fmt.Sprintf(format, args...)), "source", "badger")
}

func (s *storeLog) Errorf(format string, args ...interface{}) {
	s.emit(slog.LevelError, format, args)
}

func (s *storeLog) Warningf(format string, args ...interface{}) {
	s.emit(slog.LevelWarn, format, args)
}

func (s *storeLog) Infof(format string, args ...interface{}) {
	s.emit(slog.LevelInfo, format, args)
}

func (s *storeLog) Debugf(format string, args ...interface{}) {
	s.emit(slog.LevelDebug, format, args)
}

// storeLevel maps the journal's log level onto badger's coarser scale.
// badger does not export its level type, so it is inferred from the
// badger level constants.
var storeLevel = levelMapper(badger.DEBUG, badger.INFO, badger.WARNING, badger.ERROR)

func levelMapper[L any](debug, info, warning, errorLevel L) func(slog.Level) L {
	return func(level slog.Level) L {
		if level >= slog.LevelError {
			return errorLevel
		}
		if level >= slog.LevelWarn {
			return warning
		}
		if level >= slog.LevelInfo {
			return info
		}
		return debug
	}
}
