package logging

import (
	"bytes"
	"log"
	"strings"
)

// writerAdapter turns each Write into one structured entry at a fixed level
type writerAdapter struct {
	logger Logger
	level  Level
}

func (a *writerAdapter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(bytes.TrimRight(p, "\n")))
	if msg == "" {
		return len(p), nil
	}

	switch a.level {
	case DebugLevel:
		a.logger.Debug(msg)
	case WarnLevel:
		a.logger.Warn(msg)
	case ErrorLevel, FatalLevel:
		a.logger.Error(msg)
	default:
		a.logger.Info(msg)
	}
	return len(p), nil
}

// NewStdLogger returns a *log.Logger that forwards to logger, for
// standard library components such as http.Server.ErrorLog.
func NewStdLogger(logger Logger, component string, level Level) *log.Logger {
	return log.New(&writerAdapter{
		logger: logger.WithFields(Component(component)),
		level:  level,
	}, "", 0)
}
