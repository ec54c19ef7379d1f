package obs

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	SetOutput(os.Stdout)
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	return logger.Load()
}

// SetOutput redirects the shared logger and returns the previous writer's
// logger so callers can restore it.
func SetOutput(w io.Writer) (restore func()) {
	prev := logger.Load()
	l := zerolog.New(w).With().Timestamp().Logger()
	logger.Store(&l)
	return func() {
		if prev != nil {
			logger.Store(prev)
		}
	}
}

// SetLevel sets the global minimum level ("debug", "info", ...).
func SetLevel(level string) error {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(msg string, fields map[string]any) {
	ev := Logger().Info()
	if status, ok := fields["status"].(int); ok && status >= 500 {
		ev = Logger().Error()
	}
	ev.Fields(fields).Msg(msg)
}
