package observe

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide root logger. Components derive their own
// with logger.With().Str("component", ...).
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
