package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log = newLogger(os.Stderr, levelFromEnv())

func levelFromEnv() zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// SetOutput redirects log output, keeping the current level.
func SetOutput(out io.Writer) {
	log = newLogger(out, log.GetLevel())
}

// SetLevel overrides the level read from LOG_LEVEL.
func SetLevel(level zerolog.Level) {
	log = log.Level(level)
}

func Debug(format string, args ...interface{}) {
	log.Debug().Msgf(format, args...)
}

func Info(format string, args ...interface{}) {
	log.Info().Msgf(format, args...)
}

func Warn(format string, args ...interface{}) {
	log.Warn().Msgf(format, args...)
}

func Error(format string, args ...interface{}) {
	log.Error().Msgf(format, args...)
}
