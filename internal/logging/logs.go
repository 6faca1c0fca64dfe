package logging

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the process logger. Callers attach their own fields with With().
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Named returns a child logger tagged with component=name.
func Named(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

func Tracef(format string, args ...any) {
	log.Logger.Trace().Msg(fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) {
	log.Logger.Debug().Msg(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	log.Logger.Info().Msg(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	log.Logger.Warn().Msg(fmt.Sprintf(format, args...))
}

func Errf(format string, args ...any) {
	log.Logger.Error().Msg(fmt.Sprintf(format, args...))
}

// Logf writes at no level; it shows up regardless of the configured threshold.
func Logf(format string, args ...any) {
	log.Logger.Log().Msg(fmt.Sprintf(format, args...))
}
