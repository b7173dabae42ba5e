// Package log is a thin zerolog wrapper giving every package in this
// module a shared global logger plus console/JSON output selection.
package log

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// Configure switches the global logger to either pretty console output
// (for a terminal) or newline-delimited JSON (for log aggregation),
// writing to w.
func Configure(w io.Writer, pretty bool, level zerolog.Level) {
	if pretty {
		base = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	} else {
		base = zerolog.New(w).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(level)
}

func With() zerolog.Context { return base.With() }

func Debug() *zerolog.Event { return base.Debug() }
func Info() *zerolog.Event  { return base.Info() }
func Warn() *zerolog.Event  { return base.Warn() }
func Error() *zerolog.Event { return base.Error() }
func Fatal() *zerolog.Event { return base.Fatal() }

// Named returns a child logger tagged with a "component" field, used
// by the composite sink to scope its diagnostics.
func Named(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
