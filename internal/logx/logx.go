// Package logx wires zerolog the way every service in the pack does: a
// package-level Logger, console output by default and JSON when
// LOG_FORMAT=json, level and format driven by environment variables (the
// format does not switch on APP_ENV).
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Components derive a child logger
// from it with .With().Str("component", "...").Logger().
var Logger zerolog.Logger

// Init initializes Logger from LOG_LEVEL / LOG_FORMAT / LOG_TIME_FORMAT.
func Init() {
	InitWithWriter(os.Stdout)
}

// InitWithWriter is the Init variant tests use to capture output.
func InitWithWriter(w io.Writer) {
	level, err := zerolog.ParseLevel(strings.TrimSpace(strings.ToLower(getenv("LOG_LEVEL", "info"))))
	if err != nil {
		level = zerolog.InfoLevel
	}

	timeFormat := getenv("LOG_TIME_FORMAT", time.RFC3339)

	var base zerolog.Logger
	if strings.EqualFold(getenv("LOG_FORMAT", "console"), "json") {
		base = zerolog.New(w)
	} else {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
		if getenv("LOG_COLOR", "1") == "0" {
			cw.NoColor = true
		}
		base = zerolog.New(cw)
	}

	Logger = base.With().Timestamp().Logger().Level(level)
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
