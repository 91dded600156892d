// Package logger configures the global zerolog logger from command line
// options.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is a go-flags option group.
type Logger struct {
	Level   string `long:"log-level"  env:"LOG_LEVEL"  description:"Log level" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
	Format  string `long:"log-format" env:"LOG_FORMAT" description:"Log format" choice:"text" choice:"json" default:"text"`
	NoColor bool   `long:"no-color"   env:"NO_COLOR"   description:"Disable colored text output"`
}

// Setup applies the options to the global logger and returns it.
func (l Logger) Setup() zerolog.Logger {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = os.Stderr
	if l.Format != "json" {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    l.NoColor,
			TimeFormat: time.DateTime,
		}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return log.Logger
}
