// Package logger builds the zerolog logger shared by the CLI and the transfer core.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLevel keeps the shell quiet unless something fails.
const DefaultLevel = "error"

// Options selects where log lines go and how verbose they are.
type Options struct {
	// Level is a zerolog level name. Empty means DefaultLevel.
	Level string

	// File appends logs to the named file instead of Out.
	File string

	// Out is the console destination when File is empty. Defaults to os.Stderr.
	Out io.Writer
}

// New returns a console logger and a function that releases its output.
func New(opts Options) (zerolog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var w io.Writer = os.Stderr
	if opts.Out != nil {
		w = opts.Out
	}
	closer := func() error { return nil }

	if opts.File != "" {
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		w = file
		closer = file.Close
	}

	l := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: opts.File != ""}).
		Level(level).
		With().Timestamp().Logger()
	return l, closer, nil
}

// ParseLevel converts a level name to a zerolog level.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		s = DefaultLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
