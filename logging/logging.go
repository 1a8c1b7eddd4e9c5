// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger writing to stdout and, when cfg.File is set, appending
// to that file as well. A file that cannot be opened is reported on the
// returned logger and otherwise ignored. The closer releases the file.
func New(cfg config.LoggingConfig, stdout io.Writer) (zerolog.Logger, io.Closer) {
	zerolog.DurationFieldUnit = time.Millisecond

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var (
		out               = stdout
		closer  io.Closer = nopCloser{}
		fileErr error
	)
	if cfg.File != "" {
		file, err := openAppend(cfg.File)
		if err != nil {
			fileErr = err
		} else {
			out = io.MultiWriter(file, stdout)
			closer = file
		}
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: cfg.File != ""}
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if fileErr != nil {
		log.Warn().Err(fileErr).Str("file", cfg.File).Msg("Failed to open log file, logging to stdout only")
	}
	return log, closer
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Component returns a child logger tagged with a component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
