// Package logger builds the run's slog logger: a text handler on stderr for
// the operator, optionally fanned out to a run log file.
package logger

import (
	"io"
	"log/slog"
	"math"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Options configure the logger.
type Options struct {
	// Debug lowers the level to slog.LevelDebug and records source
	// positions.
	Debug bool
	// Quiet suppresses the stderr handler.
	Quiet bool
	// Writer, when non-nil, receives a JSON copy of every record
	// (typically the run log file).
	Writer io.Writer
}

// New builds a logger from opts. With Quiet set and no Writer, the logger
// discards everything.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: opts.Debug,
	}

	var handlers []slog.Handler
	if !opts.Quiet {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, handlerOpts))
	}
	if opts.Writer != nil {
		handlers = append(handlers, slog.NewJSONHandler(opts.Writer, handlerOpts))
	}
	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}
