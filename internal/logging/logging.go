// Package logging builds the CLI's slog logger. Text output goes through
// charmbracelet/log, JSON output through slog's JSON handler. Library
// packages only ever see a *slog.Logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// LevelTrace sits below Debug for wire-level detail.
const LevelTrace = slog.LevelDebug - 4

// Options configures New.
type Options struct {
	// Level is the minimum level written.
	Level slog.Level

	// JSON selects machine-readable output.
	JSON bool

	// Writer receives the log lines. Nil means os.Stderr.
	Writer io.Writer

	// AddSource adds the caller location to every record.
	AddSource bool
}

// New returns a logger for opts.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     opts.Level,
			AddSource: opts.AddSource,
		}))
	}

	h := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           charmlog.Level(opts.Level),
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		ReportCaller:    opts.AddSource,
	})
	return slog.New(h)
}

// LevelFor maps the --verbose flag to a level.
func LevelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// ParseLevel parses trace, debug, info, warn or error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
