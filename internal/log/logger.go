// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log builds the daemon's slog loggers and holds the field keys
// shared by every package.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format is the log output format.
type Format string

const (
	// FormatJSON emits one JSON object per record.
	FormatJSON Format = "json"
	// FormatText emits logfmt-style text.
	FormatText Format = "text"
)

// LevelTrace is below Debug. Executor output polling logs at this level.
const LevelTrace = slog.Level(-8)

// Standard field keys.
const (
	TransferIDKey = "transfer_id"
	ActionKey     = "action"
	PortKey       = "port"
	PIDKey        = "pid"
	DurationKey   = "duration_ms"
	ComponentKey  = "component"
	EventKey      = "event"
)

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn or error.
	Level string

	// Format is json or text. Empty selects text on a terminal and json
	// otherwise.
	Format Format

	// Output defaults to os.Stderr.
	Output io.Writer

	// AddSource adds file:line to every record.
	AddSource bool
}

// DefaultConfig returns info level JSON logging to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from the environment:
//   - FDTD_DEBUG: true/1 enables debug level and source locations
//   - FDTD_LOG_LEVEL: level, wins over LOG_LEVEL
//   - LOG_LEVEL: level (default info)
//   - LOG_FORMAT: json or text (default json, text on a terminal)
//   - LOG_SOURCE: 1 enables source locations
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("FDTD_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if level := os.Getenv("FDTD_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	} else if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	} else if isTerminal(cfg.Output) {
		cfg.Format = FormatText
	}

	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}
	return cfg
}

// New returns a logger for cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) *slog.Logger {
	return slog.New(NewHandler(cfg))
}

// NewHandler returns the slog handler New would use.
func NewHandler(cfg *Config) slog.Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	format := cfg.Format
	if format == "" && isTerminal(out) {
		format = FormatText
	}
	if format == FormatText {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// WithComponent tags logger with the emitting component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(ComponentKey, component)
}

// WithTransfer tags logger with a transfer id.
func WithTransfer(logger *slog.Logger, id string) *slog.Logger {
	return logger.With(slog.String(TransferIDKey, id))
}

// WithAction tags logger with an action kind.
func WithAction(logger *slog.Logger, kind string) *slog.Logger {
	return logger.With(slog.String(ActionKey, kind))
}

// String creates a string attribute.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int creates an int attribute.
func Int(key string, value int) slog.Attr {
	return slog.Int(key, value)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Duration creates a key_ms attribute from milliseconds.
func Duration(key string, ms int64) slog.Attr {
	return slog.Int64(key+"_ms", ms)
}

// Trace logs msg at LevelTrace.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(context.Background(), LevelTrace) {
		return
	}
	logger.LogAttrs(context.Background(), LevelTrace, msg, attrs...)
}
