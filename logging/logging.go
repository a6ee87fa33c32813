// Package logging wires rs/zerolog into every component with a consistent
// shape: one component-tagged child logger per package, optionally carried
// on a context.Context so deep call chains don't have to thread a logger
// parameter through every function.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// Init sets zerolog's global level and time field format from level and
// returns a new root logger writing to stderr in the given format. format
// is "json" (production); any other value gives "console" output (human,
// colorized). Call once at process startup.
func Init(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w = os.Stderr
	var logger zerolog.Logger
	if format == "json" {
		logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return logger
}

// Component returns a child logger tagged with a "component" field, the
// unit every package in this module logs under (framebus, capture,
// recognition, overlay, encode, worker, signaling, controlplane, ...).
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// WithCamera tags a logger with the camera id it concerns.
func WithCamera(l zerolog.Logger, cameraID string) zerolog.Logger {
	return l.With().Str("camera_id", cameraID).Logger()
}

// NewContext stashes l on ctx for retrieval deeper in a call chain.
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stashed by NewContext. If none was
// stashed it falls back to zerolog.Ctx: zerolog.DefaultContextLogger when
// that is set, otherwise a disabled logger (never a nil logger).
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Ctx(ctx).With().Logger()
}
