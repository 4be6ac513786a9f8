// Package core defines the small set of interfaces shared across every
// component of the bot control plane: structured logging and a clock that
// can be swapped for a fake in tests.
package core

import "time"

// Logger is the structured logging interface every component depends on.
// The concrete implementation (pkg/logging.ZapLogger) bridges to zap and
// to OpenTelemetry logs; tests may substitute a no-op or recording fake.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// Clock abstracts time so backoff math and "now" comparisons in the
// scheduler/executor/strategy packages are deterministic under test,
// replacing the source's ad-hoc Date.now()/setTimeout reliance.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
