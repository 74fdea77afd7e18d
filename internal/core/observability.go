package core

import (
	"context"
	"time"

	"plasticatlas/pkg/domain"
)

// Logger is the structured logging surface used by the service. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Outcome classifies the result of one service call.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNotFound Outcome = "not_found"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeError    Outcome = "error"
)

// Success reports whether the call produced an answer. A NotFound is an
// answer about the catalog, not a failure of the service.
func (o Outcome) Success() bool {
	return o == OutcomeSuccess || o == OutcomeNotFound
}

// Classify maps an operation error onto an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case domain.IsNotFound(err):
		return OutcomeNotFound
	case domain.IsValidation(err):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// MetricsRecorder receives one observation per service call.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, outcome Outcome, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, Outcome, time.Duration) {}

// Tracer starts a span around each service call.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the call's error.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Clock supplies timestamps for duration measurement.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
