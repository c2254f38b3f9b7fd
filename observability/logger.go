// Package observability provides Logger, MetricsRegistry, and Tracer
// services, default implementations backed by zerolog and OpenTelemetry,
// and an [Instrument] wrapper that adds logging, metrics, and tracing to
// any [flux.Computation].
package observability

import (
	"os"

	"github.com/rs/zerolog"

	flux "github.com/nodelift/flux"
)

// Logger is the structured logging service computations read from the
// environment, with debug/info/warn/error levels and key-value fields
// instead of pre-formatted strings.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// LoggerTag is the service tag [Instrument] and user code look up.
var LoggerTag = flux.NewTag[Logger]("observability.Logger")

// ZerologLogger adapts a zerolog.Logger to [Logger].
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps log.
func NewZerologLogger(log zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: log}
}

// NewDefaultLogger returns a ZerologLogger writing human-readable
// console output to stderr, suitable as the out-of-the-box default.
func NewDefaultLogger() *ZerologLogger {
	return NewZerologLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger())
}

func withFields(e *zerolog.Event, fields map[string]any) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

// Debug logs msg at debug level with fields attached.
func (l *ZerologLogger) Debug(msg string, fields map[string]any) {
	withFields(l.log.Debug(), fields).Msg(msg)
}

// Info logs msg at info level with fields attached.
func (l *ZerologLogger) Info(msg string, fields map[string]any) {
	withFields(l.log.Info(), fields).Msg(msg)
}

// Warn logs msg at warn level with fields attached.
func (l *ZerologLogger) Warn(msg string, fields map[string]any) {
	withFields(l.log.Warn(), fields).Msg(msg)
}

// Error logs msg at error level with fields attached.
func (l *ZerologLogger) Error(msg string, fields map[string]any) {
	withFields(l.log.Error(), fields).Msg(msg)
}

// LoggerLayer registers a ZerologLogger under [LoggerTag].
func LoggerLayer(log zerolog.Logger) flux.Layer[flux.Never] {
	return flux.LayerFromComputation(flux.Sync[any, flux.Never, *flux.Context](func() *flux.Context {
		return flux.ContextAdd(flux.NewContext(), LoggerTag, Logger(NewZerologLogger(log)))
	}))
}
