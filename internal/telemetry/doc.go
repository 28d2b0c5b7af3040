// Package telemetry wires OpenTelemetry trace and metric providers for
// truthd.
//
// When telemetry is disabled, Tracer and Meter fall back to the global
// providers, which are no-ops unless something else installed them. When an
// exporter cannot be created the instance is marked degraded and the
// daemon keeps running without that signal.
//
// Tests use NewTestTelemetry, which records spans in memory and exposes a
// manual metric reader.
package telemetry
