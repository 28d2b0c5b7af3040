package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/truthd/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	metricExportInterval = 15 * time.Second
	shutdownTimeout      = 5 * time.Second
)

// Telemetry owns the tracer and meter providers.
type Telemetry struct {
	cfg     config.TelemetryConfig
	version string

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	mu       sync.Mutex
	degraded []string
}

// New creates providers for cfg and installs them globally.
// Exporter failures degrade the instance rather than failing.
func New(ctx context.Context, cfg config.TelemetryConfig, version string) *Telemetry {
	t := &Telemetry{cfg: cfg, version: version}
	if !cfg.Enabled {
		return t
	}

	res := newResource(cfg.ServiceName, version)

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		t.setDegraded("tracer provider: %v", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		t.setDegraded("meter provider: %v", err)
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t
}

// Tracer returns a tracer for the instrumentation scope.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the instrumentation scope.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// Enabled reports whether telemetry is configured and at least one
// provider came up.
func (t *Telemetry) Enabled() bool {
	if t == nil {
		return false
	}
	return t.cfg.Enabled && (t.tracerProvider != nil || t.meterProvider != nil)
}

// Degraded returns the reasons providers failed to start.
func (t *Telemetry) Degraded() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.degraded...)
}

// Shutdown flushes and stops all providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) setDegraded(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.degraded = append(t.degraded, fmt.Sprintf(format, args...))
}
