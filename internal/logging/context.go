package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type prCtxKey struct{}
type turnCtxKey struct{}

const maxRequestIDLen = 128

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id, ok := PRIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("pr.id", id))
	}
	if id, ok := TurnIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("turn.id", id))
	}
	return fields
}

// WithRequestID attaches an HTTP request ID. IDs that are too long or
// contain characters outside [a-zA-Z0-9_-] are dropped.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" || len(id) > maxRequestIDLen || !requestIDPattern.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithPRID attaches the knowledge PR being processed.
func WithPRID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, prCtxKey{}, id)
}

// PRIDFromContext returns the PR ID attached with WithPRID.
func PRIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(prCtxKey{}).(int64)
	return id, ok
}

// WithTurnID attaches the turn being processed.
func WithTurnID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, turnCtxKey{}, id)
}

// TurnIDFromContext returns the turn ID attached with WithTurnID.
func TurnIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(turnCtxKey{}).(int64)
	return id, ok
}
