package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey        contextKey = "logger"
	operatorKey      contextKey = "operator"
	correlationIDKey contextKey = "correlation_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithOperator records the operator (scanner user, job name) acting in ctx
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey, operator)
}

// GetOperator returns the operator recorded in ctx
func GetOperator(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey).(string)
	return op
}

// WithCorrelationID records the id that ties log lines of one event delivery together
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID returns the correlation id recorded in ctx
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// ContextFields returns the trace, operator and correlation fields found in ctx
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if op := GetOperator(ctx); op != "" {
		fields = append(fields, zap.String("operator", op))
	}
	if id := GetCorrelationID(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	return fields
}

// L returns the logger of ctx (or base when ctx carries none) enriched with ContextFields
func L(ctx context.Context, base *zap.Logger) *zap.Logger {
	l := base
	if attached, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		l = attached
	}
	if l == nil {
		l = zap.NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return l.With(fields...)
	}
	return l
}
