package xlog

import (
	"context"

	"go.uber.org/zap"
)

type contextKey struct{}

var fieldsKey contextKey

// WrapContext attaches fields to the context. Every log call made through
// this package with the resulting context carries them.
func WrapContext(ctx context.Context, fields ...zap.Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	if prev, ok := ctx.Value(fieldsKey).([]zap.Field); ok {
		merged := make([]zap.Field, 0, len(prev)+len(fields))
		merged = append(merged, prev...)
		merged = append(merged, fields...)
		fields = merged
	}
	return context.WithValue(ctx, fieldsKey, fields)
}

// ContextFields returns the fields attached to ctx via WrapContext.
func ContextFields(ctx context.Context) []zap.Field {
	fields, _ := ctx.Value(fieldsKey).([]zap.Field)
	return fields
}

func mergeContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	attached := ContextFields(ctx)
	if len(attached) == 0 {
		return fields
	}
	merged := make([]zap.Field, 0, len(attached)+len(fields))
	merged = append(merged, attached...)
	merged = append(merged, fields...)
	return merged
}
