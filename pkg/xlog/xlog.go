package xlog

import (
	"context"

	"go.uber.org/zap"
)

////////////////////////////////////////////////////////////////////////////////

type Logger interface {
	With(fields ...zap.Field) Logger
	WithName(name string) Logger
	WithCallerSkip(level int) Logger

	Zap() *zap.Logger

	Debug(ctx context.Context, msg string, fields ...zap.Field)
	Info(ctx context.Context, msg string, fields ...zap.Field)
	Warn(ctx context.Context, msg string, fields ...zap.Field)
	Error(ctx context.Context, msg string, fields ...zap.Field)
	Fatal(ctx context.Context, msg string, fields ...zap.Field)
}

////////////////////////////////////////////////////////////////////////////////

type logger struct {
	log *zap.Logger
}

var _ Logger = (*logger)(nil)

////////////////////////////////////////////////////////////////////////////////

func New(log *zap.Logger) Logger {
	return &logger{log}
}

func NewNop() Logger {
	return &logger{zap.NewNop()}
}

func TryNew(log *zap.Logger, err error) (Logger, error) {
	if err != nil {
		return nil, err
	}
	return New(log), nil
}

func (l *logger) Zap() *zap.Logger {
	return l.log
}

////////////////////////////////////////////////////////////////////////////////

func (l *logger) With(fields ...zap.Field) Logger {
	return &logger{l.log.With(fields...)}
}

func (l *logger) WithName(name string) Logger {
	return &logger{l.log.Named(name)}
}

func (l *logger) WithCallerSkip(level int) Logger {
	return &logger{l.log.WithOptions(zap.AddCallerSkip(level))}
}

////////////////////////////////////////////////////////////////////////////////

func (l *logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Debug(msg, mergeContextFields(ctx, fields)...)
}

func (l *logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Info(msg, mergeContextFields(ctx, fields)...)
}

func (l *logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Warn(msg, mergeContextFields(ctx, fields)...)
}

func (l *logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Error(msg, mergeContextFields(ctx, fields)...)
}

func (l *logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Fatal(msg, mergeContextFields(ctx, fields)...)
}
