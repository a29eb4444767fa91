package utils

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/contextkey"
)

// Logger wraps slog with context-aware request and user attribution.
type Logger struct {
	slog *slog.Logger
}

// NewLogger builds a JSON logger at the given level. An unparsable level
// string falls back to info.
func NewLogger(logLevel string) *Logger {
	level := new(slog.Level)
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		*level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})
	return &Logger{slog: slog.New(handler)}
}

// WithContext returns a child logger carrying the request and user IDs found
// in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	logger := l.slog
	if reqID, ok := ctx.Value(contextkey.ContextKeyRequestID).(uuid.UUID); ok {
		logger = logger.With(slog.String("request_id", reqID.String()))
	}
	if userID, ok := ctx.Value(contextkey.ContextKeyUserID).(uuid.UUID); ok {
		logger = logger.With(slog.String("user_id", userID.String()))
	}
	return logger
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Info(fmt.Sprintf(msg, args...))
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(fmt.Sprintf(msg, args...))
}

// Fatal logs at error level and exits. Only startup wiring uses it.
func (l *Logger) Fatal(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
	os.Exit(1)
}
