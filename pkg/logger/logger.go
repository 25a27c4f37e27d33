// Package logger provides the shared zap logger for shopgraph. Components
// receive a *zap.Logger at construction; the global here backs the CLI and
// anything that was not handed one explicitly.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextKey is the type for context keys carrying log fields.
type contextKey string

const (
	// RequestIDKey carries the per-request sequence number assigned by the
	// cost-aware transport.
	RequestIDKey contextKey = "request_id"
	// ShopKey carries the myshopify domain being talked to.
	ShopKey contextKey = "shop"
	// OperationIDKey carries the bulk operation gid once one is submitted.
	OperationIDKey contextKey = "operation_id"
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Init builds the global logger at the given level with JSON output.
// Calling it again replaces the logger, which is mainly useful in tests.
func Init(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	global = logger
	mu.Unlock()
	return nil
}

// Get returns the global logger, initializing it at info level on first use.
func Get() *zap.Logger {
	mu.Lock()
	l := global
	mu.Unlock()
	if l != nil {
		return l
	}

	if err := Init("info"); err != nil {
		l, _ = zap.NewProduction()
		mu.Lock()
		global = l
		mu.Unlock()
		return l
	}
	return Get()
}

// WithContext returns the global logger enriched with any request, shop, or
// bulk operation fields present on the context.
func WithContext(ctx context.Context) *zap.Logger {
	l := Get()
	if requestID, ok := ctx.Value(RequestIDKey).(int64); ok {
		l = l.With(zap.Int64("request_id", requestID))
	}
	if shop, ok := ctx.Value(ShopKey).(string); ok {
		l = l.With(zap.String("shop", shop))
	}
	if operationID, ok := ctx.Value(OperationIDKey).(string); ok {
		l = l.With(zap.String("operation_id", operationID))
	}
	return l
}

// Sync flushes buffered log entries.
func Sync() error {
	mu.Lock()
	l := global
	mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
