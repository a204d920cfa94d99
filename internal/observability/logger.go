package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log encodings accepted by LoggerConfig.Format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// LoggerConfig selects the level and encoding of the process logger. Service
// is attached to every entry so agent and gateway logs can share a sink.
type LoggerConfig struct {
	Level   string
	Format  string
	Service string
}

type correlationIDKey struct{}

func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zapCfg zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", FormatJSON:
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case FormatConsole:
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.DisableStacktrace = true
	if service := strings.TrimSpace(cfg.Service); service != "" {
		zapCfg.InitialFields = map[string]any{"service": service}
	}

	logger, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return zapcore.InfoLevel, nil
	}

	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

// Component returns a named child logger, or a no-op logger when logger is nil.
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	if name == "" {
		return logger
	}
	return logger.Named(name)
}

// NewCorrelationID returns a fresh id for a unit of work such as a replay pass.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID stores id on ctx. An empty id leaves ctx unchanged.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id, id != ""
}

// WithContextLogger tags logger with the correlation id carried by ctx, if any.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return logger.With(zap.String("correlationId", id))
	}
	return logger
}
