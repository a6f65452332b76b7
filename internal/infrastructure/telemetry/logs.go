package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogsConfig holds the OTLP log export settings
type LogsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	Insecure          bool
	ServiceName       string
	ServiceVersion    string
	// Level is the minimum level forwarded to the collector
	Level zapcore.Level
}

// LogExporter ships zap entries to an OTLP collector alongside the local output.
// A disabled LogExporter leaves loggers untouched.
type LogExporter struct {
	provider *sdklog.LoggerProvider
	config   LogsConfig
	logger   *zap.Logger
}

// NewLogExporter creates the OTLP log exporter and installs its provider globally
func NewLogExporter(ctx context.Context, cfg LogsConfig, logger *zap.Logger) (*LogExporter, error) {
	le := &LogExporter{config: cfg, logger: logger}
	if !cfg.Enabled {
		logger.Debug("OTLP log export disabled")
		return le, nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP logs exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	le.provider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(le.provider)

	logger.Info("OTLP log export initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Stringer("level", cfg.Level),
	)
	return le, nil
}

// IsEnabled reports whether entries are being exported
func (le *LogExporter) IsEnabled() bool {
	return le.provider != nil
}

// Core returns the zap core feeding the exporter, or a no-op core when disabled
func (le *LogExporter) Core() zapcore.Core {
	if !le.IsEnabled() {
		return zapcore.NewNopCore()
	}
	core := otelzap.NewCore(le.config.ServiceName, otelzap.WithLoggerProvider(le.provider))
	// otelzap has no minimum level of its own
	return &levelFilterCore{Core: core, minLevel: le.config.Level}
}

// Bridge tees base into the exporter, keeping base's options and fields
func (le *LogExporter) Bridge(base *zap.Logger) *zap.Logger {
	if !le.IsEnabled() {
		return base
	}
	otelCore := le.Core()
	return base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, otelCore)
	}))
}

// ForceFlush exports every buffered record
func (le *LogExporter) ForceFlush(ctx context.Context) error {
	if !le.IsEnabled() {
		return nil
	}
	return le.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider. Safe to call on a disabled exporter.
func (le *LogExporter) Shutdown(ctx context.Context) error {
	if !le.IsEnabled() {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := le.provider.Shutdown(shutdownCtx); err != nil {
		le.logger.Error("Error shutting down log exporter", zap.Error(err))
		return fmt.Errorf("failed to shutdown log exporter: %w", err)
	}
	return nil
}

type levelFilterCore struct {
	zapcore.Core
	minLevel zapcore.Level
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.minLevel && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return ce
	}
	return c.Core.Check(entry, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), minLevel: c.minLevel}
}
