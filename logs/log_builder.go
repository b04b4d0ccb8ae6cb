package logs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type OtelLoggerBuilder struct {
	logExporterOpts    []otlploghttp.Option
	serviceName        string
	serviceVersion     string
	level              zapcore.Level
	useConsoleExporter bool
	exporter           sdklog.Exporter
	flushTimeout       time.Duration
}

func NewOtelLoggerBuilder() *OtelLoggerBuilder {
	return &OtelLoggerBuilder{level: zap.InfoLevel, flushTimeout: 2 * time.Second}
}

func (b *OtelLoggerBuilder) WithEndpointUrl(endpointUrl string) *OtelLoggerBuilder {
	b.logExporterOpts = append(b.logExporterOpts, otlploghttp.WithEndpointURL(endpointUrl))
	return b
}

func (b *OtelLoggerBuilder) WithServiceName(serviceName string) *OtelLoggerBuilder {
	b.serviceName = serviceName
	return b
}

func (b *OtelLoggerBuilder) WithServiceVersion(version string) *OtelLoggerBuilder {
	b.serviceVersion = version
	return b
}

func (b *OtelLoggerBuilder) WithLevel(level zapcore.Level) *OtelLoggerBuilder {
	b.level = level
	return b
}

func (b *OtelLoggerBuilder) WithConsoleExporter() *OtelLoggerBuilder {
	b.useConsoleExporter = true
	return b
}

// WithFlushTimeout bounds a single export to the collector and the flush
// done before a Fatal entry exits the process.
func (b *OtelLoggerBuilder) WithFlushTimeout(d time.Duration) *OtelLoggerBuilder {
	b.flushTimeout = d
	return b
}

// WithExporter replaces the OTLP exporter, mainly for tests.
func (b *OtelLoggerBuilder) WithExporter(exporter sdklog.Exporter) *OtelLoggerBuilder {
	b.exporter = exporter
	return b
}

func (b *OtelLoggerBuilder) newExporter(ctx context.Context) (sdklog.Exporter, error) {
	switch {
	case b.exporter != nil:
		return b.exporter, nil
	case b.useConsoleExporter:
		exporter, err := stdoutlog.New(stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	default:
		opts := append([]otlploghttp.Option{
			otlploghttp.WithRetry(otlploghttp.RetryConfig{Enabled: false}),
			otlploghttp.WithTimeout(b.flushTimeout),
		}, b.logExporterOpts...)
		exporter, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		return exporter, nil
	}
}

func (b *OtelLoggerBuilder) Build(ctx context.Context) (OtelLogging, error) {
	if b.serviceName == "" {
		return nil, errors.New("service name is required")
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(b.serviceName),
		semconv.ServiceVersion(b.serviceVersion),
		semconv.TelemetrySDKLanguageGo,
	)

	exporter, err := b.newExporter(ctx)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(b.flushTimeout),
		)),
	)

	// The collector gets the same minimum level as the console.
	otelCore, err := zapcore.NewIncreaseLevelCore(
		otelzap.NewCore(b.serviceName, otelzap.WithLoggerProvider(provider), otelzap.WithVersion(b.serviceVersion)),
		b.level,
	)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to apply log level %s: %w", b.level, err)
	}

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.AddSync(zapcore.Lock(os.Stdout)), b.level)
	core := zapcore.NewTee(consoleCore, otelCore)
	zapLogger := zap.New(core, zap.WithFatalHook(flushThenExit{provider: provider, timeout: b.flushTimeout}))

	return &otelLog{
		logger:   zapLogger,
		console:  zap.New(consoleCore),
		shutdown: provider.Shutdown,
	}, nil
}

// flushThenExit drains the log pipeline before a Fatal entry terminates the
// process.
type flushThenExit struct {
	provider *sdklog.LoggerProvider
	timeout  time.Duration
}

func (h flushThenExit) OnWrite(_ *zapcore.CheckedEntry, _ []zapcore.Field) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	_ = h.provider.Shutdown(ctx)
	cancel()
	os.Exit(1)
}
