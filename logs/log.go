package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RequestMeta struct {
	Status    int
	Path      string
	Domain    string
	Agent     string
	Method    string
	RemoteIP  string
	Query     string
	RequestID string
}

// OtelLogging writes structured logs correlated with a span. A nil span is
// allowed and produces an uncorrelated entry.
type OtelLogging interface {
	Debug(span trace.Span, args ...interface{})
	Debugf(span trace.Span, template string, args ...interface{})
	Info(span trace.Span, args ...interface{})
	Infof(span trace.Span, template string, args ...interface{})
	Warn(span trace.Span, args ...interface{})
	Warnf(span trace.Span, template string, args ...interface{})
	Error(span trace.Span, args ...interface{})
	Errorf(span trace.Span, template string, args ...interface{})
	Fatal(span trace.Span, args ...interface{})
	LogHttpResponse(span trace.Span, meta RequestMeta)
	LogJson(span trace.Span, label string, value interface{})
	ExportError(err error)
	Shutdown(ctx context.Context) error
}

type otelLog struct {
	logger *zap.Logger
	// console never forwards to the OpenTelemetry bridge.
	console  *zap.Logger
	shutdown func(context.Context) error
}

func NewOtelLogging(zapLogger *zap.Logger) OtelLogging {
	return &otelLog{logger: zapLogger, console: zapLogger}
}

func (l *otelLog) logSpan(span trace.Span, level, message string) []zap.Field {
	if span == nil || !span.SpanContext().IsValid() {
		return nil
	}
	traceID := span.SpanContext().TraceID().String()
	spanID := span.SpanContext().SpanID().String()

	if span.IsRecording() {
		span.AddEvent("log", trace.WithAttributes(
			attribute.String("log.level", level),
			attribute.String("log.message", message),
		))
	}
	return []zap.Field{zap.String("trace_id", traceID), zap.String("span_id", spanID)}
}

func (l *otelLog) LogJson(span trace.Span, label string, value interface{}) {
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		l.logger.Error("Failed to marshal JSON",
			zap.String("label", label),
			zap.Error(err),
		)
		return
	}

	fields := l.logSpan(span, "DEBUG", label)
	l.logger.Debug("Logging JSON", append(fields, zap.String(label, string(jsonBytes)))...)
}

func (l *otelLog) LogHttpResponse(span trace.Span, meta RequestMeta) {
	if span == nil {
		return
	}

	spanAttrs := []attribute.KeyValue{
		attribute.Int("http.status_code", meta.Status),
	}
	logFields := []zap.Field{
		zap.Int("http_status", meta.Status),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}

	add := func(attrKey, fieldKey, value string) {
		if value == "" {
			return
		}
		spanAttrs = append(spanAttrs, attribute.String(attrKey, value))
		logFields = append(logFields, zap.String(fieldKey, value))
	}
	add("http.path", "http_path", meta.Path)
	add("http.domain", "http_domain", meta.Domain)
	add("http.user_agent", "user_agent", meta.Agent)
	add("http.remote_ip", "remote_ip", meta.RemoteIP)
	add("http.query_params", "query_params", meta.Query)
	add("http.request_id", "request_id", meta.RequestID)
	if meta.Method != "" {
		logFields = append(logFields, zap.String("http_method", meta.Method))
	}

	span.SetAttributes(spanAttrs...)

	log := l.logger.With(logFields...)

	switch {
	case meta.Status >= 500:
		log.Error("Internal Server Error occurred")
	case meta.Status >= 400:
		log.Warn("Client error response recorded")
	case meta.Status >= 300:
		log.Info("Redirection response recorded")
	case meta.Status >= 200:
		log.Info("Successful response recorded")
	default:
		log.Info("Unexpected status code recorded")
	}
}

func BuildRequestMeta(r *http.Request, status int) RequestMeta {
	domain := r.URL.Hostname()
	if domain == "" {
		domain = r.Host
	}
	return RequestMeta{
		Status:    status,
		Path:      r.URL.Path,
		Domain:    domain,
		Agent:     r.UserAgent(),
		Method:    r.Method,
		RemoteIP:  r.RemoteAddr,
		Query:     r.URL.RawQuery,
		RequestID: r.Header.Get("X-Request-ID"),
	}
}

func (l *otelLog) Debug(span trace.Span, args ...interface{}) {
	msg := fmt.Sprint(args...)
	l.logger.Debug(msg, l.logSpan(span, "DEBUG", msg)...)
}

func (l *otelLog) Debugf(span trace.Span, template string, args ...interface{}) {
	l.Debug(span, fmt.Sprintf(template, args...))
}

func (l *otelLog) Info(span trace.Span, args ...interface{}) {
	msg := fmt.Sprint(args...)
	l.logger.Info(msg, l.logSpan(span, "INFO", msg)...)
}

func (l *otelLog) Infof(span trace.Span, template string, args ...interface{}) {
	l.Info(span, fmt.Sprintf(template, args...))
}

func (l *otelLog) Warn(span trace.Span, args ...interface{}) {
	msg := fmt.Sprint(args...)
	l.logger.Warn(msg, l.logSpan(span, "WARN", msg)...)
}

func (l *otelLog) Warnf(span trace.Span, template string, args ...interface{}) {
	l.Warn(span, fmt.Sprintf(template, args...))
}

func (l *otelLog) Error(span trace.Span, args ...interface{}) {
	msg := fmt.Sprint(args...)
	l.logger.Error(msg, l.logSpan(span, "ERROR", msg)...)
}

func (l *otelLog) Errorf(span trace.Span, template string, args ...interface{}) {
	l.Error(span, fmt.Sprintf(template, args...))
}

// ExportError reports a failed telemetry export on the console only, so a
// collector outage cannot feed back into the log pipeline.
func (l *otelLog) ExportError(err error) {
	l.console.Warn("Telemetry export failed", zap.Error(err))
}

func (l *otelLog) Fatal(span trace.Span, args ...interface{}) {
	msg := fmt.Sprint(args...)
	l.logger.Fatal(msg, l.logSpan(span, "FATAL", msg)...)
}

// Shutdown syncs the console core and flushes pending log records to the
// collector.
func (l *otelLog) Shutdown(ctx context.Context) error {
	_ = l.logger.Sync()
	if l.shutdown == nil {
		return nil
	}
	if err := l.shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down logger provider: %w", err)
	}
	return nil
}
