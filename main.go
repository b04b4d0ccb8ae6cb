package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"recommendations/config"
	"recommendations/handlers"
	"recommendations/logs"
	"recommendations/middleware"
	"recommendations/server"
	"recommendations/tracer"
)

func main() {
	cfg := config.Default()

	l, err := newLogger(context.Background(), cfg)
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}

	if err := run(context.Background(), cfg, l, syscall.SIGINT, syscall.SIGTERM); err != nil {
		l.Fatal(nil, err)
	}
}

func newLogger(ctx context.Context, cfg config.Config) (logs.OtelLogging, error) {
	builder := logs.NewOtelLoggerBuilder().
		WithServiceName(cfg.Logging.ServiceName).
		WithServiceVersion(cfg.Tracing.ServiceVersion).
		WithFlushTimeout(cfg.Server.ShutdownGrace)
	if cfg.Logging.Console {
		builder = builder.WithConsoleExporter()
	} else {
		builder = builder.WithEndpointUrl(cfg.Logging.CollectorURL)
	}
	return builder.Build(ctx)
}

// run serves until one of signals arrives or ctx is cancelled. The listener
// shutdown and the span and log flushes share one grace period that starts
// when the signal is received.
func run(ctx context.Context, cfg config.Config, l logs.OtelLogging, signals ...os.Signal) error {
	// Signals only cancel the context.
	ctx, stop := signal.NotifyContext(ctx, signals...)
	defer stop()

	otel.SetErrorHandler(otel.ErrorHandlerFunc(l.ExportError))

	tp, err := tracer.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	l.Info(nil, "Tracer initialized successfully")

	flushCtx, cancelFlush := graceContext(ctx, cfg.Server.ShutdownGrace)
	defer cancelFlush()

	srv := server.New(cfg.Server.Addr, newMux(tp, l), l,
		server.WithShutdownGrace(cfg.Server.ShutdownGrace),
		server.WithPollInterval(cfg.Server.PollInterval),
	)
	started := time.Now()
	serveErr := srv.Run(ctx)

	// A listener failure stops the server without a signal.
	flushCtx, cancelTimeout := context.WithTimeout(flushCtx, cfg.Server.ShutdownGrace)
	defer cancelTimeout()
	if err := tp.Shutdown(flushCtx); err != nil {
		l.ExportError(err)
	}
	if serveErr != nil {
		return serveErr
	}

	l.Infof(nil, "Server stopped after %s", time.Since(started).Round(time.Second))
	if err := l.Shutdown(flushCtx); err != nil {
		l.ExportError(err)
	}
	return nil
}

// graceContext returns a context that expires grace after parent is done.
// Cancelling it early releases the timer.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stopAfter := context.AfterFunc(parent, func() {
		timer := time.AfterFunc(grace, cancel)
		context.AfterFunc(ctx, func() { timer.Stop() })
	})
	return ctx, func() {
		stopAfter()
		cancel()
	}
}

// newMux builds the route table. Paths other than /recommendations get the
// mux's default not-found response.
func newMux(tp *tracer.Provider, l logs.OtelLogging) http.Handler {
	const route = "GET /recommendations"

	traced := middleware.TraceMiddleware(tp.Tracer(), tp.Propagator(), route, l)

	mux := http.NewServeMux()
	mux.Handle(route, traced(handlers.RecommendationsHandler(l)))
	return mux
}
