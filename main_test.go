package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"recommendations/client"
	"recommendations/config"
	"recommendations/logs"
	"recommendations/tracer"
)

const wantBody = `{"product_id":"abc","recommendations":["prod-101","prod-102","prod-103"]}`

type testService struct {
	url      string
	tp       *tracer.Provider
	exporter *tracetest.InMemoryExporter
}

func newTestService(t *testing.T) *testService {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp, err := tracer.InitTracer(context.Background(), config.Default().Tracing, tracer.WithExporter(exporter))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	srv := httptest.NewServer(newMux(tp, logs.NewOtelLogging(zap.NewNop())))
	t.Cleanup(srv.Close)

	return &testService{url: srv.URL, tp: tp, exporter: exporter}
}

func (s *testService) spans(t *testing.T) tracetest.SpanStubs {
	t.Helper()
	require.NoError(t, s.tp.ForceFlush(context.Background()))
	return s.exporter.GetSpans()
}

func get(t *testing.T, url string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestRecommendationsEndpoint(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	resp, body := get(t, svc.url+"/recommendations?product_id=abc", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, wantBody, body)

	spans := svc.spans(t)
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /recommendations", spans[0].Name)
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind)
	assert.False(t, spans[0].Parent.IsValid())
}

func TestRecommendationsTraceContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		traceparent string
		wantParent  string
	}{
		{
			name:        "propagated context",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantParent:  "00f067aa0ba902b7",
		},
		{name: "garbage header", traceparent: "not a traceparent"},
		{name: "unsupported version", traceparent: "ff-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newTestService(t)
			header := http.Header{}
			header.Set("traceparent", tt.traceparent)

			resp, body := get(t, svc.url+"/recommendations?product_id=abc", header)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, wantBody, body)

			spans := svc.spans(t)
			require.Len(t, spans, 1)
			if tt.wantParent == "" {
				assert.False(t, spans[0].Parent.IsValid())
				return
			}
			assert.Equal(t, tt.wantParent, spans[0].Parent.SpanID().String())
			assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext.TraceID().String())
		})
	}
}

func TestUnknownRoutes(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	resp, _ := get(t, svc.url+"/products", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	post, err := http.Post(svc.url+"/recommendations", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	_ = post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)

	assert.Empty(t, svc.spans(t))
}

func TestOneSpanPerRequest(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	const requests = 20

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(svc.url + "/recommendations?product_id=abc")
			if !assert.NoError(t, err) {
				return
			}
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			assert.Equal(t, wantBody, string(body))
		}()
	}
	wg.Wait()

	spans := svc.spans(t)
	assert.Len(t, spans, requests)
	seen := map[trace.SpanID]bool{}
	for _, s := range spans {
		seen[s.SpanContext.SpanID()] = true
	}
	assert.Len(t, seen, requests)
}

func TestClientPropagatesTraceContext(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	callerSpans := tracetest.NewSpanRecorder()
	callerTP := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(callerSpans))
	t.Cleanup(func() { _ = callerTP.Shutdown(context.Background()) })

	c := client.New(svc.url, nil, callerTP.Tracer("inventory"), propagation.TraceContext{})
	resp, err := c.Recommendations(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", resp.ProductID)
	assert.Equal(t, []string{"prod-101", "prod-102", "prod-103"}, resp.Recommendations)

	ended := callerSpans.Ended()
	require.Len(t, ended, 1)
	clientSpan := ended[0]
	assert.Equal(t, trace.SpanKindClient, clientSpan.SpanKind())

	spans := svc.spans(t)
	require.Len(t, spans, 1)
	assert.Equal(t, clientSpan.SpanContext().TraceID(), spans[0].SpanContext.TraceID())
	assert.Equal(t, clientSpan.SpanContext().SpanID(), spans[0].Parent.SpanID())
	assert.True(t, spans[0].Parent.IsRemote())
}

func TestClientRejectsNonOK(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	c := client.New(svc.url+"/missing", nil, noop.NewTracerProvider().Tracer("inventory"), propagation.TraceContext{})

	_, err := c.Recommendations(context.Background(), "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestRunStopsOnSignalWithinGrace(t *testing.T) {
	var exports atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exports.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := config.Default()
	cfg.Server.Addr = addr
	cfg.Server.ShutdownGrace = 500 * time.Millisecond
	cfg.Server.PollInterval = 20 * time.Millisecond
	cfg.Tracing.CollectorURL = collector.URL + "/v1/traces"
	cfg.Logging.CollectorURL = collector.URL + "/v1/logs"

	l, err := newLogger(context.Background(), cfg)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- run(context.Background(), cfg, l, syscall.SIGTERM) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/recommendations?product_id=abc")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	// A request whose headers never finish keeps its connection active.
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("GET /recommendations?product_id=abc HTTP/1.1\r\nHost: test\r\n"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	started := time.Now()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after SIGTERM")
	}
	assert.Less(t, time.Since(started), cfg.Server.ShutdownGrace+time.Second)
	assert.Positive(t, exports.Load())

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestGraceContext(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := graceContext(parent, 100*time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("grace started before the parent was cancelled")
	case <-time.After(150 * time.Millisecond):
	}

	cancelParent()
	assert.NoError(t, ctx.Err())
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("grace period never expired")
	}
}
