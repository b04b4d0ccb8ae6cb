package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"recommendations/handlers"
)

// Client calls the recommendations service, propagating the caller's trace
// context.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func New(baseURL string, httpClient *http.Client, tracer trace.Tracer, propagator propagation.TextMapPropagator) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tracer:     tracer,
		propagator: propagator,
	}
}

// Recommendations fetches the recommendations for productID inside a client
// span whose context is injected into the request headers.
func (c *Client) Recommendations(ctx context.Context, productID string) (*handlers.RecommendationsResponse, error) {
	target := c.baseURL + "/recommendations?" + url.Values{"product_id": {productID}}.Encode()

	ctx, span := c.tracer.Start(ctx, "GET /recommendations",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", http.MethodGet),
			attribute.String("http.url", target),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create recommendations request: %w", err)
	}
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("recommendations request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		return nil, fmt.Errorf("recommendations request returned %s", resp.Status)
	}

	var out handlers.RecommendationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to decode recommendations response: %w", err)
	}
	return &out, nil
}
