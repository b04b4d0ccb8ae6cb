package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"recommendations/logs"
)

// RecommendationsResponse is the body returned by GET /recommendations.
type RecommendationsResponse struct {
	ProductID       string   `json:"product_id"`
	Recommendations []string `json:"recommendations"`
}

// Recommendations returns the fixed list served for every product.
func Recommendations() []string {
	return []string{"prod-101", "prod-102", "prod-103"}
}

// RecommendationsHandler answers with the fixed recommendation list, echoing
// the product_id query parameter. A missing parameter is an empty string.
func RecommendationsHandler(l logs.OtelLogging) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())

		resp := RecommendationsResponse{
			ProductID:       r.URL.Query().Get("product_id"),
			Recommendations: Recommendations(),
		}

		// product_id is echoed as sent; '&', '<' and '>' stay unescaped.
		var body bytes.Buffer
		enc := json.NewEncoder(&body)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(resp); err != nil {
			l.Error(span, "Failed to encode recommendations: ", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		l.LogJson(span, "response_body", resp)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bytes.TrimSuffix(body.Bytes(), []byte("\n")))
	}
}
