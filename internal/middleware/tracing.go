package middleware

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing opens a server span per request, tagged with the station it serves.
// Spans are named after the matched chi pattern (e.g. "POST
// /api/v1/checkout/authorize"); otelhttp applies the name again once routing
// has filled in the pattern.
func Tracing(stationID string, opts ...otelhttp.Option) func(http.Handler) http.Handler {
	opts = append([]otelhttp.Option{otelhttp.WithSpanNameFormatter(spanName)}, opts...)
	return func(next http.Handler) http.Handler {
		tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if stationID != "" {
				trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("pos.station_id", stationID))
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(tagged, "http.request", opts...)
	}
}

func spanName(_ string, r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return fmt.Sprintf("%s %s", r.Method, rctx.RoutePattern())
	}
	if r.Pattern != "" {
		return r.Pattern
	}
	return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
}
