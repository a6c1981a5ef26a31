package probe

import (
	"context"
	"crypto/rand"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// withProbeSpan synthesizes a sampled span context for one probe run. No
// tracer SDK is involved; the span context exists so the traceparent header
// on the outbound request and the trace_id on our log lines let a probe run
// be located in the proxy's logs.
func withProbeSpan(ctx context.Context) context.Context {
	var traceID trace.TraceID
	var spanID trace.SpanID
	_, _ = rand.Read(traceID[:])
	_, _ = rand.Read(spanID[:])

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	return trace.ContextWithSpanContext(ctx, spanCtx)
}

// decorate stamps correlation headers onto an outbound request: a fresh
// X-Request-ID and the W3C traceparent carrying the probe span context.
func decorate(req *http.Request) {
	req.Header.Set("X-Request-ID", uuid.New().String())
	propagation.TraceContext{}.Inject(req.Context(), propagation.HeaderCarrier(req.Header))
}
