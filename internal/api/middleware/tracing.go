package middleware

import (
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/arisu-i18n/arisu/internal/api"

// Tracing starts a server span per request, continuing any W3C trace context
// the caller sent. It must run inside CorrelationID so the span can carry the
// request id; sampled requests also get a trace_id on their logger.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer(tracerName)
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(r.Method),
				semconv.HTTPTarget(r.URL.Path),
				semconv.HTTPScheme(schemeFromRequest(r)),
				semconv.NetHostName(r.Host),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		if requestID := GetRequestID(ctx); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		if sc := span.SpanContext(); sc.IsValid() {
			logger := zerolog.Ctx(ctx).With().Str("trace_id", sc.TraceID().String()).Logger()
			ctx = logger.WithContext(ctx)
		}

		tw := &tracingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(tw, r.WithContext(ctx))

		span.SetAttributes(semconv.HTTPStatusCode(tw.status))
		if tw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(tw.status))
		}
	})
}

type tracingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *tracingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *tracingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func schemeFromRequest(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
