package telemetry

import (
	"context"
	"testing"

	"github.com/arisu-i18n/arisu/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracing_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestInitTracing_DiscardExporter(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:     true,
		Exporter:    "none",
		ServiceName: "arisu-test",
		SampleRate:  1,
	}, "1.2.3")
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "sdk tracer provider installed")

	_, span := otel.Tracer("test").Start(context.Background(), "work")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
		want string
	}{
		{"sample rate too high", config.TracingConfig{Enabled: true, Exporter: "none", SampleRate: 1.5}, "invalid sample rate"},
		{"negative sample rate", config.TracingConfig{Enabled: true, Exporter: "none", SampleRate: -0.1}, "invalid sample rate"},
		{"unknown exporter", config.TracingConfig{Enabled: true, Exporter: "zipkin", SampleRate: 1}, `unsupported exporter "zipkin"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InitTracing(context.Background(), tt.cfg, "test")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
