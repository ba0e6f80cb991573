package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/mailflow/config"
)

// restoreGlobals puts the global providers back after the test.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobals(t)
	p, err := Init(context.Background(), config.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("mailflow"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_SpanExporter(t *testing.T) {
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()
	p, err := Init(context.Background(), config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "mailflow-test",
		SampleRate:  1,
	}, zaptest.NewLogger(t), WithSpanExporter(exp), WithServiceVersion("1.2.3"))
	require.NoError(t, err)
	require.True(t, p.Enabled())
	assert.Nil(t, p.mp)

	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK)

	_, span := p.Tracer("mailflow/test").Start(context.Background(), "workflow.execute")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.execute", spans[0].Name)

	var version string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.version" {
			version = kv.Value.AsString()
		}
	}
	assert.Equal(t, "1.2.3", version)
}

func TestInit_ZeroSampleRateDropsRootSpans(t *testing.T) {
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()
	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: true, ServiceName: "mailflow"},
		zaptest.NewLogger(t), WithSpanExporter(exp))
	require.NoError(t, err)

	_, span := p.Tracer("mailflow").Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Empty(t, exp.GetSpans())
}

func TestInit_OTLP(t *testing.T) {
	restoreGlobals(t)
	p, err := Init(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "mailflow-test",
		SampleRate:   0.5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p.tp)
	require.NotNil(t, p.mp)

	_, isSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDK)

	// no collector is running; only check shutdown returns within the deadline
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestProviders_NilSafe(t *testing.T) {
	var p *Providers
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("x"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	assert.Equal(t, "dev", buildVersion())
}
