package tracing

import (
	"context"
	"testing"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitialize_Disabled(t *testing.T) {
	shutdown, err := Initialize(context.Background(), &config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")
}

func TestInitialize_UnsupportedProvider(t *testing.T) {
	shutdown, err := Initialize(context.Background(), &config.TracingConfig{
		Enabled:     true,
		Provider:    "zipkin",
		Endpoint:    "localhost:9411",
		ServiceName: "securityheaders",
	})
	assert.Error(t, err)
	assert.Nil(t, shutdown)
	assert.Contains(t, err.Error(), "unsupported tracing provider")
}

func TestInitialize_OTLP(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	shutdown, err := Initialize(context.Background(), &config.TracingConfig{
		Enabled:     true,
		Provider:    "otlp",
		Endpoint:    "localhost:4318",
		ServiceName: "securityheaders",
		SampleRate:  1,
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NotEqual(t, prev, otel.GetTracerProvider())

	// nothing was recorded, so shutdown does not need the collector
	assert.NoError(t, shutdown(context.Background()))
}

func TestExporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions("https://collector.example.com:4318/v1/traces"), 1)
	assert.Len(t, exporterOptions("localhost:4318"), 2)
}
