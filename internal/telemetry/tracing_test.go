package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gellingson/carbyr/internal/config"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_NoneExporter(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Exporter: "none", ServiceName: "carbyr-test", SampleRate: 1}
	shutdown, err := InitTracing(context.Background(), cfg, "test")
	require.NoError(t, err)

	_, span := GetTracer("carbyr/test").Start(context.Background(), "poll")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr string
	}{
		{"bad sample rate", config.TracingConfig{Enabled: true, Exporter: "none", SampleRate: 2}, "invalid sample rate"},
		{"bad exporter", config.TracingConfig{Enabled: true, Exporter: "jaeger", SampleRate: 1}, "unsupported exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InitTracing(context.Background(), tt.cfg, "test")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewSampler(t *testing.T) {
	always, err := newSampler(1)
	require.NoError(t, err)
	assert.Equal(t, "AlwaysOnSampler", always.Description())

	never, err := newSampler(0)
	require.NoError(t, err)
	assert.Equal(t, "AlwaysOffSampler", never.Description())

	ratio, err := newSampler(0.25)
	require.NoError(t, err)
	assert.Contains(t, ratio.Description(), "TraceIDRatioBased")
}
