package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/zoff-tech/payment-relay/pkg/config"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Observability{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Observability
		wantErr string
	}{
		{
			name:    "empty service name",
			cfg:     config.Observability{Enabled: true, TracingURL: "localhost:4318"},
			wantErr: "service name cannot be empty",
		},
		{
			name:    "empty tracing url",
			cfg:     config.Observability{Enabled: true, ServiceName: "payment-relay"},
			wantErr: "tracing URL cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Init(context.Background(), tt.cfg)
			assert.EqualError(t, err, tt.wantErr)
			assert.Nil(t, shutdown)
		})
	}
}

func TestInit_InstallsProvider(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")

	shutdown, err := Init(context.Background(), config.Observability{
		Enabled:     true,
		ServiceName: "payment-relay",
		TracingURL:  "localhost:4318",
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, isTraceContext := otel.GetTextMapPropagator().(propagation.TraceContext)
	assert.True(t, isTraceContext)

	_, isSDKProvider := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDKProvider)

	assert.NoError(t, shutdown(context.Background()))
}
