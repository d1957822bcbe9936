package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/autoreply/internal/config"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_UnknownProtocol(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true, Protocol: "udp"})
	assert.ErrorContains(t, err, "unknown protocol")
}

func TestNewExporter_BothProtocols(t *testing.T) {
	for _, proto := range []string{"", "http", "grpc"} {
		exp, err := newExporter(context.Background(), config.TelemetryConfig{
			Enabled: true, Protocol: proto, Endpoint: "127.0.0.1:4318", Insecure: true,
			Headers: map[string]string{"x-team": "sellers"},
		})
		require.NoError(t, err, proto)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = exp.Shutdown(ctx)
		cancel()
	}
}
