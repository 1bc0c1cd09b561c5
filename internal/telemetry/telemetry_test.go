package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/config"
)

func TestSetup_NoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Config{OTelEnabled: true})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_NoopWhenDisabled(t *testing.T) {
	cfg := config.Config{OTelEndpoint: "http://localhost:4318", OTelEnabled: false}
	shutdown, err := Setup(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx), "noop shutdown ignores a canceled context")
}

func TestSetup_CreatesProvider(t *testing.T) {
	// Non-routable address: nothing is exported because no span is ended.
	cfg := config.Config{OTelEndpoint: "http://192.0.2.1:4318", OTelEnabled: true}
	shutdown, err := Setup(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
