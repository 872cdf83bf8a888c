package telemetry_test

import (
	"context"
	"media-analysis-backend/internal/telemetry"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), "", "test", "dev", true)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	counter, err := telemetry.Meter("test").Int64Counter("noop.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := telemetry.Tracer("test").Start(context.Background(), "noop")
	span.End()
}
