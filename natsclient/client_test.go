package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/metric"
	"github.com/c360/gii/pkg/retry"
)

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "closed", StatusClosed.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("giid"),
		WithTimeout(time.Second),
		WithMaxReconnects(3),
		WithCredentials("gii", "secret"),
		WithMetrics(metric.NewMetricsRegistry()),
	)
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.NotNil(t, c.connected)
	assert.Len(t, c.options(), 8)

	_, err = NewClient("nats://x", WithTimeout(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://x", WithCredentials("", "pw"))
	assert.Error(t, err)
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.GetKeyValueBucket(context.Background(), "units")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Close(context.Background()))
}

func TestClient_ConnectFailure(t *testing.T) {
	var health []bool
	c, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(50*time.Millisecond),
		WithConnectRetry(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		WithHealthChangeCallback(func(up bool) { health = append(health, up) }),
	)
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Empty(t, health)
}

func TestClient_HealthCallback(t *testing.T) {
	var health []bool
	c, err := NewClient("nats://x", WithHealthChangeCallback(func(up bool) { health = append(health, up) }))
	require.NoError(t, err)

	c.setStatus(StatusConnected)
	c.setStatus(StatusConnected)
	c.setStatus(StatusReconnecting)
	assert.Equal(t, []bool{true, false}, health)
}
