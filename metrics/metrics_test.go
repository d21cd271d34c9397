package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewStateCollector(reg)

	require.NoError(t, err)
	require.NotNil(t, c)

	// Registering twice must fail.
	_, err = NewStateCollector(reg)
	assert.Error(t, err)
}

func TestStateCollectorTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewStateCollector(reg)
	require.NoError(t, err)

	c.OnReconnecting(1)
	c.OnReconnecting(2)
	c.OnConnected()
	c.OnDisconnected(assert.AnError)
	c.OnConnected()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.connects))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.disconnects))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.reconnectAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.connected))
}
