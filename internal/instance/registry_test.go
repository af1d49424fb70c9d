package instance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/outbox/internal/adapters/memory"
	"github.com/relaykit/outbox/internal/core"
)

func TestRegisterAndHeartbeat(t *testing.T) {
	store := memory.NewStore()
	reg := New(store.Instances(), DefaultConfig(), nil)

	self, err := reg.Register(context.Background(), "host-1", 9000)
	require.NoError(t, err)
	require.NotEmpty(t, self.InstanceID)

	require.NoError(t, reg.Heartbeat(context.Background()))

	active, err := reg.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, self.InstanceID, active[0].InstanceID)
}

func TestHeartbeatReRegistersWhenRowMissing(t *testing.T) {
	store := memory.NewStore()
	reg := New(store.Instances(), DefaultConfig(), nil)

	self, err := reg.Register(context.Background(), "host-1", 9000)
	require.NoError(t, err)

	// Simulate another process sweeping this row as stale mid-flight.
	require.NoError(t, store.Instances().Delete(context.Background(), self.InstanceID))

	require.NoError(t, reg.Heartbeat(context.Background()))

	active, err := reg.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, self.InstanceID, active[0].InstanceID)
	assert.Equal(t, core.InstanceActive, active[0].Status)
}

func TestShutdownWaitsOutGracefulTimeoutThenDeletes(t *testing.T) {
	store := memory.NewStore()
	cfg := DefaultConfig()
	cfg.GracefulShutdownTimeout = 3 * time.Second
	reg := New(store.Instances(), cfg, nil)

	self, err := reg.Register(context.Background(), "host-1", 9000)
	require.NoError(t, err)

	var slept time.Duration
	reg.sleep = func(d time.Duration) { slept = d }

	require.NoError(t, reg.Shutdown(context.Background()))
	assert.Equal(t, 3*time.Second, slept)

	active, err := store.Instances().ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
	_ = self
}
