package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/outbox/internal/resilience"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	cfg.Storage.DSN = "postgres://localhost/outbox"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownStorageProfile(t *testing.T) {
	cfg := Default()
	cfg.Storage.Profile = "unknown"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsStaleAfterNotExceedingHeartbeat(t *testing.T) {
	cfg := Default()
	cfg.Storage.DSN = "postgres://localhost/outbox"
	cfg.Instance.StaleAfter = cfg.Instance.HeartbeatInterval
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Storage.DSN = "postgres://localhost/outbox"
	cfg.Retry.Policy = "UNKNOWN"
	assert.Error(t, cfg.Validate())
}

func TestRetryConfigToPolicyConfigPicksMatchingSubGroup(t *testing.T) {
	rc := RetryConfig{
		MaxRetries: 3,
		Policy:     resilience.KindLinear,
		JitterMS:   25,
		Linear:     LinearRetryConfig{Initial: 100 * time.Millisecond, Increment: 50 * time.Millisecond, Max: 1 * time.Second},
	}
	pc := rc.ToPolicyConfig()
	assert.Equal(t, resilience.KindLinear, pc.Kind)
	assert.Equal(t, 100*time.Millisecond, pc.BaseDelay)
	assert.Equal(t, 50*time.Millisecond, pc.Increment)
	assert.Equal(t, 1*time.Second, pc.MaxDelay)
	assert.True(t, pc.Jitter)
	assert.Equal(t, 25*time.Millisecond, pc.JitterMax)
	assert.Equal(t, 3, pc.MaxRetries)
}
