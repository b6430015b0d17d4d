package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	cache, err := cfg.GetCache()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cache.TTL)
	assert.Less(t, cache.ResyncInterval, cache.TTL, "reconciler must refresh keys before they expire")

	esc := cfg.GetEscalation()
	assert.Equal(t, 0.7, esc.AIConfidenceThreshold)
	assert.Equal(t, int64(5), esc.RepeatOffenderThreshold)
	assert.False(t, esc.TenantFallback)

	cleanup, err := cfg.GetCleanup()
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, cleanup.DenyMaxAge)
	assert.Equal(t, int64(3), cleanup.DenyMinHits)

	relay, err := cfg.GetRelay()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, relay.Timeout)
}

func TestInvalidDuration(t *testing.T) {
	v := NewEmptyViper()
	v.Set("relay.timeout", "soon")
	cfg := NewFromViper(v)

	_, err := cfg.GetRelay()
	assert.ErrorContains(t, err, "relay.timeout")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load("/nonexistent/mailguard.yaml")
	assert.Error(t, err)
}
