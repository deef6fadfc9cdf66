package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/config"
)

func TestNewAppliesDefaults(t *testing.T) {
	c := config.New()
	require.Equal(t, time.Second, c.BaseBackoff)
	require.Equal(t, 2*time.Minute, c.MaxBackoff)
	require.Equal(t, 500, c.MaxSubscriptions)
	require.Equal(t, 4096, c.BusBufferSize)
	require.Equal(t, float64(60), c.NotesPerMinute)
	require.Equal(t, 3, c.ReadRelaysPerUser)
	require.Equal(t, time.Hour, c.GossipFreshness)
	require.False(t, c.UseTor)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("RELAYSDK_MAX_REQS", "42")
	t.Setenv("RELAYSDK_BASE_BACKOFF", "250ms")
	c := config.New()
	require.Equal(t, 42, c.MaxSubscriptions)
	require.Equal(t, 250*time.Millisecond, c.BaseBackoff)
}
