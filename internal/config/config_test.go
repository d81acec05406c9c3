package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token123")
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "token123", cfg.DiscordToken)
	assert.Equal(t, 50, cfg.PlaylistLimit)
	assert.Equal(t, 30*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, 5*time.Minute, cfg.PauseStopAfter)
	assert.Equal(t, 3, cfg.ReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, 30*time.Second, cfg.IdleDisconnectWait)
	assert.False(t, cfg.RegisterCommandsOnBot)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token123")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PLAYLIST_LIMIT", "10")
	t.Setenv("RESOLVE_TIMEOUT", "5s")
	t.Setenv("RECONNECT_ATTEMPTS", "1")
	t.Setenv("REGISTER_COMMANDS_ON_BOT", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.PlaylistLimit)
	assert.Equal(t, 5*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, 1, cfg.ReconnectAttempts)
	assert.True(t, cfg.RegisterCommandsOnBot)
}

func TestLoadConfigRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	_, err := LoadConfig()
	require.Error(t, err)
}
