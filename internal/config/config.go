package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:        os.Getenv("DISCORD_TOKEN"),
		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
		DataDir:             getenv("DATA_DIR", "./data"),
		BotStatus:           getenv("BOT_STATUS", "online"),
		BotActivity:         getenv("BOT_ACTIVITY", "music"),

		PlaylistLimit:      getenvInt("PLAYLIST_LIMIT", 50),
		ResolveTimeout:     getenvDuration("RESOLVE_TIMEOUT", 30*time.Second),
		LocateTimeout:      getenvDuration("LOCATE_TIMEOUT", 30*time.Second),
		PauseStopAfter:     getenvDuration("PAUSE_STOP_AFTER", 5*time.Minute),
		ReconnectAttempts:  getenvInt("RECONNECT_ATTEMPTS", 3),
		ReconnectBackoff:   getenvDuration("RECONNECT_BACKOFF", 2*time.Second),
		IdleDisconnectWait: getenvDuration("IDLE_DISCONNECT_WAIT", 30*time.Second),

		RegisterCommandsOnBot: getenv("REGISTER_COMMANDS_ON_BOT", "false") == "true",
	}

	if cfg.DiscordToken == "" {
		return nil, ErrConfig("DISCORD_TOKEN required")
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)
	return cfg, nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
