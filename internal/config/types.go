package config

import "time"

type Config struct {
	DiscordToken        string
	SpotifyClientID     string
	SpotifyClientSecret string
	DataDir             string
	BotStatus           string // online/dnd/idle
	BotActivity         string

	PlaylistLimit      int
	ResolveTimeout     time.Duration
	LocateTimeout      time.Duration
	PauseStopAfter     time.Duration // stop the decode pipeline when paused longer than this
	ReconnectAttempts  int
	ReconnectBackoff   time.Duration // base delay, doubled per attempt
	IdleDisconnectWait time.Duration // default, overridable per guild

	RegisterCommandsOnBot bool
}
