package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

// Settings is per-guild behavior persisted across restarts. Defaults live in
// the migration, not in code.
type Settings struct {
	GuildID               string
	PlaylistLimit         int
	SecondsWaitAfterEmpty int
	LeaveIfNoListeners    bool
	AutoAnnounceNext      bool
	DefaultQueuePageSize  int
}

// Favorite is a named query a guild member saved for later replay.
type Favorite struct {
	ID      int64
	GuildID string
	Author  string
	Name    string
	Query   string
}
