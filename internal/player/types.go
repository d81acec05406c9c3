package player

import (
	"context"

	"github.com/calliope-bot/calliope/internal/stream"
	"github.com/google/uuid"
)

type ReferenceKind int

const (
	ReferenceURL ReferenceKind = iota
	ReferenceSearch
)

// TrackReference is raw user input for one enqueue request. It is consumed
// by a Resolver immediately and never stored.
type TrackReference struct {
	Kind        ReferenceKind
	Raw         string
	RequestedBy string
}

type MediaKind int

const (
	SourceYouTube MediaKind = iota
	SourceHLS
)

// QueuedPlaylist records which playlist or album an entry came from.
type QueuedPlaylist struct {
	Title  string
	Source string
}

// Track is a resolved, playable candidate. Immutable once created; owned by
// the queue entry that holds it.
type Track struct {
	Title       string
	Artist      string
	VideoID     string
	URL         string // youtube video URL or full HLS URL
	Duration    int    // seconds; 0 means unknown until decode starts
	IsLive      bool
	Thumbnail   string
	Source      MediaKind
	Playlist    *QueuedPlaylist
	RequestedBy string
}

// QueueEntry wraps a Track with the id commands use to address it. Ids are
// unique for the session's lifetime, so "remove entry 7" stays unambiguous
// under concurrent reordering.
type QueueEntry struct {
	ID    uint64
	Track Track
}

type Status int

const (
	StatusIdle Status = iota
	StatusPlaying
	StatusPaused
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStopping:
		return "stopping"
	}
	return "unknown"
}

type EventKind int

const (
	EventTrackStarted EventKind = iota
	EventTrackEnded
	EventQueueEmpty
	EventError
)

type EndReason int

const (
	EndFinished EndReason = iota
	EndSkipped
	EndStopped
	EndDecodeError
	EndLocateError
	EndTransportError
)

func (r EndReason) String() string {
	switch r {
	case EndFinished:
		return "finished"
	case EndSkipped:
		return "skipped"
	case EndStopped:
		return "stopped"
	case EndDecodeError:
		return "decode error"
	case EndLocateError:
		return "locate error"
	case EndTransportError:
		return "transport error"
	}
	return "unknown"
}

// Event is a status notification for the command/notification layer.
type Event struct {
	Kind    EventKind
	GuildID string
	PlayID  uuid.UUID // correlates TrackStarted/TrackEnded of one playback
	Track   *Track
	Reason  EndReason
	Err     error
}

// Resolver normalizes a user reference into playable tracks. Playlist
// references may expand into more than one track.
type Resolver interface {
	Resolve(ctx context.Context, ref TrackReference) ([]Track, error)
}

// Locator turns a resolved track into a streamable source just before
// playback starts, never at enqueue time.
type Locator interface {
	Locate(ctx context.Context, t Track) (stream.Source, error)
}

// Pipeline produces the frame stream for one track.
type Pipeline interface {
	Start(ctx context.Context, src stream.Source) (stream.FrameStream, error)
}

// Sink is the voice transport for one session. Exclusively owned by that
// session's engine; only the current track's delivery loop writes to it.
type Sink interface {
	SendFrame(ctx context.Context, f stream.Frame) error
	Speaking(on bool) error
	Close() error
}

// Transport opens voice channel connections.
type Transport interface {
	Open(ctx context.Context, guildID, channelID string) (Sink, error)
}
