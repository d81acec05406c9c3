package media

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/calliope-bot/calliope/internal/player"
	"github.com/calliope-bot/calliope/internal/stream"
)

// reuseWindow bounds how long a resolved media URL may be served from the
// cache. Google's signed URLs last around six hours; staying under that keeps
// a re-queued track from starting on a link about to die.
const reuseWindow = 5 * time.Hour

type cachedURL struct {
	url string
	at  time.Time
}

// Locator resolves a track's playable media URL just before playback. URLs
// are memoized per video so a skip-and-requeue does not spawn a second
// extractor run.
type Locator struct {
	yt *Client

	mu    sync.Mutex
	cache map[string]cachedURL
}

func NewLocator(yt *Client) *Locator {
	return &Locator{yt: yt, cache: make(map[string]cachedURL)}
}

// Locate implements player.Locator.
func (l *Locator) Locate(ctx context.Context, t player.Track) (stream.Source, error) {
	if t.Source == player.SourceHLS {
		return stream.Source{URL: t.URL, IsLive: true}, nil
	}

	if u, ok := l.cached(t.VideoID); ok {
		return stream.Source{URL: u, IsLive: t.IsLive}, nil
	}

	pageURL := t.URL
	if pageURL == "" {
		pageURL = "https://www.youtube.com/watch?v=" + t.VideoID
	}
	info, err := l.yt.GetInfo(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return stream.Source{}, ctx.Err()
		}
		return stream.Source{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	u := AudioURL(info)
	if u == "" {
		return stream.Source{}, fmt.Errorf("%w: no playable format for %s", ErrUnavailable, t.VideoID)
	}
	if expired(u, time.Now()) {
		return stream.Source{}, fmt.Errorf("%w: %s", ErrExpired, t.VideoID)
	}

	l.mu.Lock()
	l.cache[t.VideoID] = cachedURL{url: u, at: time.Now()}
	l.mu.Unlock()

	return stream.Source{URL: u, IsLive: t.IsLive || info.IsLive}, nil
}

func (l *Locator) cached(videoID string) (string, bool) {
	if videoID == "" {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cache[videoID]
	if !ok {
		return "", false
	}
	if time.Since(c.at) > reuseWindow || expired(c.url, time.Now()) {
		delete(l.cache, videoID)
		return "", false
	}
	return c.url, true
}

// expired reports whether the URL carries an "expire" unix-seconds query
// parameter that already passed. URLs without one never expire here.
func expired(raw string, now time.Time) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	e := u.Query().Get("expire")
	if e == "" {
		return false
	}
	sec, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		return false
	}
	return now.Unix() >= sec
}
