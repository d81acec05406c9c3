// Package resolver turns user track references (URLs, provider URIs, free
// text) into concrete playable tracks. Metadata-only providers are bridged to
// the playable provider by a derived search.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/calliope-bot/calliope/internal/config"
	"github.com/calliope-bot/calliope/internal/media"
	"github.com/calliope-bot/calliope/internal/player"
	"github.com/calliope-bot/calliope/internal/spotify"
	"github.com/calliope-bot/calliope/internal/utils"
)

type Resolver struct {
	cfg    *config.Config
	yt     *media.Client
	sp     *spotify.Client // nil when Spotify credentials are not configured
	search SearchClient
}

func New(cfg *config.Config, yt *media.Client, sp *spotify.Client, search SearchClient) *Resolver {
	return &Resolver{cfg: cfg, yt: yt, sp: sp, search: search}
}

// Resolve implements player.Resolver. It never touches media URLs; those are
// located just in time when the track starts.
func (r *Resolver) Resolve(ctx context.Context, ref player.TrackReference) ([]player.Track, error) {
	q := strings.TrimSpace(ref.Raw)
	if q == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrMalformed)
	}

	if strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://") || strings.HasPrefix(q, "spotify:") {
		if isSpotify(q) {
			return r.resolveSpotify(ctx, q)
		}
		if isYouTube(q) {
			if strings.Contains(q, "list=") {
				return r.resolveYouTubePlaylist(ctx, q)
			}
			return r.resolveYouTubeVideo(ctx, q)
		}
		return resolveDirectStream(q)
	}

	return r.resolveSearch(ctx, q)
}

func isSpotify(q string) bool {
	return strings.HasPrefix(q, "spotify:") || strings.Contains(q, "open.spotify.com")
}

func isYouTube(q string) bool {
	return strings.Contains(q, "youtube.com") || strings.Contains(q, "youtu.be") || strings.Contains(q, "music.youtube.")
}

// resolveSearch picks the top-ranked candidate for a free-text query.
func (r *Resolver) resolveSearch(ctx context.Context, q string) ([]player.Track, error) {
	cands, err := r.search.Search(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, q)
	}
	return []player.Track{candidateTrack(cands[0], nil)}, nil
}

func (r *Resolver) resolveYouTubeVideo(ctx context.Context, q string) ([]player.Track, error) {
	info, err := r.yt.GetInfo(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, q)
	}
	return []player.Track{infoTrack(*info, nil)}, nil
}

func (r *Resolver) resolveYouTubePlaylist(ctx context.Context, q string) ([]player.Track, error) {
	infos, err := r.yt.Playlist(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: empty playlist", ErrNotFound)
	}
	if limit := r.cfg.PlaylistLimit; limit > 0 && len(infos) > limit {
		utils.ShuffleSlice(infos)
		infos = infos[:limit]
	}
	pl := &player.QueuedPlaylist{Title: "playlist", Source: q}
	out := make([]player.Track, 0, len(infos))
	for _, info := range infos {
		if info.ID == "" {
			continue
		}
		out = append(out, infoTrack(info, pl))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty playlist", ErrNotFound)
	}
	return out, nil
}

// resolveDirectStream treats any non-provider URL as a live stream (internet
// radio, raw HLS). No metadata lookup is possible, so the host names the
// track.
func resolveDirectStream(q string) ([]player.Track, error) {
	u, err := url.Parse(q)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, q)
	}
	return []player.Track{{
		Title:  u.Host,
		URL:    q,
		IsLive: true,
		Source: player.SourceHLS,
	}}, nil
}

func (r *Resolver) resolveSpotify(ctx context.Context, q string) ([]player.Track, error) {
	if r.sp == nil {
		return nil, fmt.Errorf("%w: spotify is not enabled", ErrProviderUnavailable)
	}
	typ, id, err := spotify.ParseID(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	limit := r.cfg.PlaylistLimit
	var (
		tracks []spotify.Track
		meta   *player.QueuedPlaylist
	)
	switch typ {
	case "track":
		t, err := r.sp.GetTrack(ctx, id)
		if err != nil {
			return nil, spotifyErr(ctx, err)
		}
		tracks = []spotify.Track{t}
	case "album":
		ts, m, err := r.sp.GetAlbum(ctx, id, limit)
		if err != nil {
			return nil, spotifyErr(ctx, err)
		}
		tracks, meta = ts, &player.QueuedPlaylist{Title: m.Title, Source: m.Source}
	case "playlist":
		ts, m, err := r.sp.GetPlaylist(ctx, id, limit)
		if err != nil {
			return nil, spotifyErr(ctx, err)
		}
		tracks, meta = ts, &player.QueuedPlaylist{Title: m.Title, Source: m.Source}
	case "artist":
		ts, err := r.sp.GetArtistTop(ctx, id, "US", limit)
		if err != nil {
			return nil, spotifyErr(ctx, err)
		}
		tracks = ts
	default:
		return nil, fmt.Errorf("%w: unsupported spotify type %q", ErrMalformed, typ)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, q)
	}

	out := make([]player.Track, 0, len(tracks))
	for _, t := range tracks {
		pt, err := r.deriveFromMetadata(ctx, t, meta)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// a playlist keeps going when one derivation fails
			if len(tracks) > 1 {
				continue
			}
			return nil, err
		}
		out = append(out, pt)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, q)
	}
	return out, nil
}

func spotifyErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: spotify: %v", ErrProviderUnavailable, err)
}

// deriveFromMetadata bridges a metadata-only track to the playable provider:
// search "artist name", then prefer the candidate whose duration is within
// 10% of the known one. Falls back to the top-ranked result.
func (r *Resolver) deriveFromMetadata(ctx context.Context, t spotify.Track, pl *player.QueuedPlaylist) (player.Track, error) {
	query := strings.TrimSpace(t.Artist + " " + t.Name)
	cands, err := r.search.Search(ctx, query)
	if err != nil {
		return player.Track{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(cands) == 0 {
		return player.Track{}, fmt.Errorf("%w: %q", ErrNotFound, query)
	}

	best := cands[0]
	if want := int(t.Duration.Seconds()); want > 0 {
		for _, c := range cands {
			if c.Duration == 0 {
				continue
			}
			diff := c.Duration - want
			if diff < 0 {
				diff = -diff
			}
			if diff*10 <= want {
				best = c
				break
			}
		}
	}

	pt := candidateTrack(best, pl)
	pt.Title = t.Name
	pt.Artist = t.Artist
	if pt.Duration == 0 {
		pt.Duration = int(t.Duration.Seconds())
	}
	return pt, nil
}

func candidateTrack(c Candidate, pl *player.QueuedPlaylist) player.Track {
	return player.Track{
		Title:    c.Title,
		Artist:   c.Channel,
		VideoID:  c.VideoID,
		URL:      "https://www.youtube.com/watch?v=" + c.VideoID,
		Duration: c.Duration,
		IsLive:   c.Duration == 0,
		Source:   player.SourceYouTube,
		Playlist: pl,
	}
}

func infoTrack(info media.Info, pl *player.QueuedPlaylist) player.Track {
	url := info.WebpageURL
	if url == "" {
		url = "https://www.youtube.com/watch?v=" + info.ID
	}
	return player.Track{
		Title:     info.Title,
		Artist:    info.Uploader,
		VideoID:   info.ID,
		URL:       url,
		Duration:  int(info.Duration),
		IsLive:    info.IsLive,
		Thumbnail: info.Thumbnail,
		Source:    player.SourceYouTube,
		Playlist:  pl,
	}
}
