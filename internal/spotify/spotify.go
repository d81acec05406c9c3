// Package spotify wraps the Spotify Web API as the metadata provider: it
// yields track names, artists and durations, never audio. Playable media is
// found by searching the playable provider with what we learn here.
package spotify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// Track is the metadata needed to derive a playable-media search.
type Track struct {
	Name     string
	Artist   string
	Duration time.Duration // zero when the API omits it
}

type PlaylistMeta struct {
	Title  string
	Source string
}

type Client struct {
	raw *spotify.Client
}

func NewClientCredentials(clientID, clientSecret string) (*Client, error) {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := cfg.Client(context.Background())
	return &Client{raw: spotify.New(httpClient, spotify.WithRetry(true))}, nil
}

// ParseID splits a spotify: URI or open.spotify.com URL into its resource
// type (track/album/playlist/artist) and id.
func ParseID(raw string) (typ string, id spotify.ID, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Host != "open.spotify.com" && u.Host != "www.open.spotify.com" {
		return "", "", fmt.Errorf("not a spotify URL")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid spotify URL path")
	}
	switch parts[0] {
	case "album", "playlist", "track", "artist":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify type")
}

func simpleToTrack(t spotify.SimpleTrack) Track {
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	return Track{Name: t.Name, Artist: artist, Duration: t.TimeDuration()}
}

func (c *Client) GetTrack(ctx context.Context, id spotify.ID) (Track, error) {
	t, err := c.raw.GetTrack(ctx, id)
	if err != nil {
		return Track{}, err
	}
	return simpleToTrack(t.SimpleTrack), nil
}

func (c *Client) GetAlbum(ctx context.Context, id spotify.ID, limit int) ([]Track, PlaylistMeta, error) {
	alb, err := c.raw.GetAlbum(ctx, id)
	if err != nil {
		return nil, PlaylistMeta{}, err
	}
	page, err := c.raw.GetAlbumTracks(ctx, id)
	if err != nil {
		return nil, PlaylistMeta{}, err
	}
	out := make([]Track, 0, page.Total)
	add := func(items []spotify.SimpleTrack) {
		for _, t := range items {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, simpleToTrack(t))
		}
	}
	add(page.Tracks)
	for page.Next != "" && (limit == 0 || len(out) < limit) {
		if err := c.raw.NextPage(ctx, page); err != nil {
			break
		}
		add(page.Tracks)
	}
	meta := PlaylistMeta{Title: alb.Name, Source: alb.ExternalURLs["spotify"]}
	return out, meta, nil
}

func (c *Client) GetPlaylist(ctx context.Context, id spotify.ID, limit int) ([]Track, PlaylistMeta, error) {
	pl, err := c.raw.GetPlaylist(ctx, id)
	if err != nil {
		return nil, PlaylistMeta{}, err
	}
	page, err := c.raw.GetPlaylistItems(ctx, id)
	if err != nil {
		return nil, PlaylistMeta{}, err
	}
	out := make([]Track, 0, page.Total)
	add := func(items []spotify.PlaylistItem) {
		for _, it := range items {
			if it.Track.Track == nil {
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, simpleToTrack(it.Track.Track.SimpleTrack))
		}
	}
	add(page.Items)
	for page.Next != "" && (limit == 0 || len(out) < limit) {
		if err := c.raw.NextPage(ctx, page); err != nil {
			break
		}
		add(page.Items)
	}
	meta := PlaylistMeta{Title: pl.Name, Source: pl.ExternalURLs["spotify"]}
	return out, meta, nil
}

// SearchAlbumsAndTracks backs the play-command autocomplete.
func (c *Client) SearchAlbumsAndTracks(ctx context.Context, query string, limit int) ([]spotify.SimpleAlbum, []spotify.FullTrack, error) {
	res, err := c.raw.Search(ctx, query, spotify.SearchTypeAlbum|spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, nil, err
	}
	var albums []spotify.SimpleAlbum
	if res.Albums != nil {
		albums = res.Albums.Albums
	}
	var tracks []spotify.FullTrack
	if res.Tracks != nil {
		tracks = res.Tracks.Tracks
	}
	if limit > 0 {
		if len(albums) > limit {
			albums = albums[:limit]
		}
		if len(tracks) > limit {
			tracks = tracks[:limit]
		}
	}
	return albums, tracks, nil
}

func (c *Client) GetArtistTop(ctx context.Context, id spotify.ID, market string, limit int) ([]Track, error) {
	full, err := c.raw.GetArtistsTopTracks(ctx, id, market)
	if err != nil {
		return nil, err
	}
	out := make([]Track, 0, len(full))
	for _, t := range full {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, simpleToTrack(t.SimpleTrack))
	}
	return out, nil
}
