package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calliope-bot/calliope/internal/config"
	"github.com/calliope-bot/calliope/internal/player"
	"github.com/calliope-bot/calliope/internal/spotify"
)

type searchFunc func(ctx context.Context, query string) ([]Candidate, error)

func (f searchFunc) Search(ctx context.Context, query string) ([]Candidate, error) {
	return f(ctx, query)
}

func testResolver(search SearchClient) *Resolver {
	return New(&config.Config{PlaylistLimit: 50}, nil, nil, search)
}

func TestResolveFreeTextPicksTopCandidate(t *testing.T) {
	r := testResolver(searchFunc(func(_ context.Context, q string) ([]Candidate, error) {
		assert.Equal(t, "never gonna give you up", q)
		return []Candidate{
			{VideoID: "dQw4w9WgXcQ", Title: "Never Gonna Give You Up", Channel: "Rick Astley", Duration: 213},
			{VideoID: "other", Title: "some cover", Channel: "someone", Duration: 200},
		}, nil
	}))

	tracks, err := r.Resolve(context.Background(), player.TrackReference{
		Kind: player.ReferenceSearch,
		Raw:  "never gonna give you up",
	})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "dQw4w9WgXcQ", tracks[0].VideoID)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", tracks[0].URL)
	assert.Equal(t, 213, tracks[0].Duration)
	assert.Equal(t, player.SourceYouTube, tracks[0].Source)
	assert.False(t, tracks[0].IsLive)
}

func TestResolveEmptyReferenceIsMalformed(t *testing.T) {
	r := testResolver(searchFunc(func(context.Context, string) ([]Candidate, error) {
		t.Fatal("search should not run")
		return nil, nil
	}))
	_, err := r.Resolve(context.Background(), player.TrackReference{Raw: "   "})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestResolveNoResultsIsNotFound(t *testing.T) {
	r := testResolver(searchFunc(func(context.Context, string) ([]Candidate, error) {
		return nil, nil
	}))
	_, err := r.Resolve(context.Background(), player.TrackReference{Raw: "zzzz"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveSearchFailureIsProviderUnavailable(t *testing.T) {
	r := testResolver(searchFunc(func(context.Context, string) ([]Candidate, error) {
		return nil, errors.New("503 from upstream")
	}))
	_, err := r.Resolve(context.Background(), player.TrackReference{Raw: "zzzz"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestResolveDirectStreamURL(t *testing.T) {
	r := testResolver(nil)
	tracks, err := r.Resolve(context.Background(), player.TrackReference{
		Kind: player.ReferenceURL,
		Raw:  "https://radio.example.com/stream.m3u8",
	})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, player.SourceHLS, tracks[0].Source)
	assert.True(t, tracks[0].IsLive)
	assert.Equal(t, "radio.example.com", tracks[0].Title)
}

func TestResolveSpotifyWithoutClient(t *testing.T) {
	r := testResolver(nil)
	_, err := r.Resolve(context.Background(), player.TrackReference{
		Raw: "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestDeriveFromMetadataPrefersDurationMatch(t *testing.T) {
	r := testResolver(searchFunc(func(_ context.Context, q string) ([]Candidate, error) {
		assert.Equal(t, "Rick Astley Never Gonna Give You Up", q)
		return []Candidate{
			{VideoID: "extended", Title: "10 hour version", Duration: 36000},
			{VideoID: "official", Title: "official video", Duration: 213},
			{VideoID: "nightcore", Title: "sped up", Duration: 150},
		}, nil
	}))

	got, err := r.deriveFromMetadata(context.Background(), spotify.Track{
		Name:     "Never Gonna Give You Up",
		Artist:   "Rick Astley",
		Duration: 212 * time.Second,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "official", got.VideoID)
	// metadata wins for display fields
	assert.Equal(t, "Never Gonna Give You Up", got.Title)
	assert.Equal(t, "Rick Astley", got.Artist)
}

func TestDeriveFromMetadataFallsBackToTopResult(t *testing.T) {
	r := testResolver(searchFunc(func(context.Context, string) ([]Candidate, error) {
		return []Candidate{
			{VideoID: "first", Duration: 500},
			{VideoID: "second", Duration: 480},
		}, nil
	}))

	got, err := r.deriveFromMetadata(context.Background(), spotify.Track{
		Name: "x", Artist: "y", Duration: 200 * time.Second,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", got.VideoID)
}

func TestParseColonDuration(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"3:20", 200},
		{"0:05", 5},
		{"1:05:20", 3920},
		{"", 0},
		{"live", 0},
		{"12", 0},
		{"1:2:3:4", 0},
		{"-1:30", 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, parseColonDuration(c.in), "input %q", c.in)
	}
}
