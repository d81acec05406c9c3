// Package autocomplete supplies interaction autocomplete choices for the
// play command.
package autocomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bwmarrin/discordgo"

	"github.com/calliope-bot/calliope/internal/spotify"
)

// GetYouTubeSuggestions asks Google's suggest endpoint for query completions.
func GetYouTubeSuggestions(ctx context.Context, query string) ([]string, error) {
	u, _ := url.Parse("https://suggestqueries.google.com/complete/search")
	q := u.Query()
	q.Set("client", "firefox")
	q.Set("ds", "yt")
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed []any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed) < 2 {
		return nil, nil
	}
	arr, ok := parsed[1].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetYouTubeAndSpotifySuggestions merges query completions with Spotify album
// and track matches. Spotify choices carry spotify: URIs so selecting one
// resolves straight to the item.
func GetYouTubeAndSpotifySuggestions(ctx context.Context, query string, sp *spotify.Client, limit int) ([]*discordgo.ApplicationCommandOptionChoice, error) {
	if limit <= 0 {
		limit = 10
	}
	yt, _ := GetYouTubeSuggestions(ctx, query)

	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, limit)
	for i := 0; i < len(yt) && i < limit; i++ {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{
			Name:  "YouTube: " + yt[i],
			Value: yt[i],
		})
	}

	if sp != nil {
		albums, tracks, err := sp.SearchAlbumsAndTracks(ctx, query, limit/2)
		if err == nil {
			if keep := limit - len(albums) - len(tracks); len(out) > keep && keep >= 0 {
				out = out[:keep]
			}
			for _, a := range albums {
				name := fmt.Sprintf("Spotify: 💿 %s", a.Name)
				if len(a.Artists) > 0 {
					name += " - " + a.Artists[0].Name
				}
				out = append(out, &discordgo.ApplicationCommandOptionChoice{
					Name:  name,
					Value: "spotify:album:" + a.ID.String(),
				})
			}
			for _, t := range tracks {
				name := fmt.Sprintf("Spotify: 🎵 %s", t.Name)
				if len(t.Artists) > 0 {
					name += " - " + t.Artists[0].Name
				}
				out = append(out, &discordgo.ApplicationCommandOptionChoice{
					Name:  name,
					Value: "spotify:track:" + t.ID.String(),
				})
			}
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
