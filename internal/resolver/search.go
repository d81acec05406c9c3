package resolver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppalone/ytsearch"
	"golang.org/x/time/rate"
)

// Candidate is one ranked result from the playable provider's search index.
// Duration is in seconds; zero means unknown or a live stream.
type Candidate struct {
	VideoID  string
	Title    string
	Channel  string
	Duration int
}

// SearchClient finds playable-provider candidates for a text query, best
// match first.
type SearchClient interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// YTSearch queries YouTube's search index directly, without spawning an
// extractor process. Queries are rate limited per client.
type YTSearch struct {
	c       *ytsearch.Client
	limiter *rate.Limiter
}

func NewYTSearch() *YTSearch {
	return &YTSearch{
		c:       ytsearch.NewClient(nil),
		limiter: rate.NewLimiter(rate.Limit(5), 8),
	}
}

func (s *YTSearch) Search(ctx context.Context, query string) ([]Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := s.c.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("youtube search %q: %w", query, err)
	}
	out := make([]Candidate, 0, len(res.Results))
	for _, r := range res.Results {
		if r.VideoID == "" {
			continue
		}
		out = append(out, Candidate{
			VideoID:  r.VideoID,
			Title:    r.Title,
			Channel:  r.Channel,
			Duration: parseColonDuration(r.Duration),
		})
	}
	return out, nil
}

// parseColonDuration parses "3:20" or "1:05:20" into seconds. Anything else,
// including the empty string live streams report, parses to zero.
func parseColonDuration(s string) int {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
