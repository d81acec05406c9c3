package media

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ytdlp "github.com/lrstanley/go-ytdlp"
	"golang.org/x/time/rate"
)

// Info is the subset of yt-dlp extraction output the bot cares about.
type Info struct {
	ID         string
	Title      string
	Uploader   string
	Duration   float64
	IsLive     bool
	WebpageURL string
	URL        string
	Thumbnail  string
	FormatURLs []string

	Entries []Info // playlists and searches
}

// Client shells out to yt-dlp for extraction. Calls are rate limited so a
// burst of enqueues cannot spawn an unbounded number of processes.
type Client struct {
	installOnce sync.Once
	limiter     *rate.Limiter
}

func NewClient() *Client {
	return &Client{limiter: rate.NewLimiter(rate.Limit(2), 4)}
}

// GetInfo runs yt-dlp with JSON dump for url, which may also be a
// "ytsearchN:" query.
func (c *Client) GetInfo(ctx context.Context, url string) (*Info, error) {
	c.installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cmd := ytdlp.New().
		Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best").
		NoCheckCertificates().
		DumpJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, fmt.Errorf("parse yt-dlp json: no info returned")
	}
	return fromExtracted(infos[0]), nil
}

// Playlist lists a playlist's entries without resolving media URLs.
func (c *Client) Playlist(ctx context.Context, url string) ([]Info, error) {
	c.installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cmd := ytdlp.New().
		FlatPlaylist().
		DumpJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp playlist fetch failed for %s: %w", url, err)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp playlist json for %s: %w", url, err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, fmt.Errorf("yt-dlp returned empty playlist info for %s", url)
	}

	pl := infos[0]
	out := make([]Info, 0, len(pl.Entries))
	for _, e := range pl.Entries {
		if e == nil {
			continue
		}
		out = append(out, *fromExtracted(e))
	}
	return out, nil
}

func fromExtracted(e *ytdlp.ExtractedInfo) *Info {
	out := &Info{
		ID:         e.ID,
		Title:      strDef(e.Title),
		Uploader:   strDef(e.Uploader),
		Duration:   floatDef(e.Duration),
		IsLive:     boolDef(e.IsLive),
		WebpageURL: strDef(e.WebpageURL),
		URL:        strDef(e.URL),
	}
	if n := len(e.Thumbnails); n > 0 && e.Thumbnails[n-1] != nil {
		out.Thumbnail = e.Thumbnails[n-1].URL
	}
	for _, f := range e.RequestedFormats {
		if f != nil {
			out.FormatURLs = append(out.FormatURLs, f.URL)
		}
	}
	for _, f := range e.Formats {
		if f != nil {
			out.FormatURLs = append(out.FormatURLs, f.URL)
		}
	}
	for _, sub := range e.Entries {
		if sub == nil {
			continue
		}
		out.Entries = append(out.Entries, *fromExtracted(sub))
	}
	// mirror the first entry of a container to the top level
	if len(out.Entries) > 0 {
		first := out.Entries[0]
		entries := out.Entries
		*out = first
		out.Entries = entries
	}
	return out
}

// AudioURL picks the best directly playable URL from an extraction.
func AudioURL(info *Info) string {
	if info.URL != "" && strings.HasPrefix(info.URL, "http") {
		return info.URL
	}
	for _, u := range info.FormatURLs {
		if strings.HasPrefix(u, "http") {
			return u
		}
	}
	return ""
}

func strDef(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatDef(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func boolDef(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}
