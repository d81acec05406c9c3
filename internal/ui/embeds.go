// Package ui builds the Discord embeds shown by display commands.
package ui

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/calliope-bot/calliope/internal/player"
	"github.com/calliope-bot/calliope/internal/utils"
)

const (
	colorPlaying = 0x006400
	colorPaused  = 0x8B0000
	colorIdle    = 0x992222
)

func trackLink(t player.Track) string {
	title := utils.EscapeMd(t.Title)
	if t.URL == "" {
		return title
	}
	return fmt.Sprintf("[%s](%s)", title, t.URL)
}

func elapsedStr(t player.Track, posSec int) string {
	if t.IsLive {
		return "live"
	}
	return fmt.Sprintf("%s/%s", utils.PrettyTime(posSec), utils.PrettyTime(t.Duration))
}

func ProgressBar(width int, progress float64) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	var b strings.Builder
	for i := 0; i < width; i++ {
		if i < filled {
			b.WriteString("▇")
		} else {
			b.WriteString("—")
		}
	}
	return b.String()
}

func BuildPlayingEmbed(snap player.Snapshot) *discordgo.MessageEmbed {
	cur := snap.Current
	if cur == nil {
		return &discordgo.MessageEmbed{
			Title:       "Nothing Playing",
			Description: "No playing song found",
			Color:       colorIdle,
		}
	}

	t := cur.Track
	button := "▶️"
	if snap.Status == player.StatusPlaying {
		button = "⏹️"
	}
	progress := 0.0
	if t.Duration > 0 {
		progress = float64(snap.PositionSec) / float64(t.Duration)
	}

	desc := fmt.Sprintf("**%s**\nRequested by: <@%s>\n\n%s %s `[ %s ]`",
		trackLink(t),
		t.RequestedBy,
		button, ProgressBar(10, progress), elapsedStr(t, snap.PositionSec),
	)

	color := colorPlaying
	title := "Now Playing"
	if snap.Status != player.StatusPlaying {
		color = colorPaused
		title = "Paused"
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: desc,
		Color:       color,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Source: " + t.Artist,
		},
	}
	if t.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
	}
	return embed
}

func BuildQueueEmbed(snap player.Snapshot, page, pageSize int) (*discordgo.MessageEmbed, error) {
	cur := snap.Current
	if cur == nil {
		return nil, fmt.Errorf("queue is empty")
	}
	if page < 1 {
		page = 1
	}
	total := len(snap.Queue)
	maxPage := (total + pageSize - 1) / pageSize
	if maxPage < 1 {
		maxPage = 1
	}
	if page > maxPage {
		return nil, fmt.Errorf("the queue isn't that big")
	}

	begin := (page - 1) * pageSize
	end := begin + pageSize
	if end > total {
		end = total
	}

	var list strings.Builder
	for idx, entry := range snap.Queue[begin:end] {
		dur := "live"
		if !entry.Track.IsLive {
			dur = utils.PrettyTime(entry.Track.Duration)
		}
		fmt.Fprintf(&list, "`%d.` %s `[ %s ]`\n", begin+idx+1, trackLink(entry.Track), dur)
	}

	totalLen := 0
	for _, entry := range snap.Queue {
		totalLen += entry.Track.Duration
	}

	t := cur.Track
	progress := 0.0
	if t.Duration > 0 {
		progress = float64(snap.PositionSec) / float64(t.Duration)
	}
	desc := fmt.Sprintf("**%s**\nRequested by: <@%s>\n\n%s `[ %s ]`\n\n",
		trackLink(t), t.RequestedBy,
		ProgressBar(10, progress), elapsedStr(t, snap.PositionSec),
	)
	if list.Len() > 0 {
		desc += "**Up next:**\n" + list.String()
	}

	source := "Source: " + t.Artist
	if t.Playlist != nil {
		source += " (" + t.Playlist.Title + ")"
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Now Playing",
		Description: desc,
		Color:       colorPlaying,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "In queue", Value: fmt.Sprintf("%d songs", total), Inline: true},
			{Name: "Total length", Value: utils.PrettyTime(totalLen), Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: source},
	}
	if t.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
	}
	return embed, nil
}
