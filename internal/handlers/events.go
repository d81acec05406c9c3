package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	plib "github.com/calliope-bot/calliope/internal/player"
	"github.com/calliope-bot/calliope/internal/utils"
)

func (h *CommandHandler) setTextChannel(guildID, channelID string) {
	h.mu.Lock()
	h.textChannels[guildID] = channelID
	h.mu.Unlock()
}

func (h *CommandHandler) textChannel(guildID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.textChannels[guildID]
}

// consumeEvents drains one session's event stream for the lifetime of that
// session, announcing track changes and surfacing playback errors in the
// text channel the session was last driven from.
func (h *CommandHandler) consumeEvents(s *discordgo.Session, eng *plib.Engine) {
	guildID := eng.GuildID()
	for ev := range eng.Events() {
		chID := h.textChannel(guildID)
		switch ev.Kind {
		case plib.EventTrackStarted:
			if chID == "" || ev.Track == nil {
				continue
			}
			set, err := h.repo.GetSettings(context.Background(), guildID)
			if err != nil || set == nil || !set.AutoAnnounceNext {
				continue
			}
			msg := fmt.Sprintf(":musical_note: now playing **%s**", utils.EscapeMd(ev.Track.Title))
			if _, err := s.ChannelMessageSend(chID, msg); err != nil {
				slog.Debug("announce failed", "guildID", guildID, "err", err)
			}

		case plib.EventError:
			slog.Warn("playback error", "guildID", guildID, "err", ev.Err)
			if chID == "" {
				continue
			}
			msg := ":warning: playback hit a snag, moving on"
			if ev.Track != nil {
				msg = fmt.Sprintf(":warning: couldn't play **%s**, skipping it", utils.EscapeMd(ev.Track.Title))
			}
			if _, err := s.ChannelMessageSend(chID, msg); err != nil {
				slog.Debug("error notice failed", "guildID", guildID, "err", err)
			}

		case plib.EventQueueEmpty:
			slog.Debug("queue drained", "guildID", guildID)
		}
	}
}
