package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/calliope-bot/calliope/internal/autocomplete"
	"github.com/calliope-bot/calliope/internal/config"
	plib "github.com/calliope-bot/calliope/internal/player"
	"github.com/calliope-bot/calliope/internal/repository"
	"github.com/calliope-bot/calliope/internal/resolver"
	"github.com/calliope-bot/calliope/internal/spotify"
	"github.com/calliope-bot/calliope/internal/ui"
	"github.com/calliope-bot/calliope/internal/utils"
)

const commandTimeout = 5 * time.Second

type CommandHandler struct {
	cfg  *config.Config
	repo *repository.Repo
	mgr  *plib.Manager
	favs *repository.FavoritesService
	sp   *spotify.Client

	mu           sync.Mutex
	textChannels map[string]string // guildID -> channel for announcements
}

func NewCommandHandler(cfg *config.Config, repo *repository.Repo, mgr *plib.Manager, favs *repository.FavoritesService, sp *spotify.Client) *CommandHandler {
	return &CommandHandler{
		cfg:          cfg,
		repo:         repo,
		mgr:          mgr,
		favs:         favs,
		sp:           sp,
		textChannels: make(map[string]string),
	}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	start := time.Now()
	slog.Info("registering application commands", "appID", appID, "guildID", guildID)

	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song (YouTube/Spotify URL, HLS URL, or search)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "query or URL", Type: discordgo.ApplicationCommandOptionString, Required: true, Autocomplete: true},
			},
		},
		{Name: "summon", Description: "Join your voice channel without playing anything"},
		{Name: "next", Description: "Skip to the next song"},
		{Name: "pause", Description: "Pause the current song"},
		{Name: "resume", Description: "Resume playback"},
		{Name: "disconnect", Description: "Stop playback and leave the channel"},
		{Name: "clear", Description: "Clear the queue except the current song"},
		{Name: "now-playing", Description: "Show the currently playing song"},
		{
			Name:        "queue",
			Description: "Show the current queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "page", Description: "page of queue to show [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
				{Name: "page-size", Description: "how many items per page [default: 10, max: 30]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{
			Name:        "remove",
			Description: "Remove a song from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "position", Description: "position of the song to remove [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{
			Name:        "move",
			Description: "Move a song within the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "from", Description: "position of the song to move", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				{Name: "to", Description: "position to move the song to", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			},
		},
		{
			Name:        "favorites",
			Description: "Manage favorites",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "use",
					Description: "use a favorite",
					Options: []*discordgo.ApplicationCommandOption{
						{Name: "name", Description: "favorite name", Type: discordgo.ApplicationCommandOptionString, Required: true},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "list favorites",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "create",
					Description: "create favorite",
					Options: []*discordgo.ApplicationCommandOption{
						{Name: "name", Description: "name", Type: discordgo.ApplicationCommandOptionString, Required: true},
						{Name: "query", Description: "query", Type: discordgo.ApplicationCommandOptionString, Required: true},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "remove favorite",
					Options: []*discordgo.ApplicationCommandOption{
						{Name: "name", Description: "name", Type: discordgo.ApplicationCommandOptionString, Required: true},
					},
				},
			},
		},
		{
			Name:        "config",
			Description: "Configure bot settings",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get", Description: "show settings"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-playlist-limit", Description: "set max playlist add", Options: []*discordgo.ApplicationCommandOption{
					{Name: "limit", Description: "max tracks", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-wait-after-queue-empties", Description: "time to wait before leaving VC", Options: []*discordgo.ApplicationCommandOption{
					{Name: "delay", Description: "seconds (0 never leave)", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-leave-if-no-listeners", Description: "leave when no listeners", Options: []*discordgo.ApplicationCommandOption{
					{Name: "value", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-auto-announce-next-song", Description: "auto announce next", Options: []*discordgo.ApplicationCommandOption{
					{Name: "value", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-default-queue-page-size", Description: "queue page size", Options: []*discordgo.ApplicationCommandOption{
					{Name: "page_size", Description: "1-30", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
			},
		},
	}

	for _, c := range cmds {
		if _, err := s.ApplicationCommandCreate(appID, guildID, c); err != nil {
			slog.Error("failed to create application command", "guildID", guildID, "command", c.Name, "err", err)
			return err
		}
	}

	slog.Info("finished registering commands", "guildID", guildID, "count", len(cmds), "took", time.Since(start))
	return nil
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		slog.Debug("interaction: application command", "guildID", i.GuildID, "userID", userIDOf(i), "command", i.ApplicationCommandData().Name)
		h.handleChatCommand(s, i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.handleAutocomplete(s, i)
	default:
		slog.Debug("interaction: ignored type", "type", i.Type, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) handleChatCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.ApplicationCommandData().Name {
	case "play":
		h.cmdPlay(s, i)
	case "summon":
		h.cmdSummon(s, i)
	case "next":
		h.cmdNext(s, i)
	case "pause":
		h.cmdPause(s, i)
	case "resume":
		h.cmdResume(s, i)
	case "disconnect":
		h.cmdDisconnect(s, i)
	case "clear":
		h.cmdClear(s, i)
	case "now-playing":
		h.cmdNowPlaying(s, i)
	case "queue":
		h.cmdQueue(s, i)
	case "remove":
		h.cmdRemove(s, i)
	case "move":
		h.cmdMove(s, i)
	case "favorites":
		h.cmdFavorites(s, i)
	case "config":
		h.cmdConfig(s, i)
	default:
		slog.Debug("unknown command", "name", i.ApplicationCommandData().Name, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "play" {
		return
	}
	var query string
	for _, opt := range data.Options {
		if opt.Name == "query" {
			query = opt.StringValue()
		}
	}
	if strings.TrimSpace(query) == "" {
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: []*discordgo.ApplicationCommandOptionChoice{}},
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	choices, err := autocomplete.GetYouTubeAndSpotifySuggestions(ctx, query, h.sp, 10)
	if err != nil {
		slog.Warn("autocomplete suggestions error", "guildID", i.GuildID, "err", err)
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var query string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "query" {
			query = o.StringValue()
		}
	}
	slog.Info("cmd play", "guildID", i.GuildID, "userID", userIDOf(i), "query", query)
	h.enqueueAndMaybeStart(s, i, query)
}

// cmdSummon joins the caller's voice channel without queueing anything.
func (h *CommandHandler) cmdSummon(s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID := i.GuildID
	chID, ok := userInVoice(s, guildID, userIDOf(i))
	if !ok {
		h.reply(s, i, "gotta be in a voice channel", true)
		return
	}

	h.setTextChannel(guildID, i.ChannelID)
	eng, created := h.mgr.Get(guildID)
	if created {
		go h.consumeEvents(s, eng)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := eng.Join(ctx, chID); err != nil {
		slog.Warn("voice connect failed", "guildID", guildID, "channelID", chID, "err", err)
		h.reply(s, i, "couldn't connect to your channel", true)
		return
	}
	slog.Info("cmd summon", "guildID", guildID, "userID", userIDOf(i), "channelID", chID)
	h.reply(s, i, "at your service", false)
}

func (h *CommandHandler) enqueueAndMaybeStart(s *discordgo.Session, i *discordgo.InteractionCreate, query string) {
	guildID := i.GuildID
	memberID := userIDOf(i)

	chID, ok := userInVoice(s, guildID, memberID)
	if !ok {
		h.reply(s, i, "gotta be in a voice channel", true)
		return
	}

	ctx := context.Background()
	if _, err := h.repo.UpsertSettings(ctx, guildID); err != nil {
		slog.Warn("upsert settings failed", "guildID", guildID, "err", err)
	}

	h.deferReply(s, i, false)
	h.setTextChannel(guildID, i.ChannelID)

	eng, created := h.mgr.Get(guildID)
	if created {
		go h.consumeEvents(s, eng)
	}

	if err := eng.Join(ctx, chID); err != nil {
		slog.Warn("voice connect failed", "guildID", guildID, "channelID", chID, "err", err)
		h.editReply(s, i, "couldn't connect to your channel")
		return
	}

	kind := plib.ReferenceSearch
	if strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") || strings.HasPrefix(query, "spotify:") {
		kind = plib.ReferenceURL
	}

	entries, err := eng.Enqueue(ctx, plib.TrackReference{Kind: kind, Raw: query, RequestedBy: memberID})
	if err != nil {
		slog.Debug("resolve failed", "guildID", guildID, "query", query, "err", err)
		h.editReply(s, i, resolveErrMessage(err))
		return
	}

	first := entries[0].Track
	if len(entries) > 1 {
		src := "playlist"
		if first.Playlist != nil && first.Playlist.Title != "" {
			src = first.Playlist.Title
		}
		h.editReply(s, i, fmt.Sprintf("queued %d tracks from **%s**", len(entries), utils.EscapeMd(src)))
	} else {
		h.editReply(s, i, fmt.Sprintf("**%s** added to the queue", utils.EscapeMd(first.Title)))
	}
}

func resolveErrMessage(err error) string {
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		return "no songs found"
	case errors.Is(err, resolver.ErrMalformed):
		return "couldn't make sense of that link"
	case errors.Is(err, resolver.ErrProviderUnavailable):
		return "the provider is having a moment, try again shortly"
	case errors.Is(err, context.DeadlineExceeded):
		return "took too long to look that up, try again"
	default:
		return "something went wrong adding that"
	}
}

// peekEngine fetches the session for display/control commands; replies with a
// hint when none exists.
func (h *CommandHandler) peekEngine(s *discordgo.Session, i *discordgo.InteractionCreate) *plib.Engine {
	eng := h.mgr.Peek(i.GuildID)
	if eng == nil {
		h.reply(s, i, "not connected", true)
		return nil
	}
	return eng
}

func (h *CommandHandler) cmdNext(s *discordgo.Session, i *discordgo.InteractionCreate) {
	eng := h.peekEngine(s, i)
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := eng.Skip(ctx); err != nil {
		h.reply(s, i, "no song to skip to", true)
		return
	}
	slog.Info("cmd next", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "skipped to next", false)
}

func (h *CommandHandler) cmdPause(s *discordgo.Session, i *discordgo.InteractionCreate) {
	eng := h.peekEngine(s, i)
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := eng.Pause(ctx); err != nil {
		h.reply(s, i, "not currently playing", true)
		return
	}
	slog.Info("cmd pause", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "the stop-and-go light is now red", false)
}

func (h *CommandHandler) cmdResume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	eng := h.peekEngine(s, i)
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := eng.Resume(ctx); err != nil {
		h.reply(s, i, "nothing is paused", true)
		return
	}
	slog.Info("cmd resume", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "the stop-and-go light is now green", false)
}

func (h *CommandHandler) cmdDisconnect(s *discordgo.Session, i *discordgo.InteractionCreate) {
	eng := h.peekEngine(s, i)
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := eng.Stop(ctx); err != nil && !errors.Is(err, plib.ErrSessionClosed) {
		slog.Warn("stop failed", "guildID", i.GuildID, "err", err)
	}
	slog.Info("cmd disconnect", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "u betcha, disconnected", false)
}

func (h *CommandHandler) cmdClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	eng := h.peekEngine(s, i)
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	n, err := eng.Clear(ctx)
	if err != nil {
		h.reply(s, i, "couldn't clear the queue", true)
		return
	}
	slog.Info("cmd clear queue", "guildID", i.GuildID, "userID", userIDOf(i), "removed", n)
	h.reply(s, i, fmt.Sprintf("cleared %d songs from the queue", n), false)
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	eng := h.peekEngine(s, i)
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	snap, err := eng.Snapshot(ctx)
	if err != nil || snap.Current == nil {
		h.reply(s, i, "nothing is currently playing", true)
		return
	}
	embed := ui.BuildPlayingEmbed(snap)
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	}); err != nil {
		slog.Warn("now-playing respond failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	eng := h.peekEngine(s, i)
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	pageSize := 10
	if set, err := h.repo.GetSettings(ctx, i.GuildID); err == nil && set.DefaultQueuePageSize > 0 {
		pageSize = set.DefaultQueuePageSize
	}
	page := 1
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "page":
			page = int(o.IntValue())
		case "page-size":
			pageSize = int(o.IntValue())
		}
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 30 {
		pageSize = 30
	}

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		h.reply(s, i, "couldn't read the queue", true)
		return
	}
	embed, err := ui.BuildQueueEmbed(snap, page, pageSize)
	if err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	}); err != nil {
		slog.Warn("queue respond failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) cmdRemove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	eng := h.peekEngine(s, i)
	if eng == nil {
		return
	}
	pos := 1
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "position" {
			pos = int(o.IntValue())
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	snap, err := eng.Snapshot(ctx)
	if err != nil || pos < 1 || pos > len(snap.Queue) {
		h.reply(s, i, "no song at that position", true)
		return
	}
	track, err := eng.Remove(ctx, snap.Queue[pos-1].ID)
	if err != nil {
		h.reply(s, i, "that song is already gone", true)
		return
	}
	slog.Info("cmd remove", "guildID", i.GuildID, "userID", userIDOf(i), "pos", pos, "title", track.Title)
	h.reply(s, i, fmt.Sprintf(":wastebasket: removed **%s**", utils.EscapeMd(track.Title)), false)
}

func (h *CommandHandler) cmdMove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	eng := h.peekEngine(s, i)
	if eng == nil {
		return
	}
	var from, to int
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "from":
			from = int(o.IntValue())
		case "to":
			to = int(o.IntValue())
		}
	}
	if from < 1 || to < 1 {
		h.reply(s, i, "position must be at least 1", true)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	snap, err := eng.Snapshot(ctx)
	if err != nil || from > len(snap.Queue) {
		h.reply(s, i, "no song at that position", true)
		return
	}
	entry := snap.Queue[from-1]
	if err := eng.Move(ctx, entry.ID, to-1); err != nil {
		h.reply(s, i, "couldn't move that song", true)
		return
	}
	slog.Info("cmd move", "guildID", i.GuildID, "userID", userIDOf(i), "from", from, "to", to, "title", entry.Track.Title)
	h.reply(s, i, fmt.Sprintf("moved **%s** to position %d", utils.EscapeMd(entry.Track.Title), to), false)
}

func (h *CommandHandler) cmdFavorites(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub := i.ApplicationCommandData().Options[0]
	ctx := context.Background()
	switch sub.Name {
	case "create":
		var name, query string
		for _, o := range sub.Options {
			switch o.Name {
			case "name":
				name = o.StringValue()
			case "query":
				query = o.StringValue()
			}
		}
		if err := h.favs.Create(ctx, i.GuildID, userIDOf(i), name, query); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				h.reply(s, i, "a favorite with that name already exists", true)
				return
			}
			slog.Warn("favorite create failed", "guildID", i.GuildID, "name", name, "err", err)
			h.reply(s, i, "failed to create favorite", true)
			return
		}
		h.reply(s, i, "👍 favorite created", false)

	case "remove":
		var name string
		for _, o := range sub.Options {
			if o.Name == "name" {
				name = o.StringValue()
			}
		}
		f, err := h.favs.Use(ctx, i.GuildID, name)
		if err != nil {
			h.reply(s, i, "no favorite with that name exists", true)
			return
		}
		if f.Author != userIDOf(i) {
			h.reply(s, i, "you can only remove your own favorites", true)
			return
		}
		if _, err := h.favs.Remove(ctx, i.GuildID, name); err != nil {
			slog.Warn("favorite remove failed", "guildID", i.GuildID, "name", name, "err", err)
			h.reply(s, i, "failed to remove favorite", true)
			return
		}
		h.reply(s, i, "👍 favorite removed", false)

	case "list":
		items, err := h.favs.List(ctx, i.GuildID)
		if err != nil {
			slog.Warn("favorite list failed", "guildID", i.GuildID, "err", err)
		}
		if len(items) == 0 {
			h.reply(s, i, "there aren't any favorites yet", false)
			return
		}
		var b strings.Builder
		for _, f := range items {
			fmt.Fprintf(&b, "• %s: %s (<@%s>)\n", f.Name, f.Query, f.Author)
		}
		h.reply(s, i, b.String(), true)

	case "use":
		var name string
		for _, o := range sub.Options {
			if o.Name == "name" {
				name = o.StringValue()
			}
		}
		f, err := h.favs.Use(ctx, i.GuildID, name)
		if err != nil {
			h.reply(s, i, "no favorite with that name exists", true)
			return
		}
		slog.Info("favorite used", "guildID", i.GuildID, "userID", userIDOf(i), "name", name)
		h.enqueueAndMaybeStart(s, i, f.Query)
	}
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	if _, err := h.repo.UpsertSettings(ctx, i.GuildID); err != nil {
		slog.Warn("upsert settings failed", "guildID", i.GuildID, "err", err)
	}
	sub := i.ApplicationCommandData().Options[0]

	if sub.Name == "get" {
		set, err := h.repo.GetSettings(ctx, i.GuildID)
		if err != nil {
			h.reply(s, i, "failed to fetch config", true)
			return
		}
		wait := "never leave"
		if set.SecondsWaitAfterEmpty > 0 {
			wait = fmt.Sprintf("%ds", set.SecondsWaitAfterEmpty)
		}
		msg := fmt.Sprintf(
			"Config\n- Playlist limit: %d\n- Wait before leaving after queue empty: %s\n- Leave if no listeners: %t\n- Auto announce next song: %t\n- Default queue page size: %d",
			set.PlaylistLimit, wait, set.LeaveIfNoListeners, set.AutoAnnounceNext, set.DefaultQueuePageSize,
		)
		h.reply(s, i, msg, false)
		return
	}

	set, err := h.repo.GetSettings(ctx, i.GuildID)
	if err != nil {
		h.reply(s, i, "failed to fetch config", true)
		return
	}

	switch sub.Name {
	case "set-playlist-limit":
		limit := int(sub.Options[0].IntValue())
		if limit < 1 {
			h.reply(s, i, "invalid limit", true)
			return
		}
		set.PlaylistLimit = limit
	case "set-wait-after-queue-empties":
		set.SecondsWaitAfterEmpty = int(sub.Options[0].IntValue())
	case "set-leave-if-no-listeners":
		set.LeaveIfNoListeners = sub.Options[0].BoolValue()
	case "set-auto-announce-next-song":
		set.AutoAnnounceNext = sub.Options[0].BoolValue()
	case "set-default-queue-page-size":
		size := int(sub.Options[0].IntValue())
		if size < 1 || size > 30 {
			h.reply(s, i, "page size must be between 1 and 30", true)
			return
		}
		set.DefaultQueuePageSize = size
	default:
		return
	}

	if err := h.repo.UpdateSettings(ctx, set); err != nil {
		slog.Warn("update settings failed", "guildID", i.GuildID, "key", sub.Name, "err", err)
		h.reply(s, i, "failed to update config", true)
		return
	}
	slog.Info("config updated", "guildID", i.GuildID, "key", sub.Name)
	h.reply(s, i, "👍 config updated", false)
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: flags},
	}); err != nil {
		slog.Warn("reply failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}); err != nil {
		slog.Warn("defer reply failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		slog.Warn("edit reply failed", "guildID", i.GuildID, "err", err)
	}
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		g, _ = s.Guild(guildID)
	}
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i == nil || i.Member == nil || i.Member.User == nil {
		return ""
	}
	return i.Member.User.ID
}
