package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/calliope-bot/calliope/internal/config"
	"github.com/calliope-bot/calliope/internal/player"
	"github.com/calliope-bot/calliope/internal/repository"
	"github.com/calliope-bot/calliope/internal/spotify"
	"github.com/calliope-bot/calliope/internal/voice"
)

// BotDeps are the session-independent collaborators; the voice transport is
// built once the gateway session exists.
type BotDeps struct {
	Resolver player.Resolver
	Locator  player.Locator
	Pipeline player.Pipeline
	Spotify  *spotify.Client // nil when not configured
}

type Bot struct {
	cfg  *config.Config
	repo *repository.Repo
	deps BotDeps
}

func NewBot(cfg *config.Config, repo *repository.Repo, deps BotDeps) *Bot {
	return &Bot{cfg: cfg, repo: repo, deps: deps}
}

// Run connects to the gateway and blocks until ctx is cancelled. All sessions
// are shut down before it returns.
func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	mgr := player.NewManager(b.cfg, b.repo, player.Deps{
		Resolver:  b.deps.Resolver,
		Locator:   b.deps.Locator,
		Pipeline:  b.deps.Pipeline,
		Transport: voice.NewTransport(dg),
	})
	cmd := NewCommandHandler(b.cfg, b.repo, mgr, repository.NewFavoritesService(b.repo), b.deps.Spotify)

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected", "user", s.State.User.Username)
		if b.cfg.BotActivity != "" {
			if err := s.UpdateGameStatus(0, b.cfg.BotActivity); err != nil {
				slog.Warn("set activity failed", "err", err)
			}
		}

		appID := s.State.User.ID
		if b.cfg.RegisterCommandsOnBot {
			if err := cmd.RegisterCommands(s, appID, ""); err != nil {
				slog.Error("register global commands", "err", err)
			} else {
				slog.Info("registered global application commands")
			}
			return
		}

		var wg sync.WaitGroup
		for _, g := range s.State.Guilds {
			wg.Add(1)
			go func(guildID string) {
				defer wg.Done()
				if err := cmd.RegisterCommands(s, appID, guildID); err != nil {
					slog.Error("register guild commands", "guildID", guildID, "err", err)
				}
			}(g.ID)
		}
		wg.Wait()

		if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
			slog.Error("clear global commands", "err", err)
		}
		slog.Info("registered commands on all guilds")
	})

	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot {
			return
		}
		if err := cmd.RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
			slog.Error("register guild commands on join", "guildID", g.ID, "err", err)
		}
	})

	dg.AddHandler(cmd.HandleInteraction)

	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		b.onVoiceStateUpdate(s, vs, mgr)
	})

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)
	return nil
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate, mgr *player.Manager) {
	eng := mgr.Peek(vs.GuildID)
	if eng == nil {
		return
	}

	// the bot itself dropped out of its channel: treat as transport loss
	if vs.UserID == s.State.User.ID && vs.ChannelID == "" {
		eng.NotifyDisconnect()
		return
	}

	set, err := b.repo.GetSettings(context.Background(), vs.GuildID)
	if err != nil || set == nil || !set.LeaveIfNoListeners {
		return
	}

	snap, err := eng.Snapshot(context.Background())
	if err != nil || snap.ChannelID == "" {
		return
	}
	if getNonBotSize(s, vs.GuildID, snap.ChannelID) == 0 {
		slog.Info("no listeners left, leaving voice channel", "guildID", vs.GuildID)
		_ = eng.Stop(context.Background())
	}
}

func getNonBotSize(s *discordgo.Session, guildID, channelID string) int {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			m, _ := s.State.Member(guildID, vs.UserID)
			if m != nil && m.User != nil && !m.User.Bot {
				n++
			}
		}
	}
	return n
}
