package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	"github.com/calliope-bot/calliope/internal/config"
	"github.com/calliope-bot/calliope/internal/handlers"
	"github.com/calliope-bot/calliope/internal/media"
	"github.com/calliope-bot/calliope/internal/repository"
	"github.com/calliope-bot/calliope/internal/resolver"
	"github.com/calliope-bot/calliope/internal/spotify"
	"github.com/calliope-bot/calliope/internal/stream"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	db, err := repository.OpenDB(cfg)
	if err != nil {
		log.Fatal(err)
	}
	repo := repository.NewRepo(db)

	var sp *spotify.Client
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		sp, err = spotify.NewClientCredentials(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		if err != nil {
			slog.Warn("spotify client init failed, continuing without it", "err", err)
			sp = nil
		}
	}

	yt := media.NewClient()
	bot := handlers.NewBot(cfg, repo, handlers.BotDeps{
		Resolver: resolver.New(cfg, yt, sp, resolver.NewYTSearch()),
		Locator:  media.NewLocator(yt),
		Pipeline: stream.NewPipeline(),
		Spotify:  sp,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := bot.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
