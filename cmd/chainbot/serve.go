package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chainbot/internal/config"
	"chainbot/internal/dispatch"
	"chainbot/internal/game"
	"chainbot/internal/judge"
	"chainbot/internal/platform"
	"chainbot/internal/session"
	"chainbot/internal/story"
	"chainbot/internal/ticket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Discord and run the bot until interrupted",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providerCfg := judge.ProviderConfig{
		Provider:    judge.Provider(cfg.Judge.Provider),
		APIKey:      cfg.Judge.APIKey,
		Model:       cfg.Judge.Model,
		BaseURL:     cfg.Judge.BaseURL,
		Temperature: cfg.Judge.Temperature,
		Timeout:     cfg.Judge.TimeoutDuration(),
	}
	llm, err := judge.NewClient(ctx, providerCfg, logger.Named("llm"))
	if err != nil {
		return fmt.Errorf("failed to build LLM client: %w", err)
	}
	referee := judge.NewReferee(llm, cfg.Judge.TimeoutDuration(), logger.Named("judge"))

	// The relay and storyteller get their own client at chat temperature;
	// the referee stays deterministic.
	chatCfg := providerCfg
	chatCfg.Temperature = cfg.Judge.ChatTemperature
	chatLLM, err := judge.NewClient(ctx, chatCfg, logger.Named("chat-llm"))
	if err != nil {
		return fmt.Errorf("failed to build chat LLM client: %w", err)
	}

	sessions := session.NewStore()
	client := platform.NewClient(cfg.Discord.Token, cfg.Discord.MessageCacheSize, logger.Named("discord"))

	engine := game.NewEngine(sessions, referee, client, client,
		game.Options{AllowSelfFollow: cfg.Game.AllowSelfFollow}, logger.Named("game"))
	monitor := game.NewMonitor(sessions, client, logger.Named("integrity"))

	dispatcher := dispatch.New(dispatch.Config{
		Platform:         client,
		Sessions:         sessions,
		Engine:           engine,
		Monitor:          monitor,
		LLM:              chatLLM,
		AdminUserIDs:     cfg.Discord.AdminUserIDs,
		RecoveryLookback: cfg.Game.RecoveryLookback,
	}, logger.Named("dispatch"))

	tickets := ticket.NewManager(client, sessions, dispatcher.IsAdmin, logger.Named("ticket"))
	stories := story.NewGenerator(client, chatLLM, story.Config{
		Hour:          cfg.Story.Hour,
		Minute:        cfg.Story.Minute,
		Location:      cfg.Story.Location(),
		TestWordLimit: cfg.Story.TestWordLimit,
	}, logger.Named("story"))
	dispatcher.Attach(tickets, stories)

	gateway := platform.NewGateway(cfg.Discord.Token, client, dispatcher, logger.Named("gateway"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gateway.Run(gctx)
	})
	if cfg.Story.Enabled {
		g.Go(func() error {
			return stories.Run(gctx)
		})
	}

	// Hot-reload the game tunables when the config file changes.
	watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
		engine.SetOptions(game.Options{AllowSelfFollow: next.Game.AllowSelfFollow})
	}, logger.Named("config"))
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	logger.Info("chainbot starting", zap.String("version", version))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("chainbot stopped")
	return nil
}
