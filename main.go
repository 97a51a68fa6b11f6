package main

import (
	"context"
	"flag"
	"log"
	"path/filepath"

	"sd_control_bot/config"
	"sd_control_bot/databases/sqlite"
	"sd_control_bot/discord_bot"
	"sd_control_bot/draft_form"
	"sd_control_bot/entities"
	"sd_control_bot/generation"
	"sd_control_bot/image_store"
	"sd_control_bot/preferences"
	"sd_control_bot/repositories/generation_history"
	"sd_control_bot/security"
	"sd_control_bot/stable_diffusion_api"
	"sd_control_bot/task_ledger"
)

var removeCommandsFlag = flag.Bool("remove", false, "Delete all commands when bot exits")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stableDiffusionAPI, err := stable_diffusion_api.New(stable_diffusion_api.Config{
		Host:            cfg.APIURL,
		GenerateTimeout: cfg.APITimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create Stable Diffusion API: %v", err)
	}

	ctx := context.Background()

	sqliteDB, err := sqlite.New(ctx, cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to create sqlite database: %v", err)
	}

	historyRepo, err := generation_history.NewRepository(&generation_history.Config{
		DB:        sqliteDB,
		Retention: cfg.HistoryLimit,
	})
	if err != nil {
		log.Fatalf("Failed to create generation history repository: %v", err)
	}

	guard, err := security.New(security.Config{
		AuthorizedUsers: cfg.AuthorizedUsers,
		MaxPromptLength: cfg.MaxPromptLength,
		RateLimit:       cfg.RateLimit,
		RateWindow:      cfg.RateWindow,
	})
	if err != nil {
		log.Fatalf("Failed to create security guard: %v", err)
	}

	preferenceStore, err := preferences.New(preferences.Config{
		FilePath: filepath.Join(cfg.DataDir, "preferences.json"),
		Defaults: entities.UserPreferences{
			Width:          cfg.DefaultWidth,
			Height:         cfg.DefaultHeight,
			Steps:          cfg.DefaultSteps,
			CfgScale:       cfg.DefaultCfgScale,
			SamplerName:    cfg.DefaultSampler,
			NegativePrompt: cfg.DefaultNegativePrompt,
		},
	})
	if err != nil {
		log.Fatalf("Failed to create preference store: %v", err)
	}

	snapshotCache, err := task_ledger.NewSnapshotCache(task_ledger.SnapshotConfig{
		FilePath: filepath.Join(cfg.DataDir, "snapshots.json"),
		Capacity: cfg.SnapshotCache,
	})
	if err != nil {
		log.Fatalf("Failed to create snapshot cache: %v", err)
	}

	imageStore, err := image_store.New(image_store.Config{
		Dir: cfg.SaveDir,
	})
	if err != nil {
		log.Fatalf("Failed to create image store: %v", err)
	}

	draftForms := draft_form.New()

	generator, err := generation.New(generation.Config{
		Guard:              guard,
		Preferences:        preferenceStore,
		DraftForms:         draftForms,
		Ledger:             task_ledger.New(task_ledger.Config{}),
		Snapshots:          snapshotCache,
		HistoryRepo:        historyRepo,
		StableDiffusionAPI: stableDiffusionAPI,
		ImageStore:         imageStore,
		MaxQueueSize:       cfg.MaxQueueSize,
	})
	if err != nil {
		log.Fatalf("Failed to create generation service: %v", err)
	}

	bot, err := discord_bot.New(discord_bot.Config{
		BotToken:       cfg.BotToken,
		GuildID:        cfg.GuildID,
		Generator:      generator,
		Guard:          guard,
		Preferences:    preferenceStore,
		DraftForms:     draftForms,
		APIURL:         cfg.APIURL,
		MaxRepeat:      cfg.MaxRepeat,
		RecentWindow:   cfg.RecentWindow,
		HistoryLimit:   cfg.HistoryLimit,
		RemoveCommands: *removeCommandsFlag,
	})
	if err != nil {
		log.Fatalf("Error creating Discord bot: %v", err)
	}

	bot.Start()

	log.Println("Gracefully shutting down.")
}
