package main

import (
	"context"
	"fmt"
	"os"

	"github.com/inksight/inksight-backend/internal/almanac"
	"github.com/inksight/inksight-backend/internal/assets"
	"github.com/inksight/inksight-backend/internal/cache"
	"github.com/inksight/inksight-backend/internal/clients/holiday"
	"github.com/inksight/inksight-backend/internal/clients/imagegen"
	"github.com/inksight/inksight-backend/internal/clients/llm"
	"github.com/inksight/inksight-backend/internal/clients/news"
	"github.com/inksight/inksight-backend/internal/clients/weather"
	"github.com/inksight/inksight-backend/internal/content"
	"github.com/inksight/inksight-backend/internal/db"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/handlers"
	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/modes"
	"github.com/inksight/inksight-backend/internal/pipeline"
	"github.com/inksight/inksight-backend/internal/render"
	"github.com/inksight/inksight-backend/internal/repos"
	"github.com/inksight/inksight-backend/internal/server"
	"github.com/inksight/inksight-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	fontsDir := utils.GetEnv("FONTS_DIR", "assets/fonts", log)
	customModesDir := utils.GetEnv("CUSTOM_MODES_DIR", "data/modes", log)
	imageModel := utils.GetEnv("IMAGEGEN_MODEL", "qwen-image-max", log)

	// SQLite
	sqliteService, err := db.NewSQLiteService(log)
	if err != nil {
		log.Fatal("SQLite init failed", "error", err)
	}
	if err = sqliteService.AutoMigrateAll(); err != nil {
		log.Fatal("SQLite auto migration failed", "error", err)
	}
	theDB := sqliteService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	configRepo := repos.NewDeviceConfigRepo(theDB, log)
	stateRepo := repos.NewDeviceStateRepo(theDB, log)
	historyRepo := repos.NewContentHistoryRepo(theDB, log)
	statsRepo := repos.NewStatsRepo(theDB, log)
	favoriteRepo := repos.NewFavoriteRepo(theDB, log)

	// Clients
	log.Info("Setting up clients from main...")
	holidayClient := holiday.NewClient(log)
	weatherClient := weather.NewClient(log)
	newsClient := news.NewClient(log)
	llmFactory := llm.NewFactory(log)
	imagegenClient, err := imagegen.NewClient(log, imageModel)
	if err != nil {
		log.Warn("Image generation disabled", "error", err)
		imagegenClient = nil
	}

	// Mode registry
	log.Info("Setting up mode registry from main...")
	registry := modes.NewRegistry(log)
	builtins, err := registry.LoadBuiltins()
	if err != nil {
		log.Fatal("Builtin mode load failed", "error", err)
	}
	log.Info("Builtin modes loaded", "count", len(builtins))
	if custom := registry.LoadDirectory(customModesDir, modes.SourceCustom); len(custom) > 0 {
		log.Info("Custom modes loaded", "count", len(custom))
	}

	// Pipeline
	log.Info("Setting up pipeline from main...")
	almanacService, err := almanac.NewService(log, holidayClient)
	if err != nil {
		log.Fatal("Almanac init failed", "error", err)
	}
	library := assets.NewLibrary(log, fontsDir)
	renderer, err := render.NewRenderer(log, library)
	if err != nil {
		log.Fatal("Renderer init failed", "error", err)
	}
	generator, err := content.NewGenerator(log, llmFactory, weatherClient, newsClient, imagegenClient, historyRepo)
	if err != nil {
		log.Fatal("Generator init failed", "error", err)
	}
	pipe, err := pipeline.NewPipeline(log, registry, generator, renderer, almanacService, weatherClient, historyRepo)
	if err != nil {
		log.Fatal("Pipeline init failed", "error", err)
	}

	// Frame cache: Redis backing when configured, in-process only otherwise.
	log.Info("Setting up frame cache from main...")
	store, err := cache.NewRedisStore(log)
	if err != nil {
		log.Warn("Redis unavailable, frames stay in-process only", "error", err)
		store = nil
	}
	generate := func(ctx context.Context, cfg domain.DeviceConfig, modeID string, width, height int) (*render.Bitmap, error) {
		return pipe.GenerateAndRender(ctx, cfg, modeID, width, height, 100)
	}
	frameCache, err := cache.NewFrameCache(log, store, registry, generate)
	if err != nil {
		log.Fatal("Frame cache init failed", "error", err)
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	displayHandler := handlers.NewDisplayHandler(log, registry, configRepo, stateRepo, statsRepo, frameCache, pipe)
	modesHandler := handlers.NewModesHandler(log, registry, pipe, customModesDir)
	configHandler := handlers.NewConfigHandler(log, configRepo)
	deviceHandler := handlers.NewDeviceHandler(log, registry, configRepo, stateRepo, historyRepo, favoriteRepo)
	statsHandler := handlers.NewStatsHandler(log, statsRepo)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		DisplayHandler: displayHandler,
		ModesHandler:   modesHandler,
		ConfigHandler:  configHandler,
		DeviceHandler:  deviceHandler,
		StatsHandler:   statsHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}
