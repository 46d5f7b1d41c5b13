package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Uriel-Ondo/agro/internal/config"
	"github.com/Uriel-Ondo/agro/internal/database"
	"github.com/Uriel-Ondo/agro/internal/fanout"
	"github.com/Uriel-Ondo/agro/internal/logging"
	"github.com/Uriel-Ondo/agro/internal/repository"
	"github.com/Uriel-Ondo/agro/internal/repository/memory"
	"github.com/Uriel-Ondo/agro/internal/routes"
	"github.com/Uriel-Ondo/agro/internal/services"
	chatws "github.com/Uriel-Ondo/agro/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	var store repository.Store
	switch {
	case cfg.DBUrl != "":
		if err := database.ConnectDB(ctx, cfg.DBUrl, cfg.DBPool()); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer database.CloseDB()
		store = repository.NewPostgresStore(database.DB)
	case cfg.IsDevelopment():
		log.Warn().Msg("DB_URL not set, using the in-memory store")
		store = memory.New()
	default:
		log.Fatal().Msg("DB_URL is required")
	}

	var media services.MediaStorage
	if cfg.SupabaseEnabled() {
		media = services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
	} else {
		media = services.NewLocalStorageService(cfg.UploadDir, cfg.PublicBaseURL)
	}

	// 3. Relay components
	hub := chatws.NewHub(cfg.WSSendBuffer)
	presence := services.NewPresenceTracker(store, cfg.InstanceID)
	if err := presence.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to reset presence")
	}
	gateway := services.NewGateway(store, presence, hub, media)

	var bridge *fanout.Bridge
	if cfg.RedisEnabled {
		bridge, err = fanout.NewRedisBridge(ctx, cfg.RedisAddr, cfg.RedisStream, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start fanout bridge")
		}
		hub.SetForwarder(bridge)
	}

	// 4. Setup Fiber
	app := fiber.New(fiber.Config{
		BodyLimit: cfg.MaxUploadBytes + 1<<20,
	})

	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	routes.RegisterRoutes(app, cfg, routes.Dependencies{
		Gateway:  gateway,
		Presence: presence,
		Hub:      hub,
	})

	// 5. Serve until a signal or a fatal error
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		return app.Listen(":" + cfg.Port)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		hub.Close()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	if bridge != nil {
		group.Go(func() error {
			return bridge.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server stopped with error")
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := presence.Stop(cleanupCtx); err != nil {
		log.Error().Err(err).Msg("failed to mark users offline")
	}
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close fanout bridge")
		}
	}
	log.Info().Msg("server stopped")
}
