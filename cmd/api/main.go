package main

import (
	"context"
	"errors"
	"keywords/internal/cache"
	"keywords/internal/config"
	"keywords/internal/controller"
	"keywords/internal/database"
	"keywords/internal/orchestrator"
	"keywords/internal/orchestrator/worker"
	"keywords/internal/rabbitmq"
	"keywords/internal/scheduler"
	"keywords/internal/server"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.SetupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize MongoDB connection
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer db.Close(context.Background())
	log.Info().Msg("Database connection established")

	// Initialize Redis connection
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize redis cache connection")
	}
	defer redisCache.Close()
	progress := cache.NewProgressStore(redisCache, cfg.Jobs.ProgressTTL())

	files, err := worker.OpenFileStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize file store")
	}

	// Initialize RabbitMQ client
	rabbit, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}
	defer rabbit.Close()

	if err := rabbitmq.DeclareTopology(rabbit, cfg.RabbitMQ); err != nil {
		log.Fatal().Err(err).Msg("Failed to declare RabbitMQ topology")
	}

	resets, err := scheduler.New(db, cfg.Jobs.ResetSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule rate counter reset")
	}
	resets.Start()

	var consumer *rabbitmq.Consumer
	if cfg.Jobs.ConsumeInAPI {
		registry := orchestrator.NewJobRegistry()
		w, release := worker.NewFromConfig(cfg, db, redisCache, progress, files, registry)
		defer release()
		consumer = worker.StartConsuming(ctx, cfg.RabbitMQ, rabbit, w, progress, registry)
	}

	sc := controller.NewServer(db, redisCache, rabbit, files)
	jc := controller.NewJobController(db, progress, files, rabbit, cfg.RabbitMQ, cfg.Trademark.BaseURL != "")
	cc := controller.NewCatalogController(db)
	srv := server.New(*cfg, sc, jc, cc)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	resets.Stop(shutdownCtx)
	if consumer != nil {
		consumer.Wait()
	}
}
