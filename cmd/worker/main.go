package main

import (
	"context"
	"keywords/internal/cache"
	"keywords/internal/config"
	"keywords/internal/database"
	"keywords/internal/orchestrator"
	"keywords/internal/orchestrator/worker"
	"keywords/internal/rabbitmq"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

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

	registry := orchestrator.NewJobRegistry()
	w, release := worker.NewFromConfig(cfg, db, redisCache, progress, files, registry)
	defer release()

	consumer := worker.StartConsuming(ctx, cfg.RabbitMQ, rabbit, w, progress, registry)
	log.Info().Str("queue", cfg.RabbitMQ.QueueName).Msg("Worker started. Press CTRL+C to exit.")

	<-ctx.Done()
	log.Info().Strs("activeJobs", registry.ActiveJobs()).Msg("Shutting down...")
	consumer.Wait()
}
