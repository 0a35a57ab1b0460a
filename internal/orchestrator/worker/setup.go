package worker

import (
	"context"
	"fmt"
	"keywords/internal/aws"
	"keywords/internal/cache"
	"keywords/internal/config"
	"keywords/internal/database"
	"keywords/internal/model"
	"keywords/internal/orchestrator"
	"keywords/internal/rabbitmq"
	"keywords/internal/storage"
	"keywords/pkg/shopping"
	"keywords/pkg/trademark"
	"time"

	"github.com/rs/zerolog/log"
)

// killResubscribeDelay is the pause before re-subscribing to kill requests
const killResubscribeDelay = 5 * time.Second

// shoppingCategories adapts the shopping search client to CategoryLookup
type shoppingCategories struct {
	client *shopping.Client
}

func (s shoppingCategories) LookupCategory(ctx context.Context, productName string) (model.CategoryPath, error) {
	levels, err := s.client.LookupCategory(ctx, productName)
	if err != nil {
		return nil, err
	}
	return model.CategoryPath(levels), nil
}

// NewShoppingClient builds the shopping search client. Credentials switch
// once the shared rate counter passes the configured threshold.
func NewShoppingClient(cfg config.ShoppingConfig, counter database.RateCounterDatabase) *shopping.Client {
	return shopping.New(cfg.BaseURL,
		shopping.Credentials{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret},
		shopping.Credentials{ClientID: cfg.SecondaryClientID, ClientSecret: cfg.SecondaryClientSecret},
		cfg.SwitchThreshold,
		counter.CurrentRateCount,
		cfg.RequestsPerMinute,
	)
}

// OpenFileStore returns the configured upload and result store
func OpenFileStore(ctx context.Context, cfg config.StorageConfig) (storage.FileStore, error) {
	switch cfg.Driver {
	case "local":
		return storage.NewLocalFileStore(cfg.InputDir, cfg.ResultDir)
	case "s3":
		return aws.NewFileService(ctx, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewFromConfig wires a worker to the external lookups named in cfg. The
// returned func releases the lookup clients.
func NewFromConfig(cfg *config.Config, db database.Database, redisCache *cache.RedisCache, progress cache.ProgressStore,
	files storage.FileStore, registry orchestrator.JobRegistry) (*KeywordWorker, func()) {
	shoppingClient := NewShoppingClient(cfg.Shopping, db)
	categories := cache.NewCachedCategoryLookup(shoppingCategories{client: shoppingClient}, redisCache, cfg.Jobs.CategoryCacheTTL())

	var trademarks TrademarkLookup
	var trademarkClient *trademark.Client
	if cfg.Trademark.BaseURL != "" {
		trademarkClient = trademark.New(cfg.Trademark.BaseURL, cfg.Trademark.AccessKey, cfg.Trademark.RequestsPerMinute)
		trademarks = trademarkClient
	} else {
		log.Warn().Msg("No trademark service configured, trademark checks are skipped")
	}

	w := New(db, progress, files, categories, trademarks, registry, OptionsFromConfig(cfg.Jobs))

	return w, func() {
		shoppingClient.Close()
		if trademarkClient != nil {
			trademarkClient.Close()
		}
	}
}

// StartConsuming attaches w to the job queue and to the kill channel. Both
// stop when ctx ends; call Wait on the returned consumer to drain it.
func StartConsuming(ctx context.Context, cfg config.RabbitMQConfig, client rabbitmq.Client, w *KeywordWorker,
	progress cache.ProgressStore, registry orchestrator.JobRegistry) *rabbitmq.Consumer {
	go WatchKills(ctx, progress, registry, killResubscribeDelay)

	consumer := rabbitmq.NewConsumer(client, cfg.QueueName, rabbitmq.PolicyFromConfig(cfg.Retry), w.Handle).
		OnExhausted(w.Abandon)
	consumer.Start(ctx)
	return consumer
}
