package controller

import (
	"context"
	"keywords/internal/cache"
	"keywords/internal/database"
	"keywords/internal/rabbitmq"
	"keywords/internal/storage"
	"time"
)

// healthTimeout bounds each dependency check
const healthTimeout = 3 * time.Second

type ServerController interface {
	DBHealth() error
	CacheHealth() error
	RabbitHealth() error
	FileStoreHealth() error
	Online() string
}

type serverController struct {
	db     database.Database
	cache  cache.Cache
	rabbit rabbitmq.Client
	files  storage.FileStore
}

func NewServer(db database.Database, cache cache.Cache, rabbit rabbitmq.Client, files storage.FileStore) ServerController {
	return &serverController{
		db:     db,
		cache:  cache,
		rabbit: rabbit,
		files:  files,
	}
}

func (sc *serverController) Online() string {
	return "Online"
}

func (sc *serverController) DBHealth() error {
	return sc.db.Health()
}

func (sc *serverController) CacheHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	return sc.cache.Ping(ctx)
}

func (sc *serverController) RabbitHealth() error {
	return sc.rabbit.Health()
}

func (sc *serverController) FileStoreHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	return sc.files.Health(ctx)
}
