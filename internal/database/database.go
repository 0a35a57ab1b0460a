package database

import (
	"context"
	"errors"
	"keywords/internal/config"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrJobNotFound is returned when no Work record matches an id
	ErrJobNotFound = errors.New("job not found")

	// ErrCatalogNotFound is returned when a category path has no catalog id
	ErrCatalogNotFound = errors.New("catalog id not found")

	// ErrRankNotFound is returned when a catalog id has no recorded rank
	ErrRankNotFound = errors.New("rank not found")
)

type Database interface {
	Health() error
	Close(ctx context.Context) error
	WorkDatabase
	RowDatabase
	RateCounterDatabase
	CatalogDatabase
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	worksCol           *mongo.Collection
	rowsCol            *mongo.Collection
	rateCol            *mongo.Collection
	categoriesCol      *mongo.Collection
	categoryKeywordCol *mongo.Collection
	ranksCol           *mongo.Collection
}

func New(config *config.Config) (Database, error) {
	clientOptions := options.Client().ApplyURI(config.MongoDB.URI)
	if config.MongoDB.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: config.MongoDB.Username,
			Password: config.MongoDB.Password,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	db := client.Database(config.MongoDB.DB)

	m := &mongoDB{
		client:             client,
		db:                 db,
		worksCol:           db.Collection("works"),
		rowsCol:            db.Collection("backups"),
		rateCol:            db.Collection("rate_counter"),
		categoriesCol:      db.Collection("categories"),
		categoryKeywordCol: db.Collection("category_keywords"),
		ranksCol:           db.Collection("ranks"),
	}

	m.createIndexes(ctx)

	return m, nil
}

func (m *mongoDB) createIndexes(ctx context.Context) {
	workIndexModels := []mongo.IndexModel{
		{
			// Index for status-based queries
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			// Index for sorting by creation date
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
	}

	rowIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}, {Key: "row_index", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	categoryIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "path", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	keywordIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "catalog_id", Value: 1}, {Key: "keyword", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	rankIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "catalog_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := m.worksCol.Indexes().CreateMany(ctx, workIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "Works").Msg("Error creating indexes")
	}

	if _, err := m.rowsCol.Indexes().CreateMany(ctx, rowIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "Backups").Msg("Error creating indexes")
	}

	if _, err := m.categoriesCol.Indexes().CreateMany(ctx, categoryIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "Categories").Msg("Error creating indexes")
	}

	if _, err := m.categoryKeywordCol.Indexes().CreateMany(ctx, keywordIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "CategoryKeywords").Msg("Error creating indexes")
	}

	if _, err := m.ranksCol.Indexes().CreateMany(ctx, rankIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "Ranks").Msg("Error creating indexes")
	}
}

// Health implements Database interface
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := m.client.Ping(ctx, nil)

	if err != nil {
		log.Error().Msgf("Database health error: %v", err)
		return err
	}

	return nil
}

func (m *mongoDB) Close(ctx context.Context) error {
	log.Info().Msg("Closing MongoDB connection")
	return m.client.Disconnect(ctx)
}
