package database

import (
	"context"
	"errors"
	"keywords/internal/model"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogDatabase backs the catalog id and candidate keyword lookups
type CatalogDatabase interface {
	FindCatalogID(ctx context.Context, path string) (string, error)
	FindCategory(ctx context.Context, path string) (*model.Category, error)
	UpsertCategory(ctx context.Context, category model.Category) error
	ListCategories(ctx context.Context) ([]model.Category, error)

	ListCategoryKeywords(ctx context.Context, catalogID string) ([]model.CategoryKeyword, error)
	UpsertCategoryKeywords(ctx context.Context, keywords []model.CategoryKeyword) error

	FindRank(ctx context.Context, catalogID string) (*model.Rank, error)
	UpsertRank(ctx context.Context, rank model.Rank) error
}

// FindCatalogID implements CatalogDatabase
func (m *mongoDB) FindCatalogID(ctx context.Context, path string) (string, error) {
	category, err := m.FindCategory(ctx, path)
	if err != nil {
		return "", err
	}
	return category.CatalogID, nil
}

// FindCategory implements CatalogDatabase
func (m *mongoDB) FindCategory(ctx context.Context, path string) (*model.Category, error) {
	var category model.Category
	err := m.categoriesCol.FindOne(ctx, bson.M{"path": path}).Decode(&category)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCatalogNotFound
		}
		log.Error().Err(err).Str("path", path).Msg("Failed to find category")
		return nil, err
	}

	return &category, nil
}

// UpsertCategory implements CatalogDatabase
func (m *mongoDB) UpsertCategory(ctx context.Context, category model.Category) error {
	_, err := m.categoriesCol.UpdateOne(ctx,
		bson.M{"path": category.Path},
		bson.M{"$set": bson.M{"catalog_id": category.CatalogID, "updated_at": time.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		log.Error().Err(err).Str("path", category.Path).Msg("Failed to upsert category")
		return err
	}

	log.Debug().Str("path", category.Path).Str("catalogId", category.CatalogID).Msg("Upserted category")
	return nil
}

// ListCategories implements CatalogDatabase
func (m *mongoDB) ListCategories(ctx context.Context) ([]model.Category, error) {
	cursor, err := m.categoriesCol.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"path": 1}))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list categories")
		return nil, err
	}
	defer cursor.Close(ctx)

	categories := []model.Category{}
	if err := cursor.All(ctx, &categories); err != nil {
		log.Error().Err(err).Msg("Failed to decode categories")
		return nil, err
	}

	return categories, nil
}

// ListCategoryKeywords implements CatalogDatabase
func (m *mongoDB) ListCategoryKeywords(ctx context.Context, catalogID string) ([]model.CategoryKeyword, error) {
	cursor, err := m.categoryKeywordCol.Find(ctx, bson.M{"catalog_id": catalogID})
	if err != nil {
		log.Error().Err(err).Str("catalogId", catalogID).Msg("Failed to list category keywords")
		return nil, err
	}
	defer cursor.Close(ctx)

	keywords := []model.CategoryKeyword{}
	if err := cursor.All(ctx, &keywords); err != nil {
		log.Error().Err(err).Str("catalogId", catalogID).Msg("Failed to decode category keywords")
		return nil, err
	}

	return keywords, nil
}

// UpsertCategoryKeywords implements CatalogDatabase
func (m *mongoDB) UpsertCategoryKeywords(ctx context.Context, keywords []model.CategoryKeyword) error {
	if len(keywords) == 0 {
		return nil
	}

	now := time.Now()
	writes := make([]mongo.WriteModel, 0, len(keywords))
	for _, k := range keywords {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"catalog_id": k.CatalogID, "keyword": k.Keyword}).
			SetUpdate(bson.M{"$set": bson.M{
				"seller_count":  k.SellerCount,
				"pc_volume":     k.PCVolume,
				"mobile_volume": k.MobileVolume,
				"updated_at":    now,
			}}).
			SetUpsert(true))
	}

	result, err := m.categoryKeywordCol.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		log.Error().Err(err).Int("count", len(keywords)).Msg("Failed to upsert category keywords")
		return err
	}

	log.Debug().
		Int64("upserted", result.UpsertedCount).
		Int64("modified", result.ModifiedCount).
		Msg("Upserted category keywords")
	return nil
}

// FindRank implements CatalogDatabase
func (m *mongoDB) FindRank(ctx context.Context, catalogID string) (*model.Rank, error) {
	var rank model.Rank
	err := m.ranksCol.FindOne(ctx, bson.M{"catalog_id": catalogID}).Decode(&rank)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRankNotFound
		}
		log.Error().Err(err).Str("catalogId", catalogID).Msg("Failed to find rank")
		return nil, err
	}

	return &rank, nil
}

// UpsertRank implements CatalogDatabase
func (m *mongoDB) UpsertRank(ctx context.Context, rank model.Rank) error {
	_, err := m.ranksCol.UpdateOne(ctx,
		bson.M{"catalog_id": rank.CatalogID},
		bson.M{"$set": bson.M{
			"category":     rank.Category,
			"rank_keyword": rank.RankKeyword,
			"updated_at":   time.Now(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		log.Error().Err(err).Str("catalogId", rank.CatalogID).Msg("Failed to upsert rank")
		return err
	}

	log.Debug().Str("catalogId", rank.CatalogID).Msg("Upserted rank")
	return nil
}
