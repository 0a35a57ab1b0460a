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

// RateCounterDatabase is the shared daily count of external lookups
type RateCounterDatabase interface {
	// IncrementRateCounter atomically adds one and returns the new count
	IncrementRateCounter(ctx context.Context) (int64, error)

	// CurrentRateCount returns today's count, zero if the counter does not exist
	CurrentRateCount(ctx context.Context) (int64, error)

	// ResetRateCounter zeroes the counter. reset is false when it does not exist yet.
	ResetRateCounter(ctx context.Context) (reset bool, err error)
}

// IncrementRateCounter implements RateCounterDatabase
func (m *mongoDB) IncrementRateCounter(ctx context.Context) (int64, error) {
	now := time.Now()
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter model.RateCounter
	err := m.rateCol.FindOneAndUpdate(ctx,
		bson.M{"_id": model.RateCounterID},
		bson.M{
			"$inc":         bson.M{"use_count": 1},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		},
		opts,
	).Decode(&counter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to increment rate counter")
		return 0, err
	}

	return counter.UseCount, nil
}

// CurrentRateCount implements RateCounterDatabase
func (m *mongoDB) CurrentRateCount(ctx context.Context) (int64, error) {
	var counter model.RateCounter
	err := m.rateCol.FindOne(ctx, bson.M{"_id": model.RateCounterID}).Decode(&counter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		log.Error().Err(err).Msg("Failed to read rate counter")
		return 0, err
	}

	return counter.UseCount, nil
}

// ResetRateCounter implements RateCounterDatabase
func (m *mongoDB) ResetRateCounter(ctx context.Context) (bool, error) {
	result, err := m.rateCol.UpdateOne(ctx,
		bson.M{"_id": model.RateCounterID},
		bson.M{"$set": bson.M{"use_count": 0, "updated_at": time.Now()}},
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reset rate counter")
		return false, err
	}

	return result.MatchedCount > 0, nil
}
