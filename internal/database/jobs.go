package database

import (
	"context"
	"errors"
	"fmt"
	"keywords/internal/model"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// WorkDatabase defines Work record operations. Every status change is a
// compare-and-set on the current status so a concurrent kill can never be
// overwritten by the worker and a terminal record never changes again.
type WorkDatabase interface {
	// Create a new Work record in the Waiting state
	CreateWork(ctx context.Context, work *model.Work) error

	// Get a Work record by ID
	GetWork(ctx context.Context, id string) (*model.Work, error)

	// List Work records, newest first
	ListWorks(ctx context.Context, limit, offset int) ([]*model.Work, error)

	// ClaimWork moves a Waiting record to InProgress, or takes over an
	// InProgress record that was flagged for retry. claimed is false when the
	// record is owned elsewhere or already terminal.
	ClaimWork(ctx context.Context, id string) (work *model.Work, claimed bool, err error)

	// TransitionWork sets status to `to` only if the current status is one of `from`
	TransitionWork(ctx context.Context, id string, from []model.WorkStatus, to model.WorkStatus, outputFilename string) (bool, error)

	// SetCheckpoint records the last completed phase
	SetCheckpoint(ctx context.Context, id string, checkpoint model.Checkpoint) error

	// MarkRetryPending flags an InProgress record so the next delivery may resume it
	MarkRetryPending(ctx context.Context, id string) error
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid id %q", ErrJobNotFound, id)
	}
	return oid, nil
}

// CreateWork creates a new Work record in the database
func (m *mongoDB) CreateWork(ctx context.Context, work *model.Work) error {
	// Ensure the work has a valid ID
	if work.ID.IsZero() {
		work.ID = primitive.NewObjectID()
	}

	work.Status = model.WorkWaiting
	if work.CreatedAt.IsZero() {
		work.CreatedAt = time.Now()
	}

	_, err := m.worksCol.InsertOne(ctx, work)
	if err != nil {
		log.Error().Err(err).Str("jobId", work.ID.Hex()).Msg("Failed to create work")
		return err
	}

	log.Debug().Str("jobId", work.ID.Hex()).Str("filename", work.SourceFilename).Msg("Created new work")
	return nil
}

// GetWork retrieves a Work record by its ID
func (m *mongoDB) GetWork(ctx context.Context, id string) (*model.Work, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}

	var work model.Work
	err = m.worksCol.FindOne(ctx, bson.M{"_id": oid}).Decode(&work)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		log.Error().Err(err).Str("jobId", id).Msg("Failed to get work")
		return nil, err
	}

	return &work, nil
}

// ListWorks retrieves Work records, newest first
func (m *mongoDB) ListWorks(ctx context.Context, limit, offset int) ([]*model.Work, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.M{"created_at": -1})

	cursor, err := m.worksCol.Find(ctx, bson.M{}, opts)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list works")
		return nil, err
	}
	defer cursor.Close(ctx)

	works := []*model.Work{}
	if err := cursor.All(ctx, &works); err != nil {
		log.Error().Err(err).Msg("Failed to decode works")
		return nil, err
	}

	return works, nil
}

// ClaimWork implements WorkDatabase
func (m *mongoDB) ClaimWork(ctx context.Context, id string) (*model.Work, bool, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var work model.Work
	err = m.worksCol.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "status": model.WorkWaiting},
		bson.M{"$set": bson.M{
			"status":        model.WorkInProgress,
			"started_at":    now,
			"retry_pending": false,
		}},
		opts,
	).Decode(&work)
	if err == nil {
		log.Debug().Str("jobId", id).Msg("Claimed waiting work")
		return &work, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		log.Error().Err(err).Str("jobId", id).Msg("Failed to claim work")
		return nil, false, err
	}

	err = m.worksCol.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "status": model.WorkInProgress, "retry_pending": true},
		bson.M{"$set": bson.M{"retry_pending": false}},
		opts,
	).Decode(&work)
	if err == nil {
		log.Debug().Str("jobId", id).Str("checkpoint", string(work.Checkpoint)).Msg("Resumed work flagged for retry")
		return &work, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		log.Error().Err(err).Str("jobId", id).Msg("Failed to resume work")
		return nil, false, err
	}

	current, err := m.GetWork(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// TransitionWork implements WorkDatabase
func (m *mongoDB) TransitionWork(ctx context.Context, id string, from []model.WorkStatus, to model.WorkStatus, outputFilename string) (bool, error) {
	oid, err := objectID(id)
	if err != nil {
		return false, err
	}

	set := bson.M{
		"status":        to,
		"retry_pending": false,
	}
	if outputFilename != "" {
		set["output_filename"] = outputFilename
	}
	if to.Terminal() {
		set["ended_at"] = time.Now()
	}

	result, err := m.worksCol.UpdateOne(ctx,
		bson.M{"_id": oid, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
	)
	if err != nil {
		log.Error().Err(err).Str("jobId", id).Int("status", int(to)).Msg("Failed to update work status")
		return false, err
	}

	if result.MatchedCount == 0 {
		log.Debug().Str("jobId", id).Int("status", int(to)).Msg("Work status unchanged, current status not eligible")
		return false, nil
	}

	log.Debug().Str("jobId", id).Int("status", int(to)).Msg("Updated work status")
	return true, nil
}

// SetCheckpoint implements WorkDatabase
func (m *mongoDB) SetCheckpoint(ctx context.Context, id string, checkpoint model.Checkpoint) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}

	_, err = m.worksCol.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"checkpoint": checkpoint}})
	if err != nil {
		log.Error().Err(err).Str("jobId", id).Str("checkpoint", string(checkpoint)).Msg("Failed to set checkpoint")
		return err
	}

	log.Debug().Str("jobId", id).Str("checkpoint", string(checkpoint)).Msg("Set checkpoint")
	return nil
}

// MarkRetryPending implements WorkDatabase
func (m *mongoDB) MarkRetryPending(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}

	_, err = m.worksCol.UpdateOne(ctx,
		bson.M{"_id": oid, "status": model.WorkInProgress},
		bson.M{"$set": bson.M{"retry_pending": true}},
	)
	if err != nil {
		log.Error().Err(err).Str("jobId", id).Msg("Failed to flag work for retry")
		return err
	}

	return nil
}
