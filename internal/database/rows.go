package database

import (
	"context"
	"keywords/internal/model"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RowDatabase defines per-row persistence for a job
type RowDatabase interface {
	// UpsertRows writes rows keyed by (job id, row index) so parsing twice is harmless
	UpsertRows(ctx context.Context, jobID string, rows []model.Row) error

	// ListRows returns a job's rows in spreadsheet order
	ListRows(ctx context.Context, jobID string) ([]model.Row, error)

	// UpdateRow stores the enrichment outcome of one row
	UpdateRow(ctx context.Context, row *model.Row) error
}

// UpsertRows implements RowDatabase
func (m *mongoDB) UpsertRows(ctx context.Context, jobID string, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(rows))
	for _, row := range rows {
		if row.Candidates == nil {
			row.Candidates = []string{}
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"job_id": jobID, "row_index": row.RowIndex}).
			SetUpdate(bson.M{"$set": bson.M{
				"product_name":   row.ProductName,
				"product_code":   row.ProductCode,
				"category":       row.Category,
				"chosen_keyword": row.ChosenKeyword,
				"candidates":     row.Candidates,
				"status":         row.Status,
			}}).
			SetUpsert(true))
	}

	result, err := m.rowsCol.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		log.Error().Err(err).Str("jobId", jobID).Int("rowCount", len(rows)).Msg("Failed to upsert rows")
		return err
	}

	log.Debug().
		Str("jobId", jobID).
		Int64("upserted", result.UpsertedCount).
		Int64("modified", result.ModifiedCount).
		Msg("Upserted rows")
	return nil
}

// ListRows implements RowDatabase
func (m *mongoDB) ListRows(ctx context.Context, jobID string) ([]model.Row, error) {
	opts := options.Find().SetSort(bson.M{"row_index": 1})

	cursor, err := m.rowsCol.Find(ctx, bson.M{"job_id": jobID}, opts)
	if err != nil {
		log.Error().Err(err).Str("jobId", jobID).Msg("Failed to list rows")
		return nil, err
	}
	defer cursor.Close(ctx)

	rows := []model.Row{}
	if err := cursor.All(ctx, &rows); err != nil {
		log.Error().Err(err).Str("jobId", jobID).Msg("Failed to decode rows")
		return nil, err
	}

	return rows, nil
}

// UpdateRow implements RowDatabase
func (m *mongoDB) UpdateRow(ctx context.Context, row *model.Row) error {
	candidates := row.Candidates
	if candidates == nil {
		candidates = []string{}
	}

	update := bson.M{
		"$set": bson.M{
			"category":       row.Category,
			"category_path":  row.CategoryPath,
			"catalog_id":     row.CatalogID,
			"chosen_keyword": row.ChosenKeyword,
			"candidates":     candidates,
			"status":         row.Status,
		},
	}

	_, err := m.rowsCol.UpdateOne(ctx, bson.M{"job_id": row.JobID, "row_index": row.RowIndex}, update)
	if err != nil {
		log.Error().Err(err).Str("jobId", row.JobID).Int("rowIndex", row.RowIndex).Msg("Failed to update row")
		return err
	}

	return nil
}
