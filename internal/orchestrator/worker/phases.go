package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"keywords/internal/model"
	"keywords/internal/orchestrator"
	"keywords/internal/spreadsheet"
	"keywords/internal/storage"
	"time"

	"github.com/rs/zerolog"
)

// rowBatchSize caps the rows written per bulk upsert
const rowBatchSize = 500

// resultName is stable per job so a resumed render overwrites the same file
func resultName(work *model.Work) string {
	return fmt.Sprintf("%s__%s_result.xlsx", work.CreatedAt.UTC().Format("20060102150405"), work.ID.Hex())
}

// parse materializes one Row record per non-empty data row of the upload
func (w *KeywordWorker) parse(ctx context.Context, work *model.Work, logger zerolog.Logger) error {
	jobID := work.ID.Hex()
	start := time.Now()

	rc, err := w.files.Open(ctx, storage.AreaInput, work.StoredName())
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	parsed, err := spreadsheet.ReadRows(work.SourceFilename, data)
	if err != nil {
		return err
	}

	rows := make([]model.Row, len(parsed))
	for i, p := range parsed {
		rows[i] = model.Row{
			JobID:       jobID,
			RowIndex:    p.RowIndex,
			ProductName: p.ProductName,
			ProductCode: p.ProductCode,
			Status:      model.RowPending,
		}
		if p.Missing {
			rows[i].Status = model.RowMissingFields
		}
	}

	for _, batch := range orchestrator.SplitIntoBatches(rows, rowBatchSize) {
		if err := w.store.UpsertRows(ctx, jobID, batch); err != nil {
			return fmt.Errorf("store rows: %w", err)
		}
	}

	if err := w.progress.SetFilter(ctx, jobID, int64(len(rows)), 0); err != nil {
		logger.Warn().Err(err).Msg("Failed to set filter total")
	}

	if err := w.store.SetCheckpoint(ctx, jobID, model.CheckpointParsed); err != nil {
		return err
	}

	logger.Info().
		Str("phase", "parse").
		Int("rows", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Parsed upload")

	return nil
}

// render writes the result workbook. A job without rows produces no output.
func (w *KeywordWorker) render(ctx context.Context, work *model.Work, logger zerolog.Logger) (string, error) {
	jobID := work.ID.Hex()
	start := time.Now()

	rows, err := w.store.ListRows(ctx, jobID)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}

	if err := w.progress.StartRender(ctx, jobID, int64(len(rows))); err != nil {
		logger.Warn().Err(err).Msg("Failed to set render total")
	}
	status, _ := model.JobRendering.Progress()
	if err := w.progress.SetStatus(ctx, jobID, status); err != nil {
		logger.Warn().Err(err).Msg("Failed to set rendering status")
	}

	data, err := spreadsheet.Render(rows, func(int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.progress.AdvanceRender(ctx, jobID); err != nil {
			logger.Warn().Err(err).Msg("Failed to advance render progress")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	name := resultName(work)
	if err := w.files.Put(ctx, storage.AreaResult, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}

	if err := w.store.SetCheckpoint(ctx, jobID, model.CheckpointRendered); err != nil {
		return "", err
	}

	logger.Info().
		Str("phase", "render").
		Int("rows", len(rows)).
		Int("bytes", len(data)).
		Str("outputFilename", name).
		Dur("duration", time.Since(start)).
		Msg("Rendered result")

	return name, nil
}
