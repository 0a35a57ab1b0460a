package worker

import (
	"context"
	"errors"
	"fmt"
	"keywords/internal/database"
	"keywords/internal/model"
	"keywords/pkg/trademark"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// enrich resolves keywords for every row that has no final outcome yet.
// Row level failures are written to the row; only quota, kill and store
// errors stop the loop.
func (w *KeywordWorker) enrich(ctx context.Context, jobID string, params model.ExtractParams, logger zerolog.Logger) error {
	start := time.Now()

	rows, err := w.store.ListRows(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load rows: %w", err)
	}

	done := 0
	for _, row := range rows {
		if row.Status.Done() {
			done++
		}
	}
	if err := w.progress.SetFilter(ctx, jobID, int64(len(rows)), int64(done)); err != nil {
		logger.Warn().Err(err).Msg("Failed to set filter progress")
	}

	logger.Info().
		Str("phase", "enrich").
		Int("rows", len(rows)).
		Int("alreadyDone", done).
		Msg("Enriching rows")

	for i := range rows {
		row := &rows[i]
		if row.Status.Done() {
			continue
		}

		if err := w.checkKilled(ctx, jobID); err != nil {
			return err
		}

		if err := w.enrichRow(ctx, row, params, logger); err != nil {
			return err
		}

		if err := w.store.UpdateRow(ctx, row); err != nil {
			return fmt.Errorf("save row %d: %w", row.RowIndex, err)
		}

		if err := w.progress.AdvanceFilter(ctx, jobID); err != nil {
			logger.Warn().Err(err).Int("rowIndex", row.RowIndex).Msg("Failed to advance filter progress")
		}

		if err := sleepCtx(ctx, w.opts.CallDelay); err != nil {
			return err
		}
	}

	if err := w.store.SetCheckpoint(ctx, jobID, model.CheckpointEnriched); err != nil {
		return err
	}

	logger.Info().
		Str("phase", "enrich").
		Int("rows", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Enrichment complete")

	return nil
}

// enrichRow fills one row. It returns an error only when the whole job must
// stop; anything else, including a panic, becomes a row marker.
func (w *KeywordWorker) enrichRow(ctx context.Context, row *model.Row, params model.ExtractParams, logger zerolog.Logger) (err error) {
	rowLogger := logger.With().Int("rowIndex", row.RowIndex).Logger()

	defer func() {
		if r := recover(); r != nil {
			rowLogger.Error().Interface("panic", r).Msg("Row enrichment panicked")
			row.Mark(model.RowError, model.MarkerError)
			err = nil
		}
	}()

	if row.Status == model.RowMissingFields {
		row.Mark(model.RowSkipped, model.MarkerMissingFields)
		return nil
	}

	if _, err := w.store.IncrementRateCounter(ctx); err != nil {
		rowLogger.Warn().Err(err).Msg("Failed to increment rate counter")
	}

	path, err := w.categories.LookupCategory(ctx, row.ProductName)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rowLogger.Warn().Err(err).Msg("Category lookup failed")
		row.Mark(model.RowLookupFailed, model.MarkerAbnormalAccess)
		return nil
	}

	leaf := path.Leaf()
	if leaf == "" || !strings.Contains(row.ProductName, leaf) {
		rowLogger.Debug().Str("category", leaf).Msg("Category term not in product name")
		row.Mark(model.RowCategoryMismatch, model.MarkerCategoryMismatch)
		return nil
	}

	row.Category = leaf
	row.CategoryPath = path.String()

	catalogID, err := w.store.FindCatalogID(ctx, row.CategoryPath)
	if errors.Is(err, database.ErrCatalogNotFound) {
		rowLogger.Debug().Str("categoryPath", row.CategoryPath).Msg("No catalog id for category")
		row.Mark(model.RowNoMatch, model.MarkerNoValidKeyword)
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rowLogger.Error().Err(err).Msg("Catalog id lookup failed")
		row.Mark(model.RowError, model.MarkerError)
		return nil
	}
	row.CatalogID = catalogID

	candidates, err := w.store.ListCategoryKeywords(ctx, catalogID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rowLogger.Error().Err(err).Msg("Candidate keyword lookup failed")
		row.Mark(model.RowError, model.MarkerError)
		return nil
	}

	valid, err := w.selectCandidates(ctx, candidates, params, rowLogger)
	if err != nil {
		return err
	}

	if len(valid) == 0 {
		row.Mark(model.RowNoMatch, model.MarkerNoValidKeyword)
		return nil
	}

	row.Status = model.RowMatched
	row.Candidates = valid
	row.ChosenKeyword = valid[w.intN(len(valid))]

	rowLogger.Debug().
		Str("keyword", row.ChosenKeyword).
		Int("candidates", len(valid)).
		Msg("Row matched")

	return nil
}

// selectCandidates shuffles the candidates and keeps up to MaxCandidates valid ones
func (w *KeywordWorker) selectCandidates(ctx context.Context, candidates []model.CategoryKeyword, params model.ExtractParams, logger zerolog.Logger) ([]string, error) {
	shuffled := make([]model.CategoryKeyword, len(candidates))
	copy(shuffled, candidates)
	w.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	valid := make([]string, 0, w.opts.MaxCandidates)
	for _, candidate := range shuffled {
		if len(valid) >= w.opts.MaxCandidates {
			break
		}

		ok, err := w.isValid(ctx, candidate, params, logger)
		if err != nil {
			return nil, err
		}
		if ok {
			valid = append(valid, candidate.Keyword)
		}
	}

	return valid, nil
}

// isValid applies the seller count and volume thresholds, then the
// trademark check when enabled
func (w *KeywordWorker) isValid(ctx context.Context, candidate model.CategoryKeyword, params model.ExtractParams, logger zerolog.Logger) (bool, error) {
	if candidate.Keyword == "" {
		return false, nil
	}
	if candidate.SellerCount < int64(params.SellerCountMin) || candidate.SellerCount > int64(params.SellerCountMax) {
		return false, nil
	}
	if candidate.TotalVolume() <= int64(params.MinVolume) {
		return false, nil
	}

	if !params.UseTrademark || w.trademarks == nil {
		return true, nil
	}

	matches, err := w.trademarks.MatchCount(ctx, candidate.Keyword)
	if errors.Is(err, trademark.ErrQuotaExceeded) {
		return false, err
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Warn().Err(err).Str("keyword", candidate.Keyword).Msg("Trademark lookup failed, rejecting candidate")
		return false, nil
	}

	return matches == 0, nil
}
