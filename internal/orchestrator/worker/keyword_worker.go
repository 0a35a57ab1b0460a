package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"keywords/internal/cache"
	"keywords/internal/config"
	"keywords/internal/database"
	"keywords/internal/model"
	"keywords/internal/orchestrator"
	"keywords/internal/storage"
	"keywords/pkg/trademark"
	"math/rand/v2"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrJobKilled is the cancellation cause of a job stopped by a kill request
var ErrJobKilled = errors.New("job killed")

// cleanupTimeout bounds store writes made after the job context is gone
const cleanupTimeout = 10 * time.Second

// Store is the durable state the worker reads and writes
type Store interface {
	database.WorkDatabase
	database.RowDatabase

	IncrementRateCounter(ctx context.Context) (int64, error)
	FindCatalogID(ctx context.Context, path string) (string, error)
	ListCategoryKeywords(ctx context.Context, catalogID string) ([]model.CategoryKeyword, error)
}

// TrademarkLookup returns the number of live registrations matching a
// keyword, or trademark.ErrQuotaExceeded once the daily allowance is gone
type TrademarkLookup interface {
	MatchCount(ctx context.Context, keyword string) (int64, error)
}

// Options tune retries, pacing and cleanup
type Options struct {
	MaxPhaseAttempts   int
	MaxCandidates      int
	CallDelay          time.Duration
	GracePeriod        time.Duration
	FailureGracePeriod time.Duration

	// Rand drives candidate shuffling and primary keyword choice
	Rand *rand.Rand
}

func OptionsFromConfig(cfg config.JobsConfig) Options {
	return Options{
		MaxPhaseAttempts:   cfg.MaxPhaseAttempts,
		MaxCandidates:      cfg.MaxCandidates,
		CallDelay:          cfg.CallDelay(),
		GracePeriod:        cfg.GracePeriod(),
		FailureGracePeriod: cfg.FailureGracePeriod(),
	}
}

// KeywordWorker runs extraction jobs delivered from the queue
type KeywordWorker struct {
	store      Store
	progress   cache.ProgressStore
	files      storage.FileStore
	categories cache.CategoryLookup
	trademarks TrademarkLookup
	registry   orchestrator.JobRegistry
	opts       Options

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(store Store, progress cache.ProgressStore, files storage.FileStore, categories cache.CategoryLookup,
	trademarks TrademarkLookup, registry orchestrator.JobRegistry, opts Options) *KeywordWorker {
	if opts.MaxPhaseAttempts <= 0 {
		opts.MaxPhaseAttempts = 3
	}
	if opts.MaxCandidates <= 0 || opts.MaxCandidates > model.MaxCandidates {
		opts.MaxCandidates = model.MaxCandidates
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &KeywordWorker{
		store:      store,
		progress:   progress,
		files:      files,
		categories: categories,
		trademarks: trademarks,
		registry:   registry,
		opts:       opts,
		rng:        rng,
	}
}

// phaseError is a parse, enrich or render failure counted against the job's retry budget
type phaseError struct {
	phase string
	err   error
}

func (e *phaseError) Error() string {
	return e.phase + ": " + e.err.Error()
}

func (e *phaseError) Unwrap() error {
	return e.err
}

// countedError carries the progress retry count to the consumer, which uses
// it in place of its own per-delivery attempt count
type countedError struct {
	attempt int
	err     error
}

func (e *countedError) Error() string {
	return e.err.Error()
}

func (e *countedError) Unwrap() error {
	return e.err
}

func (e *countedError) Attempt() int {
	return e.attempt
}

// Handle implements rabbitmq.Handler
func (w *KeywordWorker) Handle(ctx context.Context, delivery amqp.Delivery) error {
	var msg model.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		log.Error().Err(err).Str("body", string(delivery.Body)).Msg("Discarding malformed job message")
		return nil
	}

	return w.Run(ctx, msg)
}

// Abandon fails the job of a message the consumer is about to drop
func (w *KeywordWorker) Abandon(ctx context.Context, delivery amqp.Delivery, cause error) {
	var msg model.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil || msg.WorkID == "" {
		return
	}

	logger := log.With().Str("jobId", msg.WorkID).Logger()
	logger.Error().Err(cause).Msg("Job message dropped after exhausted redelivery")

	ctx, cancel := cleanupContext(ctx)
	defer cancel()

	from := []model.WorkStatus{model.WorkWaiting, model.WorkInProgress}
	if _, err := w.store.TransitionWork(ctx, msg.WorkID, from, model.WorkFailed, ""); err != nil {
		logger.Error().Err(err).Msg("Failed to mark abandoned job failed")
	}
	w.deleteProgress(ctx, msg.WorkID, logger)
}

// Run drives one job through parse, enrich, render and finalize. A returned
// error asks the broker to redeliver the message.
func (w *KeywordWorker) Run(ctx context.Context, msg model.JobMessage) error {
	jobID := msg.WorkID
	logger := log.With().Str("jobId", jobID).Logger()

	work, claimed, err := w.store.ClaimWork(ctx, jobID)
	if errors.Is(err, database.ErrJobNotFound) {
		logger.Warn().Msg("Job record not found, discarding message")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		if work.Status == model.WorkKilled {
			logger.Info().Msg("Job already killed, removing progress")
			w.deleteProgress(ctx, jobID, logger)
			return nil
		}
		logger.Info().Int("status", int(work.Status)).Msg("Job already handled, skipping duplicate delivery")
		return nil
	}

	logger.Info().
		Str("filename", work.SourceFilename).
		Str("checkpoint", string(work.Checkpoint)).
		Msg("Starting keyword extraction job")

	jobCtx, release := w.registry.Register(ctx, jobID)
	defer release()

	w.ensureProgress(ctx, work, logger)

	params := msg.Params().WithDefaults()
	if params.UseTrademark && w.trademarks == nil {
		logger.Warn().Msg("Trademark screening requested but no trademark service is configured, skipping checks")
	}
	output, err := w.execute(jobCtx, work, params, logger)
	if err != nil && errors.Is(context.Cause(jobCtx), ErrJobKilled) {
		err = ErrJobKilled
	}

	switch {
	case err == nil:
		if output == "" {
			logger.Warn().Msg("Job produced no output")
			return w.finalize(ctx, jobID, model.JobFailed, "", w.opts.FailureGracePeriod, logger)
		}
		return w.finalize(ctx, jobID, model.JobSuccess, output, w.opts.GracePeriod, logger)

	case errors.Is(err, ErrJobKilled):
		return w.abortKilled(ctx, jobID, logger)

	case errors.Is(err, trademark.ErrQuotaExceeded):
		logger.Warn().Msg("Trademark quota exceeded, stopping job")
		return w.finalize(ctx, jobID, model.JobQuotaExceeded, "", w.opts.GracePeriod, logger)

	case ctx.Err() != nil:
		logger.Warn().Err(err).Msg("Worker shutting down, job will resume on redelivery")
		cctx, cancel := cleanupContext(ctx)
		defer cancel()
		if markErr := w.store.MarkRetryPending(cctx, jobID); markErr != nil {
			logger.Error().Err(markErr).Msg("Failed to flag job for retry")
		}
		return err

	default:
		return w.phaseFailed(ctx, jobID, err, logger)
	}
}

// execute runs every phase not yet recorded as a checkpoint and returns the result file name
func (w *KeywordWorker) execute(ctx context.Context, work *model.Work, params model.ExtractParams, logger zerolog.Logger) (string, error) {
	jobID := work.ID.Hex()

	if !work.Checkpoint.Reached(model.CheckpointParsed) {
		if err := w.parse(ctx, work, logger); err != nil {
			return "", &phaseError{phase: "parse", err: err}
		}
		w.resetRetry(ctx, jobID, logger)
	}

	if err := w.checkKilled(ctx, jobID); err != nil {
		return "", err
	}

	if !work.Checkpoint.Reached(model.CheckpointEnriched) {
		if err := w.enrich(ctx, jobID, params, logger); err != nil {
			return "", err
		}
		w.resetRetry(ctx, jobID, logger)
	}

	if err := w.checkKilled(ctx, jobID); err != nil {
		return "", err
	}

	if work.Checkpoint.Reached(model.CheckpointRendered) {
		return resultName(work), nil
	}

	output, err := w.render(ctx, work, logger)
	if err != nil {
		return "", &phaseError{phase: "render", err: err}
	}
	return output, nil
}

// checkKilled reports ErrJobKilled once the job context was cancelled by a
// kill or the durable record already says Killed
func (w *KeywordWorker) checkKilled(ctx context.Context, jobID string) error {
	if errors.Is(context.Cause(ctx), ErrJobKilled) {
		return ErrJobKilled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work, err := w.store.GetWork(ctx, jobID)
	if err != nil {
		return err
	}
	if work.Status == model.WorkKilled {
		return ErrJobKilled
	}
	return nil
}

func (w *KeywordWorker) ensureProgress(ctx context.Context, work *model.Work, logger zerolog.Logger) {
	jobID := work.ID.Hex()
	status, _ := model.JobInProgress.Progress()

	_, err := w.progress.Get(ctx, jobID)
	if errors.Is(err, cache.ErrProgressNotFound) {
		logger.Warn().Msg("Progress record missing, recreating")
		err = w.progress.Create(ctx, model.Progress{
			JobID:      jobID,
			Filename:   work.SourceFilename,
			StatusCode: status,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to recreate progress record")
		}
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read progress record")
		return
	}

	if err := w.progress.SetStatus(ctx, jobID, status); err != nil {
		logger.Error().Err(err).Msg("Failed to set progress status")
	}
}

func (w *KeywordWorker) resetRetry(ctx context.Context, jobID string, logger zerolog.Logger) {
	if err := w.progress.ResetRetry(ctx, jobID); err != nil {
		logger.Warn().Err(err).Msg("Failed to reset retry counter")
	}
}

// phaseFailed counts a failed attempt. The job fails for good once the
// progress retry counter reaches the limit; otherwise the message is retried.
func (w *KeywordWorker) phaseFailed(ctx context.Context, jobID string, cause error, logger zerolog.Logger) error {
	attempt, err := w.progress.IncrRetry(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("Failed to count phase attempt")
		if markErr := w.store.MarkRetryPending(ctx, jobID); markErr != nil {
			logger.Error().Err(markErr).Msg("Failed to flag job for retry")
		}
		return cause
	}

	logger.Warn().
		Err(cause).
		Int64("attempt", attempt).
		Int("maxAttempts", w.opts.MaxPhaseAttempts).
		Msg("Job phase failed")

	if attempt >= int64(w.opts.MaxPhaseAttempts) {
		logger.Error().Err(cause).Msg("Phase attempts exhausted, failing job")
		return w.finalize(ctx, jobID, model.JobFailed, "", w.opts.FailureGracePeriod, logger)
	}

	if err := w.store.MarkRetryPending(ctx, jobID); err != nil {
		logger.Error().Err(err).Msg("Failed to flag job for retry")
	}
	return &countedError{attempt: int(attempt), err: cause}
}

// finalize records a terminal state, lets pollers observe it for the grace
// period, then deletes the progress record
func (w *KeywordWorker) finalize(ctx context.Context, jobID string, state model.JobState, output string, grace time.Duration, logger zerolog.Logger) error {
	cctx, cancel := cleanupContext(ctx)
	defer cancel()

	ok, err := w.store.TransitionWork(cctx, jobID, []model.WorkStatus{model.WorkInProgress}, state.Work(), output)
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	if !ok {
		logger.Warn().Str("state", state.String()).Msg("Job left InProgress before finalize, discarding result")
		w.deleteProgress(cctx, jobID, logger)
		return nil
	}

	if status, ok := state.Progress(); ok {
		if err := w.progress.SetStatus(cctx, jobID, status); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish terminal progress status")
		}
	}

	logger.Info().
		Str("state", state.String()).
		Str("outputFilename", output).
		Msg("Job finished")

	_ = sleepCtx(ctx, grace)

	dctx, dcancel := cleanupContext(ctx)
	defer dcancel()
	w.deleteProgress(dctx, jobID, logger)
	return nil
}

func (w *KeywordWorker) abortKilled(ctx context.Context, jobID string, logger zerolog.Logger) error {
	logger.Info().Msg("Job killed, stopping")

	cctx, cancel := cleanupContext(ctx)
	defer cancel()

	if _, err := w.store.TransitionWork(cctx, jobID, []model.WorkStatus{model.WorkInProgress}, model.WorkKilled, ""); err != nil {
		logger.Error().Err(err).Msg("Failed to record killed status")
	}
	w.deleteProgress(cctx, jobID, logger)
	return nil
}

func (w *KeywordWorker) deleteProgress(ctx context.Context, jobID string, logger zerolog.Logger) {
	if err := w.progress.Delete(ctx, jobID); err != nil {
		logger.Error().Err(err).Msg("Failed to delete progress record")
	}
}

func (w *KeywordWorker) intN(n int) int {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return w.rng.IntN(n)
}

func (w *KeywordWorker) shuffle(n int, swap func(i, j int)) {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	w.rng.Shuffle(n, swap)
}

// cleanupContext outlives cancellation of ctx so terminal writes still land during shutdown
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

// sleepCtx waits for d or returns early when ctx is cancelled
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
