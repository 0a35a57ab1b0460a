package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"keywords/internal/cache"
	"keywords/internal/config"
	"keywords/internal/database"
	"keywords/internal/model"
	"keywords/internal/spreadsheet"
	"keywords/internal/storage"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrInvalidUpload is returned for an unsupported or unreadable spreadsheet
	ErrInvalidUpload = errors.New("invalid upload")

	// ErrJobFinished is returned when killing a job that already reached a terminal state
	ErrJobFinished = errors.New("job already finished")

	// ErrTrademarkUnavailable is returned when trademark screening is requested
	// but no trademark service is configured
	ErrTrademarkUnavailable = errors.New("trademark screening is not available")
)

// Publisher is the part of the broker client the producer needs
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
}

// Upload is one submitted spreadsheet
type Upload struct {
	Filename string
	Data     []byte
}

// JobController handles job submission, kills and queries
type JobController interface {
	// Submit stores the upload, records the job and enqueues it
	Submit(ctx context.Context, upload Upload, params model.ExtractParams) (*model.Work, error)

	// Kill stops a waiting or running job
	Kill(ctx context.Context, id string) error

	GetProgress(ctx context.Context, id string) (*model.Progress, error)
	ListProgress(ctx context.Context) ([]model.Progress, error)

	GetWork(ctx context.Context, id string) (*model.Work, error)
	ListWorks(ctx context.Context, limit, offset int) ([]*model.Work, error)

	// OpenResult opens a rendered result file by name
	OpenResult(ctx context.Context, name string) (io.ReadCloser, error)
}

// jobController implements JobController
type jobController struct {
	db           database.WorkDatabase
	progress     cache.ProgressStore
	files        storage.FileStore
	publisher    Publisher
	rabbitConfig config.RabbitMQConfig
	trademarks   bool

	now  func() time.Time
	intN func(n int) int
}

// NewJobController creates a new job controller
func NewJobController(db database.WorkDatabase, progress cache.ProgressStore, files storage.FileStore,
	publisher Publisher, rabbitConfig config.RabbitMQConfig, trademarks bool) JobController {
	return &jobController{
		db:           db,
		progress:     progress,
		files:        files,
		publisher:    publisher,
		rabbitConfig: rabbitConfig,
		trademarks:   trademarks,
		now:          time.Now,
		intN:         rand.IntN,
	}
}

// dedupToken prefixes stored uploads so equal file names never collide
func dedupToken(t time.Time, suffix int) string {
	return fmt.Sprintf("%s__%d__", t.Format("2006_01_02__15_04_05"), suffix)
}

// uploadName strips any client supplied directory from the file name
func uploadName(name string) string {
	return filepath.Base(strings.ReplaceAll(name, `\`, "/"))
}

// Submit implements JobController
func (c *jobController) Submit(ctx context.Context, upload Upload, params model.ExtractParams) (*model.Work, error) {
	name := uploadName(upload.Filename)
	if err := storage.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if err := spreadsheet.Validate(name, upload.Data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if params.UseTrademark && !c.trademarks {
		return nil, ErrTrademarkUnavailable
	}

	now := c.now()
	work := &model.Work{
		ID:             primitive.NewObjectID(),
		SourceFilename: name,
		DedupToken:     dedupToken(now, c.intN(1000)),
		Status:         model.WorkWaiting,
		Params:         params.WithDefaults(),
		CreatedAt:      now,
	}
	jobID := work.ID.Hex()

	if err := c.files.Put(ctx, storage.AreaInput, work.StoredName(), bytes.NewReader(upload.Data)); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if err := c.db.CreateWork(ctx, work); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	status, _ := model.JobWaiting.Progress()
	if err := c.progress.Create(ctx, model.Progress{JobID: jobID, Filename: name, StatusCode: status}); err != nil {
		c.fail(ctx, jobID)
		return nil, fmt.Errorf("failed to create progress: %w", err)
	}

	if err := c.enqueue(ctx, work); err != nil {
		c.fail(ctx, jobID)
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Info().
		Str("jobId", jobID).
		Str("filename", name).
		Int("sellerCountMin", work.Params.SellerCountMin).
		Int("sellerCountMax", work.Params.SellerCountMax).
		Int("minVolume", work.Params.MinVolume).
		Bool("useTrademark", work.Params.UseTrademark).
		Msg("Job created and enqueued")

	return work, nil
}

// fail closes a job that never reached the queue
func (c *jobController) fail(ctx context.Context, jobID string) {
	if _, err := c.db.TransitionWork(ctx, jobID, []model.WorkStatus{model.WorkWaiting}, model.WorkFailed, ""); err != nil {
		log.Error().Err(err).Str("jobId", jobID).Msg("Failed to mark unqueued job failed")
	}
	if err := c.progress.Delete(ctx, jobID); err != nil {
		log.Warn().Err(err).Str("jobId", jobID).Msg("Failed to delete progress of unqueued job")
	}
}

// enqueue publishes the job message; the full record stays in the database
func (c *jobController) enqueue(ctx context.Context, work *model.Work) error {
	message := model.JobMessage{
		WorkID:         work.ID.Hex(),
		SellerCountMin: work.Params.SellerCountMin,
		SellerCountMax: work.Params.SellerCountMax,
		MinVolume:      work.Params.MinVolume,
		UseTrademark:   work.Params.UseTrademark,
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := amqp.Table{
		"job_id": message.WorkID,
	}

	return c.publisher.Publish(ctx, c.rabbitConfig.ExchangeName, c.rabbitConfig.RoutingKey, body, headers)
}

// Kill implements JobController
func (c *jobController) Kill(ctx context.Context, id string) error {
	ok, err := c.db.TransitionWork(ctx, id, []model.WorkStatus{model.WorkWaiting, model.WorkInProgress}, model.WorkKilled, "")
	if err != nil {
		return err
	}
	if !ok {
		if _, err := c.db.GetWork(ctx, id); err != nil {
			return err
		}
		return ErrJobFinished
	}

	found, err := c.progress.Kill(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("jobId", id).Msg("Failed to mark progress killed")
	} else if !found {
		log.Debug().Str("jobId", id).Msg("Killed job has no progress record")
	}

	if err := c.progress.PublishKill(ctx, id); err != nil {
		log.Warn().Err(err).Str("jobId", id).Msg("Failed to publish kill request")
	}

	log.Info().Str("jobId", id).Msg("Job killed")
	return nil
}

// GetProgress implements JobController
func (c *jobController) GetProgress(ctx context.Context, id string) (*model.Progress, error) {
	return c.progress.Get(ctx, id)
}

// ListProgress implements JobController
func (c *jobController) ListProgress(ctx context.Context) ([]model.Progress, error) {
	return c.progress.List(ctx)
}

// GetWork implements JobController
func (c *jobController) GetWork(ctx context.Context, id string) (*model.Work, error) {
	return c.db.GetWork(ctx, id)
}

// ListWorks implements JobController
func (c *jobController) ListWorks(ctx context.Context, limit, offset int) ([]*model.Work, error) {
	return c.db.ListWorks(ctx, limit, offset)
}

// OpenResult implements JobController
func (c *jobController) OpenResult(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	return c.files.Open(ctx, storage.AreaResult, name)
}
