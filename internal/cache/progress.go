package cache

import (
	"context"
	"errors"
	"fmt"
	"keywords/internal/model"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrProgressNotFound is returned when a job has no live progress record
var ErrProgressNotFound = errors.New("progress not found")

// ProgressStore holds the live progress of running jobs and fans kill
// requests out to every worker process.
type ProgressStore interface {
	Create(ctx context.Context, p model.Progress) error
	Get(ctx context.Context, jobID string) (*model.Progress, error)
	List(ctx context.Context) ([]model.Progress, error)
	Delete(ctx context.Context, jobID string) error

	// SetStatus never overwrites Killed and never recreates a deleted record
	SetStatus(ctx context.Context, jobID string, status model.ProgressStatus) error
	SetFilter(ctx context.Context, jobID string, total, progress int64) error
	StartRender(ctx context.Context, jobID string, total int64) error

	// AdvanceFilter and AdvanceRender increment by one, never past the total
	AdvanceFilter(ctx context.Context, jobID string) error
	AdvanceRender(ctx context.Context, jobID string) error

	IncrRetry(ctx context.Context, jobID string) (int64, error)
	ResetRetry(ctx context.Context, jobID string) error

	// Kill marks an existing record Killed. ok is false when no record exists.
	Kill(ctx context.Context, jobID string) (ok bool, err error)
	PublishKill(ctx context.Context, jobID string) error
	SubscribeKills(ctx context.Context) (<-chan string, error)
}

const (
	fieldFilename       = "filename"
	fieldFilterTotal    = "filterTotal"
	fieldFilterProgress = "filterProgress"
	fieldRenderTotal    = "renderTotal"
	fieldRenderProgress = "renderProgress"
	fieldStatusCode     = "statusCode"
	fieldRetryCount     = "renderRetryCount"
)

// KEYS[1] progress hash; ARGV[1] new status; ARGV[2] killed status
var setStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HGET', KEYS[1], 'statusCode') == ARGV[2] then
	return -1
end
redis.call('HSET', KEYS[1], 'statusCode', ARGV[1])
return 1
`)

// KEYS[1] progress hash; ARGV[1] counter field; ARGV[2] total field
var advanceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local progress = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local total = tonumber(redis.call('HGET', KEYS[1], ARGV[2]) or '0')
if progress >= total then
	return progress
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
`)

// KEYS[1] progress hash; ARGV... field/value pairs
var updateExistingScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// KEYS[1] progress hash
var incrRetryScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'renderRetryCount', 1)
`)

// RedisProgressStore implements ProgressStore with one hash per job
type RedisProgressStore struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewProgressStore builds a progress store sharing the cache's client and key prefix
func NewProgressStore(cache *RedisCache, ttl time.Duration) *RedisProgressStore {
	return &RedisProgressStore{cache: cache, ttl: ttl}
}

func (s *RedisProgressStore) key(jobID string) string {
	return s.cache.formatKey("progress:" + jobID)
}

func (s *RedisProgressStore) indexKey() string {
	return s.cache.formatKey("progress:index")
}

func (s *RedisProgressStore) killChannel() string {
	return s.cache.formatKey("kill")
}

// Create implements ProgressStore
func (s *RedisProgressStore) Create(ctx context.Context, p model.Progress) error {
	key := s.key(p.JobID)

	start := time.Now()
	_, err := s.cache.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldFilename, p.Filename,
			fieldFilterTotal, p.FilterTotal,
			fieldFilterProgress, p.FilterProgress,
			fieldRenderTotal, p.RenderTotal,
			fieldRenderProgress, p.RenderProgress,
			fieldStatusCode, int(p.StatusCode),
			fieldRetryCount, p.RenderRetryCount,
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.SAdd(ctx, s.indexKey(), p.JobID)
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		log.Error().Err(err).Str("key", key).Dur("duration", duration).Msg("Error creating progress record")
		return err
	}

	log.Debug().Str("key", key).Dur("duration", duration).Msg("Created progress record")
	return nil
}

// Get implements ProgressStore
func (s *RedisProgressStore) Get(ctx context.Context, jobID string) (*model.Progress, error) {
	key := s.key(jobID)

	values, err := s.cache.client.HGetAll(ctx, key).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Error reading progress record")
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrProgressNotFound
	}

	return decodeProgress(jobID, values)
}

func decodeProgress(jobID string, values map[string]string) (*model.Progress, error) {
	p := &model.Progress{JobID: jobID, Filename: values[fieldFilename]}

	ints := []struct {
		field string
		dst   *int64
	}{
		{fieldFilterTotal, &p.FilterTotal},
		{fieldFilterProgress, &p.FilterProgress},
		{fieldRenderTotal, &p.RenderTotal},
		{fieldRenderProgress, &p.RenderProgress},
		{fieldRetryCount, &p.RenderRetryCount},
	}
	for _, f := range ints {
		raw, ok := values[f.field]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", f.field, raw, err)
		}
		*f.dst = v
	}

	if raw := values[fieldStatusCode]; raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", fieldStatusCode, raw, err)
		}
		p.StatusCode = model.ProgressStatus(code)
	}

	return p, nil
}

// List implements ProgressStore. Index entries whose hash expired are pruned.
func (s *RedisProgressStore) List(ctx context.Context) ([]model.Progress, error) {
	ids, err := s.cache.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		log.Error().Err(err).Msg("Error listing progress index")
		return nil, err
	}

	out := make([]model.Progress, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if errors.Is(err, ErrProgressNotFound) {
			s.cache.client.SRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}

	return out, nil
}

// Delete implements ProgressStore
func (s *RedisProgressStore) Delete(ctx context.Context, jobID string) error {
	key := s.key(jobID)

	_, err := s.cache.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, s.indexKey(), jobID)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Error deleting progress record")
		return err
	}

	log.Debug().Str("key", key).Msg("Deleted progress record")
	return nil
}

// SetStatus implements ProgressStore
func (s *RedisProgressStore) SetStatus(ctx context.Context, jobID string, status model.ProgressStatus) error {
	key := s.key(jobID)

	res, err := setStatusScript.Run(ctx, s.cache.client, []string{key},
		int(status), strconv.Itoa(int(model.ProgressKilled))).Int()
	if err != nil {
		log.Error().Err(err).Str("key", key).Int("status", int(status)).Msg("Error setting progress status")
		return err
	}

	switch res {
	case 0:
		log.Debug().Str("key", key).Msg("Progress record absent, status not written")
	case -1:
		log.Debug().Str("key", key).Int("status", int(status)).Msg("Progress record killed, status not written")
	default:
		if s.ttl > 0 {
			s.cache.client.Expire(ctx, key, s.ttl)
		}
	}

	return nil
}

func (s *RedisProgressStore) updateExisting(ctx context.Context, jobID string, args ...interface{}) error {
	key := s.key(jobID)

	if _, err := updateExistingScript.Run(ctx, s.cache.client, []string{key}, args...).Result(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Error updating progress record")
		return err
	}
	return nil
}

// SetFilter implements ProgressStore
func (s *RedisProgressStore) SetFilter(ctx context.Context, jobID string, total, progress int64) error {
	if progress > total {
		progress = total
	}
	return s.updateExisting(ctx, jobID, fieldFilterTotal, total, fieldFilterProgress, progress)
}

// StartRender implements ProgressStore
func (s *RedisProgressStore) StartRender(ctx context.Context, jobID string, total int64) error {
	return s.updateExisting(ctx, jobID, fieldRenderTotal, total, fieldRenderProgress, 0)
}

func (s *RedisProgressStore) advance(ctx context.Context, jobID, counter, total string) error {
	key := s.key(jobID)

	if _, err := advanceScript.Run(ctx, s.cache.client, []string{key}, counter, total).Result(); err != nil {
		log.Error().Err(err).Str("key", key).Str("field", counter).Msg("Error advancing progress")
		return err
	}
	return nil
}

// AdvanceFilter implements ProgressStore
func (s *RedisProgressStore) AdvanceFilter(ctx context.Context, jobID string) error {
	return s.advance(ctx, jobID, fieldFilterProgress, fieldFilterTotal)
}

// AdvanceRender implements ProgressStore
func (s *RedisProgressStore) AdvanceRender(ctx context.Context, jobID string) error {
	return s.advance(ctx, jobID, fieldRenderProgress, fieldRenderTotal)
}

// IncrRetry implements ProgressStore
func (s *RedisProgressStore) IncrRetry(ctx context.Context, jobID string) (int64, error) {
	key := s.key(jobID)

	n, err := incrRetryScript.Run(ctx, s.cache.client, []string{key}).Int64()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Error incrementing retry count")
		return 0, err
	}
	if n < 0 {
		return 0, ErrProgressNotFound
	}
	return n, nil
}

// ResetRetry implements ProgressStore
func (s *RedisProgressStore) ResetRetry(ctx context.Context, jobID string) error {
	return s.updateExisting(ctx, jobID, fieldRetryCount, 0)
}

// Kill implements ProgressStore
func (s *RedisProgressStore) Kill(ctx context.Context, jobID string) (bool, error) {
	key := s.key(jobID)

	n, err := updateExistingScript.Run(ctx, s.cache.client, []string{key},
		fieldStatusCode, int(model.ProgressKilled)).Int()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Error killing progress record")
		return false, err
	}
	return n == 1, nil
}

// PublishKill implements ProgressStore
func (s *RedisProgressStore) PublishKill(ctx context.Context, jobID string) error {
	if err := s.cache.client.Publish(ctx, s.killChannel(), jobID).Err(); err != nil {
		log.Error().Err(err).Str("jobId", jobID).Msg("Error publishing kill request")
		return err
	}

	log.Info().Str("jobId", jobID).Msg("Published kill request")
	return nil
}

// SubscribeKills implements ProgressStore. The returned channel is closed when ctx ends.
func (s *RedisProgressStore) SubscribeKills(ctx context.Context) (<-chan string, error) {
	sub := s.cache.client.Subscribe(ctx, s.killChannel())

	// Wait for the subscription to be confirmed so no kill published after
	// this call returns is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		log.Error().Err(err).Msg("Error subscribing to kill channel")
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
