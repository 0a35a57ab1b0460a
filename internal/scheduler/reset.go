package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const resetTimeout = 10 * time.Second

// RateCounterResetter is the part of the database the daily reset needs
type RateCounterResetter interface {
	ResetRateCounter(ctx context.Context) (bool, error)
}

// Scheduler runs the daily rate counter reset
type Scheduler struct {
	cron    *cron.Cron
	counter RateCounterResetter
}

// New registers the reset on a standard five field cron schedule
func New(counter RateCounterResetter, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger{})),
		counter: counter,
	}

	if _, err := s.cron.AddFunc(schedule, s.ResetRateCounter); err != nil {
		return nil, fmt.Errorf("invalid reset schedule %q: %w", schedule, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		log.Info().Time("next", entry.Next).Msg("Rate counter reset scheduled")
	}
}

// Stop waits for a running reset to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// ResetRateCounter zeroes the shared lookup counter
func (s *Scheduler) ResetRateCounter() {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	reset, err := s.counter.ResetRateCounter(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reset rate counter")
		return
	}
	if !reset {
		log.Warn().Msg("Rate counter does not exist yet, nothing to reset")
		return
	}

	log.Info().Msg("Rate counter reset")
}

// cronLogger sends cron's own messages to zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
