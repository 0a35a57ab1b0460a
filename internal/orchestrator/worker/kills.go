package worker

import (
	"context"
	"keywords/internal/cache"
	"keywords/internal/orchestrator"
	"time"

	"github.com/rs/zerolog/log"
)

// WatchKills cancels running jobs named on the kill channel until ctx ends.
// A lost subscription is re-established after retryDelay; jobs killed while
// disconnected are still caught by the per-row status check.
func WatchKills(ctx context.Context, progress cache.ProgressStore, registry orchestrator.JobRegistry, retryDelay time.Duration) {
	for {
		kills, err := progress.SubscribeKills(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to subscribe to kill requests")
		} else {
			log.Info().Msg("Listening for kill requests")
			for jobID := range kills {
				if registry.Cancel(jobID, ErrJobKilled) {
					log.Info().Str("jobId", jobID).Msg("Kill request cancelled running job")
				} else {
					log.Debug().Str("jobId", jobID).Msg("Kill request for job not running here")
				}
			}
		}

		if sleepCtx(ctx, retryDelay) != nil {
			return
		}
		log.Warn().Msg("Kill subscription ended, resubscribing")
	}
}
