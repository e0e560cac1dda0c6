package job

import (
	"context"

	"github.com/songdex/songdex/internal/storage"
)

// StatsWarmJob recomputes library stats and genres through the cached
// backend so dashboard reads stay hot between cache expiries.
type StatsWarmJob struct {
	backend storage.Backend
}

func NewStatsWarmJob(backend storage.Backend) *StatsWarmJob {
	return &StatsWarmJob{backend: backend}
}

func (j *StatsWarmJob) Name() string {
	return "stats_warm"
}

func (j *StatsWarmJob) Run(ctx context.Context) error {
	if j.backend == nil {
		return nil
	}
	if _, err := j.backend.Stats(ctx); err != nil {
		return err
	}
	_, err := j.backend.Genres(ctx)
	return err
}
