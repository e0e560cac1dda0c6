package job

import (
	"context"

	"github.com/songdex/songdex/internal/vectorsearch"
)

// SnapshotRefreshJob keeps the exact-fallback candidate set warm so a
// breaker trip never finds an empty snapshot.
type SnapshotRefreshJob struct {
	engine    *vectorsearch.Engine
	modelName string
}

func NewSnapshotRefreshJob(engine *vectorsearch.Engine, modelName string) *SnapshotRefreshJob {
	return &SnapshotRefreshJob{engine: engine, modelName: modelName}
}

func (j *SnapshotRefreshJob) Name() string {
	return "snapshot_refresh"
}

func (j *SnapshotRefreshJob) Run(ctx context.Context) error {
	if j.engine == nil {
		return nil
	}
	return j.engine.RefreshSnapshot(ctx, j.modelName)
}
