// Package vectorsearch fronts similarity queries. The normal path is the
// backend's ANN index; when the backend is unavailable an opt-in fallback
// scans an in-memory snapshot of recently indexed embeddings. The snapshot
// is bounded and refreshed on a schedule, so degraded mode never turns into
// a full-table scan.
package vectorsearch

import (
	"context"
	"sort"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/songdex/songdex/internal/config"
	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/rank"
	"github.com/songdex/songdex/internal/storage"
)

type Engine struct {
	backend storage.Backend
	cfg     config.ExactFallbackConfig

	mu       sync.RWMutex
	snapshot map[string][]model.Embedding
}

func NewEngine(backend storage.Backend, cfg config.ExactFallbackConfig) *Engine {
	return &Engine{
		backend:  backend,
		cfg:      cfg,
		snapshot: map[string][]model.Embedding{},
	}
}

// Search runs the ANN path and, only when that path reports unavailability
// and the fallback is enabled with a warm snapshot, degrades to a bounded
// exact scan. Every other error passes through unchanged.
func (e *Engine) Search(ctx context.Context, q storage.SimilarQuery) ([]model.SearchResult, error) {
	results, err := e.backend.SearchSimilar(ctx, q)
	if err == nil {
		return results, nil
	}
	if !appErr.IsUnavailable(err) || !e.cfg.Enabled {
		return nil, err
	}
	fallback, ok := e.exactSearch(q)
	if !ok {
		return nil, err
	}
	logutil.GetLogger(ctx).Warn("similarity search degraded to snapshot scan",
		zap.String("model", q.ModelName), zap.Int("k", q.K), zap.Error(err))
	return fallback, nil
}

func (e *Engine) exactSearch(q storage.SimilarQuery) ([]model.SearchResult, bool) {
	e.mu.RLock()
	candidates := e.snapshot[q.ModelName]
	e.mu.RUnlock()
	if len(candidates) == 0 {
		return nil, false
	}
	results := make([]model.SearchResult, 0, q.K)
	for _, emb := range candidates {
		score := rank.Cosine(q.Vector, emb.Vector)
		if q.Threshold != nil && score < *q.Threshold {
			continue
		}
		results = append(results, model.SearchResult{
			SongID:      emb.SongID,
			Score:       score,
			VectorScore: score,
		})
	}
	sortResults(results)
	if len(results) > q.K {
		results = results[:q.K]
	}
	return results, true
}

// RefreshSnapshot reloads the fallback candidate set for one model. A failed
// refresh keeps the previous snapshot.
func (e *Engine) RefreshSnapshot(ctx context.Context, modelName string) error {
	if !e.cfg.Enabled {
		return nil
	}
	embs, err := e.backend.ListRecentEmbeddings(ctx, modelName, e.cfg.MaxCandidates)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.snapshot[modelName] = embs
	e.mu.Unlock()
	logutil.GetLogger(ctx).Debug("fallback snapshot refreshed",
		zap.String("model", modelName), zap.Int("size", len(embs)))
	return nil
}

// SnapshotSize reports the number of candidates held for a model, for
// observability and tests.
func (e *Engine) SnapshotSize(modelName string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.snapshot[modelName])
}

func sortResults(results []model.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SongID < results[j].SongID
	})
}
