// Package enrich resolves full song records for a ranked id list in a single
// backend round trip, preserving the rank order produced upstream.
package enrich

import (
	"context"

	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

// BatchGetter is the one backend capability the enricher needs.
type BatchGetter interface {
	GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error)
}

type Enricher struct {
	backend BatchGetter
}

func New(backend BatchGetter) *Enricher {
	return &Enricher{backend: backend}
}

// Enrich fills Song on each result with exactly one GetSongs call. Results
// whose song vanished between ranking and enrichment are dropped with the
// remaining order intact, reported through a PartialFailure alongside the
// surviving results. Any other backend error is fatal.
func (e *Enricher) Enrich(ctx context.Context, results []model.SearchResult) ([]model.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.SongID)
	}
	songs, err := e.backend.GetSongs(ctx, ids)
	if err != nil {
		return nil, err
	}

	enriched := make([]model.SearchResult, 0, len(results))
	var failed []appErr.FailedID
	for _, r := range results {
		song, ok := songs[r.SongID]
		if !ok {
			failed = append(failed, appErr.FailedID{ID: r.SongID, Reason: appErr.ErrNotFound})
			continue
		}
		r.Song = song
		enriched = append(enriched, r)
	}
	if len(failed) > 0 {
		return enriched, &appErr.PartialFailure{Failed: failed}
	}
	return enriched, nil
}
