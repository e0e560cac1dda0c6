package service

import (
	"context"

	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/rank"
	"github.com/songdex/songdex/internal/storage"
)

// SearchInput drives text search. Vector is optional and only used by hybrid
// queries to add a similarity component.
type SearchInput struct {
	Text   string
	Type   storage.SearchType
	Limit  int
	Vector []float32
}

// Search runs one text search: the backend produces raw per-component
// scores, the fuser turns them into a single ranking and the enricher
// resolves full records in one batch. A PartialFailure from enrichment is
// returned alongside the surviving results.
func (s *CatalogService) Search(ctx context.Context, in SearchInput) ([]model.SearchResult, error) {
	if in.Text == "" {
		return nil, appErr.Validationf("query text is required")
	}
	if !in.Type.Valid() {
		return nil, appErr.Validationf("unknown search type %q", in.Type)
	}
	if len(in.Vector) > 0 && len(in.Vector) != s.vectorDim {
		return nil, appErr.Validationf("vector dimension %d, want %d", len(in.Vector), s.vectorDim)
	}
	limit := s.clampLimit(in.Limit)
	if in.Type == storage.SearchAutocomplete && limit > autocompleteMaxLimit {
		limit = autocompleteMaxLimit
	}

	q := storage.SearchQuery{
		Text:      in.Text,
		Type:      in.Type,
		Limit:     limit,
		ModelName: s.modelName,
	}
	if in.Type == storage.SearchHybrid {
		q.Vector = in.Vector
	}
	raw, err := s.backend.SearchSongs(ctx, q)
	if err != nil {
		return nil, err
	}

	fused := s.fuser.Fuse(raw, searchComponents(in.Type, len(q.Vector) > 0))
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return s.enricher.Enrich(ctx, fused)
}

// SimilarInput asks for the K catalog songs nearest to Vector. A nil
// Threshold keeps every candidate.
type SimilarInput struct {
	Vector    []float32
	K         int
	ModelName string
	Threshold *float64
}

func (s *CatalogService) SearchSimilar(ctx context.Context, in SimilarInput) ([]model.SearchResult, error) {
	if len(in.Vector) != s.vectorDim {
		return nil, appErr.Validationf("vector dimension %d, want %d", len(in.Vector), s.vectorDim)
	}
	k := in.K
	if k <= 0 {
		k = 5
	}
	if k > s.maxPageSize {
		k = s.maxPageSize
	}
	modelName := in.ModelName
	if modelName == "" {
		modelName = s.modelName
	}
	results, err := s.engine.Search(ctx, storage.SimilarQuery{
		Vector:    in.Vector,
		K:         k,
		ModelName: modelName,
		Threshold: in.Threshold,
	})
	if err != nil {
		return nil, err
	}
	return s.enricher.Enrich(ctx, results)
}

// searchComponents maps a search type onto the score components it emits,
// which decides how fusion weights are renormalized.
func searchComponents(t storage.SearchType, hasVector bool) rank.Components {
	switch t {
	case storage.SearchFTS:
		return rank.Components{FTS: true}
	case storage.SearchTrigram, storage.SearchAutocomplete:
		return rank.Components{Trigram: true}
	case storage.SearchHybrid:
		return rank.Components{FTS: true, Trigram: true, Vector: hasVector}
	}
	return rank.Components{}
}
