package astra

import (
	"context"
	"sort"
	"strings"

	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/rank"
	"github.com/songdex/songdex/internal/storage"
)

func (b *AstraBackend) SearchSimilar(ctx context.Context, q storage.SimilarQuery) ([]model.SearchResult, error) {
	if len(q.Vector) != b.dim {
		return nil, appErr.Validationf("query vector dimension %d, want %d", len(q.Vector), b.dim)
	}
	// Server-side ANN sort, exact cosine re-score here so every backend
	// reports the same score scale.
	docs, err := b.client.find(ctx, embedsCollection, findOptions{
		Filter: map[string]interface{}{"model_name": q.ModelName},
		Sort:   map[string]interface{}{"$vector": q.Vector},
		Limit:  q.K,
	})
	if err != nil {
		return nil, err
	}
	results := make([]model.SearchResult, 0, len(docs))
	for _, raw := range docs {
		var doc embedDoc
		if err := unmarshalDoc(raw, &doc); err != nil {
			return nil, err
		}
		score := rank.Cosine(q.Vector, doc.Vector)
		if q.Threshold != nil && score < *q.Threshold {
			continue
		}
		results = append(results, model.SearchResult{
			SongID:      doc.SongID,
			Score:       score,
			VectorScore: score,
		})
	}
	sortResults(results)
	return results, nil
}

func (b *AstraBackend) SearchSongs(ctx context.Context, q storage.SearchQuery) ([]model.SearchResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []model.SearchResult{}, nil
	}
	switch q.Type {
	case storage.SearchFTS:
		return b.searchText(ctx, text, q.Limit, scoreTokens, 0)
	case storage.SearchTrigram:
		return b.searchText(ctx, text, q.Limit, scoreTrigram, 0.1)
	case storage.SearchAutocomplete:
		return b.searchText(ctx, text, q.Limit, scoreTrigram, 0.2)
	case storage.SearchHybrid:
		q.Text = text
		return b.searchHybrid(ctx, q)
	default:
		return nil, appErr.Validationf("unknown search type %q", q.Type)
	}
}

type textScorer func(query, title, artist string) float64

// searchText scores a bounded set of recent songs in-process. The Data API
// has no text index, so this mirrors the local backend's capped trigram
// pass rather than scanning the whole collection.
func (b *AstraBackend) searchText(ctx context.Context, text string, limit int, score textScorer, cutoff float64) ([]model.SearchResult, error) {
	docs, err := b.client.find(ctx, songsCollection, findOptions{
		Projection: map[string]interface{}{"_id": true, "title": true, "artist": true},
		Sort:       map[string]interface{}{"created_at": -1},
		Limit:      scanLimit,
	})
	if err != nil {
		return nil, err
	}
	results := make([]model.SearchResult, 0, limit)
	for _, raw := range docs {
		var doc songDoc
		if err := unmarshalDoc(raw, &doc); err != nil {
			return nil, err
		}
		s := score(text, doc.Title, doc.Artist)
		if s <= cutoff {
			continue
		}
		r := model.SearchResult{SongID: doc.ID, Score: s}
		if cutoff > 0 {
			r.TrigramScore = s
		} else {
			r.FTSScore = s
		}
		results = append(results, r)
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func scoreTrigram(query, title, artist string) float64 {
	return rank.BestTrigramSimilarity(query, title, artist, title+" "+artist)
}

// scoreTokens approximates weighted full-text ranking: each query token
// found in the title counts full weight, artist hits count less, the score
// is the weighted fraction of matched tokens.
func scoreTokens(query, title, artist string) float64 {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return 0
	}
	titleLower := strings.ToLower(title)
	artistLower := strings.ToLower(artist)
	var score float64
	for _, tok := range tokens {
		switch {
		case strings.Contains(titleLower, tok):
			score += 1.0
		case strings.Contains(artistLower, tok):
			score += 0.4
		}
	}
	return score / float64(len(tokens))
}

func (b *AstraBackend) searchHybrid(ctx context.Context, q storage.SearchQuery) ([]model.SearchResult, error) {
	fetch := q.Limit * 2
	if fetch < 20 {
		fetch = 20
	}
	ftsResults, err := b.searchText(ctx, q.Text, fetch, scoreTokens, 0)
	if err != nil {
		return nil, err
	}
	triResults, err := b.searchText(ctx, q.Text, fetch, scoreTrigram, 0.1)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]*model.SearchResult)
	for _, r := range ftsResults {
		item := r
		merged[r.SongID] = &item
	}
	for _, r := range triResults {
		if item, ok := merged[r.SongID]; ok {
			item.TrigramScore = r.TrigramScore
			continue
		}
		item := r
		merged[r.SongID] = &item
	}
	if len(q.Vector) > 0 {
		vecResults, err := b.SearchSimilar(ctx, storage.SimilarQuery{
			Vector:    q.Vector,
			K:         fetch,
			ModelName: q.ModelName,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range vecResults {
			if item, ok := merged[r.SongID]; ok {
				item.VectorScore = r.VectorScore
				continue
			}
			merged[r.SongID] = &model.SearchResult{SongID: r.SongID, VectorScore: r.VectorScore}
		}
	}
	results := make([]model.SearchResult, 0, len(merged))
	for _, item := range merged {
		results = append(results, *item)
	}
	sortResults(results)
	return results, nil
}

func sortResults(results []model.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SongID < results[j].SongID
	})
}
