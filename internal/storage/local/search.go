package local

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/rank"
	"github.com/songdex/songdex/internal/storage"
)

const (
	// Trigram scoring runs in Go, so the candidate set is capped by recency
	// instead of scanning an unbounded table.
	maxTrigramCandidates = 5000

	trigramCutoff      = 0.1
	autocompleteCutoff = 0.2
)

func (b *LocalBackend) SearchSimilar(ctx context.Context, q storage.SimilarQuery) ([]model.SearchResult, error) {
	if len(q.Vector) != b.dim {
		return nil, appErr.Validationf("query vector dimension %d, want %d", len(q.Vector), b.dim)
	}
	fetch := q.K * 4
	if fetch < 50 {
		fetch = 50
	}
	candidateIDs := b.index.Search(q.ModelName, q.Vector, fetch)
	if len(candidateIDs) == 0 {
		return []model.SearchResult{}, nil
	}
	embs, err := b.embeddingsBySongIDs(ctx, q.ModelName, candidateIDs)
	if err != nil {
		return nil, err
	}
	results := make([]model.SearchResult, 0, len(embs))
	for _, emb := range embs {
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
	return results, nil
}

func (b *LocalBackend) embeddingsBySongIDs(ctx context.Context, modelName string, songIDs []string) ([]model.Embedding, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(songIDs)), ",")
	args := make([]interface{}, 0, len(songIDs)+1)
	args = append(args, modelName)
	for _, id := range songIDs {
		args = append(args, id)
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT embedding_id, song_id, model_name, vector, created_at
		FROM embeddings
		WHERE model_name = ? AND song_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []model.Embedding
	for rows.Next() {
		emb, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *emb)
	}
	return result, rows.Err()
}

func (b *LocalBackend) SearchSongs(ctx context.Context, q storage.SearchQuery) ([]model.SearchResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []model.SearchResult{}, nil
	}
	switch q.Type {
	case storage.SearchFTS:
		return b.searchFTS(ctx, text, q.Limit)
	case storage.SearchTrigram:
		return b.searchTrigram(ctx, text, q.Limit, trigramCutoff)
	case storage.SearchAutocomplete:
		return b.searchTrigram(ctx, text, q.Limit, autocompleteCutoff)
	case storage.SearchHybrid:
		return b.searchHybrid(ctx, q)
	default:
		return nil, appErr.Validationf("unknown search type %q", q.Type)
	}
}

func (b *LocalBackend) searchFTS(ctx context.Context, text string, limit int) ([]model.SearchResult, error) {
	cleaned := sanitizeFTSQuery(text)
	if cleaned == "" {
		return []model.SearchResult{}, nil
	}
	// bm25() is smaller-is-better; negate so higher means more relevant.
	rows, err := b.db.QueryContext(ctx, `
		SELECT song_id, -bm25(songs_fts) AS score
		FROM songs_fts
		WHERE songs_fts MATCH ?
		ORDER BY score DESC, song_id
		LIMIT ?`, cleaned, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := make([]model.SearchResult, 0, limit)
	for rows.Next() {
		var r model.SearchResult
		if err := rows.Scan(&r.SongID, &r.FTSScore); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (b *LocalBackend) searchTrigram(ctx context.Context, text string, limit int, cutoff float64) ([]model.SearchResult, error) {
	candidates, err := b.textCandidates(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]model.SearchResult, 0, limit)
	for _, c := range candidates {
		score := rank.BestTrigramSimilarity(text, c.title, c.artist, c.title+" "+c.artist)
		if score <= cutoff {
			continue
		}
		results = append(results, model.SearchResult{
			SongID:       c.songID,
			Score:        score,
			TrigramScore: score,
		})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (b *LocalBackend) searchHybrid(ctx context.Context, q storage.SearchQuery) ([]model.SearchResult, error) {
	// Over-fetch each component; the fusion layer above trims to the final
	// limit after re-ranking.
	fetch := q.Limit * 2
	ftsResults, err := b.searchFTS(ctx, q.Text, fetch)
	if err != nil {
		return nil, err
	}
	triResults, err := b.searchTrigram(ctx, q.Text, fetch, trigramCutoff)
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

type textCandidate struct {
	songID string
	title  string
	artist string
}

func (b *LocalBackend) textCandidates(ctx context.Context) ([]textCandidate, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT song_id, title, artist FROM songs
		ORDER BY created_at DESC, song_id
		LIMIT ?`, maxTrigramCandidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []textCandidate
	for rows.Next() {
		var c textCandidate
		if err := rows.Scan(&c.songID, &c.title, &c.artist); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func sortResults(results []model.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SongID < results[j].SongID
	})
}

func sanitizeFTSQuery(input string) string {
	var sb strings.Builder
	for _, r := range input {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
