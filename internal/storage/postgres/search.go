package postgres

import (
	"context"
	"sort"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/storage"
)

const (
	trigramCutoff      = 0.1
	autocompleteCutoff = 0.2
)

func (b *PostgresBackend) SearchSimilar(ctx context.Context, q storage.SimilarQuery) ([]model.SearchResult, error) {
	if len(q.Vector) != b.dim {
		return nil, appErr.Validationf("query vector dimension %d, want %d", len(q.Vector), b.dim)
	}
	// <=> is cosine distance, served by the hnsw index. song_id breaks
	// distance ties so pages stay deterministic.
	const query = `
		SELECT song_id, 1 - (embedding <=> $1) AS score
		FROM embeddings
		WHERE model_name = $2
		ORDER BY embedding <=> $1, song_id
		LIMIT $3
	`
	rows, err := b.db.QueryContext(ctx, query, pgvector.NewVector(q.Vector), q.ModelName, q.K)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		if err := rows.Scan(&r.SongID, &r.VectorScore); err != nil {
			return nil, err
		}
		if q.Threshold != nil && r.VectorScore < *q.Threshold {
			continue
		}
		r.Score = r.VectorScore
		results = append(results, r)
	}
	return results, rows.Err()
}

func (b *PostgresBackend) SearchSongs(ctx context.Context, q storage.SearchQuery) ([]model.SearchResult, error) {
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
		q.Text = text
		return b.searchHybrid(ctx, q)
	default:
		return nil, appErr.Validationf("unknown search type %q", q.Type)
	}
}

func (b *PostgresBackend) searchFTS(ctx context.Context, text string, limit int) ([]model.SearchResult, error) {
	const query = `
		SELECT song_id, ts_rank(search_vector, plainto_tsquery('english', $1)) AS score
		FROM songs
		WHERE search_vector @@ plainto_tsquery('english', $1)
		ORDER BY score DESC, song_id
		LIMIT $2
	`
	rows, err := b.db.QueryContext(ctx, query, text, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		if err := rows.Scan(&r.SongID, &r.FTSScore); err != nil {
			return nil, err
		}
		r.Score = r.FTSScore
		results = append(results, r)
	}
	return results, rows.Err()
}

func (b *PostgresBackend) searchTrigram(ctx context.Context, text string, limit int, cutoff float64) ([]model.SearchResult, error) {
	const query = `
		SELECT song_id,
		       GREATEST(similarity(title, $1),
		                similarity(artist, $1),
		                similarity(title || ' ' || artist, $1)) AS score
		FROM songs
		WHERE GREATEST(similarity(title, $1),
		               similarity(artist, $1),
		               similarity(title || ' ' || artist, $1)) > $2
		ORDER BY score DESC, song_id
		LIMIT $3
	`
	rows, err := b.db.QueryContext(ctx, query, text, cutoff, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		if err := rows.Scan(&r.SongID, &r.TrigramScore); err != nil {
			return nil, err
		}
		r.Score = r.TrigramScore
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchHybrid collects the FTS and trigram components in one statement and
// optionally blends in a vector pass. Scores come back raw; weighting and
// normalization happen in the rank package.
func (b *PostgresBackend) searchHybrid(ctx context.Context, q storage.SearchQuery) ([]model.SearchResult, error) {
	fetch := q.Limit * 2
	if fetch < 20 {
		fetch = 20
	}
	const query = `
		WITH fts AS (
			SELECT song_id, ts_rank(search_vector, plainto_tsquery('english', $1)) AS score
			FROM songs
			WHERE search_vector @@ plainto_tsquery('english', $1)
			ORDER BY score DESC
			LIMIT $3
		), trgm AS (
			SELECT song_id,
			       GREATEST(similarity(title, $1),
			                similarity(artist, $1),
			                similarity(title || ' ' || artist, $1)) AS score
			FROM songs
			WHERE GREATEST(similarity(title, $1),
			               similarity(artist, $1),
			               similarity(title || ' ' || artist, $1)) > $2
			ORDER BY score DESC
			LIMIT $3
		)
		SELECT COALESCE(fts.song_id, trgm.song_id) AS song_id,
		       COALESCE(fts.score, 0) AS fts_score,
		       COALESCE(trgm.score, 0) AS trgm_score
		FROM fts
		FULL OUTER JOIN trgm ON fts.song_id = trgm.song_id
	`
	rows, err := b.db.QueryContext(ctx, query, q.Text, trigramCutoff, fetch)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	merged := map[string]*model.SearchResult{}
	for rows.Next() {
		var r model.SearchResult
		if err := rows.Scan(&r.SongID, &r.FTSScore, &r.TrigramScore); err != nil {
			return nil, err
		}
		merged[r.SongID] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(q.Vector) > 0 {
		similar, err := b.SearchSimilar(ctx, storage.SimilarQuery{
			Vector:    q.Vector,
			K:         fetch,
			ModelName: q.ModelName,
		})
		if err != nil {
			return nil, err
		}
		for _, s := range similar {
			if r, ok := merged[s.SongID]; ok {
				r.VectorScore = s.VectorScore
			} else {
				merged[s.SongID] = &model.SearchResult{SongID: s.SongID, VectorScore: s.VectorScore}
			}
		}
	}

	results := make([]model.SearchResult, 0, len(merged))
	for _, r := range merged {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].SongID < results[j].SongID
	})
	return results, nil
}
