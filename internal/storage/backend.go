// Package storage defines the backend-agnostic contract for persisting songs
// and their embeddings. Concrete adapters (local SQLite, Postgres+pgvector,
// Astra Data API) register themselves with the factory and are selected by
// configuration; callers only ever see the Backend interface, usually wrapped
// by the resilience and cache decorators.
package storage

import (
	"context"

	"github.com/songdex/songdex/internal/cursor"
	"github.com/songdex/songdex/internal/model"
)

type SearchType string

const (
	SearchFTS          SearchType = "fts"
	SearchTrigram      SearchType = "trigram"
	SearchAutocomplete SearchType = "autocomplete"
	SearchHybrid       SearchType = "hybrid"
)

func (t SearchType) Valid() bool {
	switch t {
	case SearchFTS, SearchTrigram, SearchAutocomplete, SearchHybrid:
		return true
	}
	return false
}

// ListFilters narrows ListSongs to exact artist/genre matches and a
// case-insensitive title fragment.
type ListFilters struct {
	Artist    string `json:"artist"`
	Genre     string `json:"genre"`
	TitleLike string `json:"title"`
}

func (f ListFilters) Empty() bool {
	return f.Artist == "" && f.Genre == "" && f.TitleLike == ""
}

// SimilarQuery asks for the K nearest songs to Vector among embeddings of
// ModelName. A nil Threshold means no score filtering.
type SimilarQuery struct {
	Vector    []float32
	K         int
	ModelName string
	Threshold *float64
}

// SearchQuery drives SearchSongs. Vector and ModelName are optional and only
// consulted for hybrid searches.
type SearchQuery struct {
	Text      string
	Type      SearchType
	Limit     int
	Vector    []float32
	ModelName string
}

// Backend is the storage facade contract. Adapters return raw component
// scores from SearchSongs; fusion, enrichment and cursor encoding happen
// above them so every variant ranks identically.
//
// Implementations map their native failure modes onto the shared taxonomy:
// ErrNotFound for absent entities, ErrValidation for caller bugs and
// ErrBackendUnavailable for anything worth retrying.
type Backend interface {
	PutSong(ctx context.Context, song *model.Song) (string, error)
	GetSong(ctx context.Context, songID string) (*model.Song, error)
	// GetSongs resolves a batch of ids in a single round trip. Missing ids
	// are simply absent from the result map.
	GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error)
	DeleteSong(ctx context.Context, songID string) (bool, error)

	PutEmbedding(ctx context.Context, songID string, vec []float32, modelName string) (string, error)
	GetEmbedding(ctx context.Context, songID string, modelName string) (*model.Embedding, error)
	// ListRecentEmbeddings feeds the bounded exact-fallback snapshot: the
	// most recently indexed embeddings for one model, newest first.
	ListRecentEmbeddings(ctx context.Context, modelName string, limit int) ([]model.Embedding, error)

	ListSongs(ctx context.Context, cur cursor.Cursor, limit int, filters ListFilters) ([]model.Song, *cursor.Cursor, error)
	SearchSimilar(ctx context.Context, q SimilarQuery) ([]model.SearchResult, error)
	SearchSongs(ctx context.Context, q SearchQuery) ([]model.SearchResult, error)
	FindSongID(ctx context.Context, name string, path string) (string, error)

	Stats(ctx context.Context) (*model.LibraryStats, error)
	Genres(ctx context.Context) ([]string, error)

	Close() error
}
