package storage

import (
	"context"

	"github.com/songdex/songdex/internal/cursor"
	"github.com/songdex/songdex/internal/model"
	"github.com/songdex/songdex/internal/resilience"
)

// WrapResilience decorates a backend so every call runs under the shared
// timeout/retry/circuit-breaker policy. Mirrors the decorator shape used for
// the cache wrapper: same interface in, same interface out.
func WrapResilience(next Backend, caller *resilience.Caller) Backend {
	if next == nil || caller == nil {
		return next
	}
	return &resilientBackend{next: next, caller: caller}
}

type resilientBackend struct {
	next   Backend
	caller *resilience.Caller
}

func (b *resilientBackend) PutSong(ctx context.Context, song *model.Song) (string, error) {
	var id string
	err := b.caller.Call(ctx, "put_song", func(ctx context.Context) error {
		var err error
		id, err = b.next.PutSong(ctx, song)
		return err
	})
	return id, err
}

func (b *resilientBackend) GetSong(ctx context.Context, songID string) (*model.Song, error) {
	var song *model.Song
	err := b.caller.Call(ctx, "get_song", func(ctx context.Context) error {
		var err error
		song, err = b.next.GetSong(ctx, songID)
		return err
	})
	return song, err
}

func (b *resilientBackend) GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error) {
	var songs map[string]*model.Song
	err := b.caller.Call(ctx, "get_songs", func(ctx context.Context) error {
		var err error
		songs, err = b.next.GetSongs(ctx, songIDs)
		return err
	})
	return songs, err
}

func (b *resilientBackend) DeleteSong(ctx context.Context, songID string) (bool, error) {
	var deleted bool
	err := b.caller.Call(ctx, "delete_song", func(ctx context.Context) error {
		var err error
		deleted, err = b.next.DeleteSong(ctx, songID)
		return err
	})
	return deleted, err
}

func (b *resilientBackend) PutEmbedding(ctx context.Context, songID string, vec []float32, modelName string) (string, error) {
	var id string
	err := b.caller.Call(ctx, "put_embedding", func(ctx context.Context) error {
		var err error
		id, err = b.next.PutEmbedding(ctx, songID, vec, modelName)
		return err
	})
	return id, err
}

func (b *resilientBackend) GetEmbedding(ctx context.Context, songID string, modelName string) (*model.Embedding, error) {
	var emb *model.Embedding
	err := b.caller.Call(ctx, "get_embedding", func(ctx context.Context) error {
		var err error
		emb, err = b.next.GetEmbedding(ctx, songID, modelName)
		return err
	})
	return emb, err
}

func (b *resilientBackend) ListRecentEmbeddings(ctx context.Context, modelName string, limit int) ([]model.Embedding, error) {
	var embs []model.Embedding
	err := b.caller.Call(ctx, "list_recent_embeddings", func(ctx context.Context) error {
		var err error
		embs, err = b.next.ListRecentEmbeddings(ctx, modelName, limit)
		return err
	})
	return embs, err
}

func (b *resilientBackend) ListSongs(ctx context.Context, cur cursor.Cursor, limit int, filters ListFilters) ([]model.Song, *cursor.Cursor, error) {
	var songs []model.Song
	var next *cursor.Cursor
	err := b.caller.Call(ctx, "list_songs", func(ctx context.Context) error {
		var err error
		songs, next, err = b.next.ListSongs(ctx, cur, limit, filters)
		return err
	})
	return songs, next, err
}

func (b *resilientBackend) SearchSimilar(ctx context.Context, q SimilarQuery) ([]model.SearchResult, error) {
	var results []model.SearchResult
	err := b.caller.Call(ctx, "search_similar", func(ctx context.Context) error {
		var err error
		results, err = b.next.SearchSimilar(ctx, q)
		return err
	})
	return results, err
}

func (b *resilientBackend) SearchSongs(ctx context.Context, q SearchQuery) ([]model.SearchResult, error) {
	var results []model.SearchResult
	err := b.caller.Call(ctx, "search_songs", func(ctx context.Context) error {
		var err error
		results, err = b.next.SearchSongs(ctx, q)
		return err
	})
	return results, err
}

func (b *resilientBackend) FindSongID(ctx context.Context, name string, path string) (string, error) {
	var id string
	err := b.caller.Call(ctx, "find_song_id", func(ctx context.Context) error {
		var err error
		id, err = b.next.FindSongID(ctx, name, path)
		return err
	})
	return id, err
}

func (b *resilientBackend) Stats(ctx context.Context) (*model.LibraryStats, error) {
	var stats *model.LibraryStats
	err := b.caller.Call(ctx, "stats", func(ctx context.Context) error {
		var err error
		stats, err = b.next.Stats(ctx)
		return err
	})
	return stats, err
}

func (b *resilientBackend) Genres(ctx context.Context) ([]string, error) {
	var genres []string
	err := b.caller.Call(ctx, "genres", func(ctx context.Context) error {
		var err error
		genres, err = b.next.Genres(ctx)
		return err
	})
	return genres, err
}

func (b *resilientBackend) Close() error {
	return b.next.Close()
}
