package storage

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/songdex/songdex/internal/cache"
	"github.com/songdex/songdex/internal/cursor"
	"github.com/songdex/songdex/internal/model"
)

// WrapCache decorates a backend with the metadata cache. Reads are served
// from the cache when possible; every mutating call invalidates the affected
// keys after the backend confirms the write and before returning success, so
// no caller can observe a stale read after a confirmed write.
func WrapCache(next Backend, c *cache.Cache) Backend {
	if next == nil || c == nil {
		return next
	}
	return &cachedBackend{next: next, cache: c}
}

type cachedBackend struct {
	next  Backend
	cache *cache.Cache
}

func (b *cachedBackend) PutSong(ctx context.Context, song *model.Song) (string, error) {
	id, err := b.next.PutSong(ctx, song)
	if err != nil {
		return "", err
	}
	b.cache.Invalidate(cache.SongKey(id))
	b.cache.InvalidatePrefix(cache.SearchPrefix)
	b.cache.Invalidate(cache.StatsKey)
	b.cache.Invalidate(cache.GenresKey)
	return id, nil
}

func (b *cachedBackend) GetSong(ctx context.Context, songID string) (*model.Song, error) {
	if v, ok := b.cache.Get(cache.SongKey(songID)); ok {
		if song, ok := v.(*model.Song); ok {
			return song, nil
		}
	}
	song, err := b.next.GetSong(ctx, songID)
	if err != nil {
		return nil, err
	}
	// A cancelled caller must not populate the cache behind its own back.
	if ctx.Err() == nil {
		b.cache.Put(cache.SongKey(songID), song)
	}
	return song, nil
}

func (b *cachedBackend) GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error) {
	found := make(map[string]*model.Song, len(songIDs))
	missing := make([]string, 0, len(songIDs))
	for _, id := range songIDs {
		if v, ok := b.cache.Get(cache.SongKey(id)); ok {
			if song, ok := v.(*model.Song); ok {
				found[id] = song
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return found, nil
	}
	fetched, err := b.next.GetSongs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, song := range fetched {
		found[id] = song
		if ctx.Err() == nil {
			b.cache.Put(cache.SongKey(id), song)
		}
	}
	return found, nil
}

func (b *cachedBackend) DeleteSong(ctx context.Context, songID string) (bool, error) {
	deleted, err := b.next.DeleteSong(ctx, songID)
	if err != nil {
		return false, err
	}
	b.cache.Invalidate(cache.SongKey(songID))
	b.cache.InvalidatePrefix(cache.EmbSongPrefix(songID))
	b.cache.InvalidatePrefix(cache.SearchPrefix)
	b.cache.Invalidate(cache.StatsKey)
	b.cache.Invalidate(cache.GenresKey)
	return deleted, nil
}

func (b *cachedBackend) PutEmbedding(ctx context.Context, songID string, vec []float32, modelName string) (string, error) {
	id, err := b.next.PutEmbedding(ctx, songID, vec, modelName)
	if err != nil {
		return "", err
	}
	b.cache.Invalidate(cache.EmbKey(songID, modelName))
	b.cache.InvalidatePrefix(cache.SearchPrefix)
	return id, nil
}

func (b *cachedBackend) GetEmbedding(ctx context.Context, songID string, modelName string) (*model.Embedding, error) {
	if v, ok := b.cache.Get(cache.EmbKey(songID, modelName)); ok {
		if emb, ok := v.(*model.Embedding); ok {
			return emb, nil
		}
	}
	emb, err := b.next.GetEmbedding(ctx, songID, modelName)
	if err != nil {
		return nil, err
	}
	if ctx.Err() == nil {
		b.cache.Put(cache.EmbKey(songID, modelName), emb)
	}
	return emb, nil
}

func (b *cachedBackend) ListRecentEmbeddings(ctx context.Context, modelName string, limit int) ([]model.Embedding, error) {
	return b.next.ListRecentEmbeddings(ctx, modelName, limit)
}

func (b *cachedBackend) ListSongs(ctx context.Context, cur cursor.Cursor, limit int, filters ListFilters) ([]model.Song, *cursor.Cursor, error) {
	return b.next.ListSongs(ctx, cur, limit, filters)
}

func (b *cachedBackend) SearchSimilar(ctx context.Context, q SimilarQuery) ([]model.SearchResult, error) {
	return b.next.SearchSimilar(ctx, q)
}

func (b *cachedBackend) SearchSongs(ctx context.Context, q SearchQuery) ([]model.SearchResult, error) {
	key := cache.SearchPrefix + searchFingerprint(q)
	if v, ok := b.cache.Get(key); ok {
		if results, ok := v.([]model.SearchResult); ok {
			return results, nil
		}
	}
	results, err := b.next.SearchSongs(ctx, q)
	if err != nil {
		return nil, err
	}
	if ctx.Err() == nil {
		b.cache.Put(key, results)
	}
	return results, nil
}

func (b *cachedBackend) FindSongID(ctx context.Context, name string, path string) (string, error) {
	return b.next.FindSongID(ctx, name, path)
}

func (b *cachedBackend) Stats(ctx context.Context) (*model.LibraryStats, error) {
	if v, ok := b.cache.Get(cache.StatsKey); ok {
		if stats, ok := v.(*model.LibraryStats); ok {
			return stats, nil
		}
	}
	stats, err := b.next.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.Err() == nil {
		b.cache.Put(cache.StatsKey, stats)
	}
	return stats, nil
}

func (b *cachedBackend) Genres(ctx context.Context) ([]string, error) {
	if v, ok := b.cache.Get(cache.GenresKey); ok {
		if genres, ok := v.([]string); ok {
			return genres, nil
		}
	}
	genres, err := b.next.Genres(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.Err() == nil {
		b.cache.Put(cache.GenresKey, genres)
	}
	return genres, nil
}

func (b *cachedBackend) Close() error {
	b.cache.Purge()
	return b.next.Close()
}

// searchFingerprint derives a stable cache key from everything that changes a
// query's result set.
func searchFingerprint(q SearchQuery) string {
	h := sha256.New()
	_, _ = h.Write([]byte(string(q.Type)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(q.Text))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(q.ModelName))
	_, _ = h.Write([]byte{0})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(q.Limit))
	_, _ = h.Write(buf[:])
	for _, v := range q.Vector {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		_, _ = h.Write(buf[:4])
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
