package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/songdex/songdex/internal/cache"
	"github.com/songdex/songdex/internal/cursor"
	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

type countingBackend struct {
	mu    sync.Mutex
	songs map[string]*model.Song

	getSongCalls  int
	getSongsCalls int
	lastBatch     []string
	searchCalls   int
	statsCalls    int
	genresCalls   int
}

func newCountingBackend() *countingBackend {
	return &countingBackend{songs: map[string]*model.Song{}}
}

func (f *countingBackend) PutSong(ctx context.Context, song *model.Song) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if song.ID == "" {
		song.ID = "generated"
	}
	f.songs[song.ID] = song
	return song.ID, nil
}

func (f *countingBackend) GetSong(ctx context.Context, songID string) (*model.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getSongCalls++
	song, ok := f.songs[songID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return song, nil
}

func (f *countingBackend) GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getSongsCalls++
	f.lastBatch = append([]string(nil), songIDs...)
	out := map[string]*model.Song{}
	for _, id := range songIDs {
		if song, ok := f.songs[id]; ok {
			out[id] = song
		}
	}
	return out, nil
}

func (f *countingBackend) DeleteSong(ctx context.Context, songID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.songs[songID]
	delete(f.songs, songID)
	return ok, nil
}

func (f *countingBackend) PutEmbedding(ctx context.Context, songID string, vec []float32, modelName string) (string, error) {
	return "emb-1", nil
}

func (f *countingBackend) GetEmbedding(ctx context.Context, songID string, modelName string) (*model.Embedding, error) {
	return &model.Embedding{SongID: songID, ModelName: modelName}, nil
}

func (f *countingBackend) ListRecentEmbeddings(ctx context.Context, modelName string, limit int) ([]model.Embedding, error) {
	return nil, nil
}

func (f *countingBackend) ListSongs(ctx context.Context, cur cursor.Cursor, limit int, filters ListFilters) ([]model.Song, *cursor.Cursor, error) {
	return nil, nil, nil
}

func (f *countingBackend) SearchSimilar(ctx context.Context, q SimilarQuery) ([]model.SearchResult, error) {
	return nil, nil
}

func (f *countingBackend) SearchSongs(ctx context.Context, q SearchQuery) ([]model.SearchResult, error) {
	f.searchCalls++
	return []model.SearchResult{{SongID: "hit", Score: 1}}, nil
}

func (f *countingBackend) FindSongID(ctx context.Context, name string, path string) (string, error) {
	return "", appErr.ErrNotFound
}

func (f *countingBackend) Stats(ctx context.Context) (*model.LibraryStats, error) {
	f.statsCalls++
	return &model.LibraryStats{TotalSongs: int64(len(f.songs))}, nil
}

func (f *countingBackend) Genres(ctx context.Context) ([]string, error) {
	f.genresCalls++
	return []string{"Pop"}, nil
}

func (f *countingBackend) Close() error { return nil }

func newCachedPair(t *testing.T) (*countingBackend, Backend) {
	t.Helper()
	inner := newCountingBackend()
	return inner, WrapCache(inner, cache.New(128, time.Minute, 4))
}

func TestCachedGetSongServedFromCache(t *testing.T) {
	inner, b := newCachedPair(t)
	ctx := context.Background()

	inner.songs["s1"] = &model.Song{ID: "s1", Title: "One"}

	got, err := b.GetSong(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "One", got.Title)
	require.Equal(t, 1, inner.getSongCalls)

	_, err = b.GetSong(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, inner.getSongCalls)
}

func TestCachedGetSongErrorNotCached(t *testing.T) {
	inner, b := newCachedPair(t)
	ctx := context.Background()

	_, err := b.GetSong(ctx, "missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	inner.songs["missing"] = &model.Song{ID: "missing"}
	_, err = b.GetSong(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, 2, inner.getSongCalls)
}

func TestCachedPutSongInvalidates(t *testing.T) {
	inner, b := newCachedPair(t)
	ctx := context.Background()

	inner.songs["s1"] = &model.Song{ID: "s1", Title: "Old"}
	_, err := b.GetSong(ctx, "s1")
	require.NoError(t, err)
	_, err = b.SearchSongs(ctx, SearchQuery{Text: "x", Type: SearchFTS, Limit: 5})
	require.NoError(t, err)
	_, err = b.Stats(ctx)
	require.NoError(t, err)

	_, err = b.PutSong(ctx, &model.Song{ID: "s1", Title: "New"})
	require.NoError(t, err)

	got, err := b.GetSong(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "New", got.Title)
	require.Equal(t, 2, inner.getSongCalls)

	_, err = b.SearchSongs(ctx, SearchQuery{Text: "x", Type: SearchFTS, Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 2, inner.searchCalls)

	_, err = b.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, inner.statsCalls)
}

func TestCachedGetSongsFetchesOnlyMisses(t *testing.T) {
	inner, b := newCachedPair(t)
	ctx := context.Background()

	inner.songs["a"] = &model.Song{ID: "a"}
	inner.songs["b"] = &model.Song{ID: "b"}
	inner.songs["c"] = &model.Song{ID: "c"}

	_, err := b.GetSong(ctx, "a")
	require.NoError(t, err)

	songs, err := b.GetSongs(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, songs, 3)
	require.Equal(t, 1, inner.getSongsCalls)
	require.ElementsMatch(t, []string{"b", "c"}, inner.lastBatch)

	// All three are now warm; no backend round trip at all.
	songs, err = b.GetSongs(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, songs, 3)
	require.Equal(t, 1, inner.getSongsCalls)
}

func TestCachedSearchFingerprint(t *testing.T) {
	inner, b := newCachedPair(t)
	ctx := context.Background()

	q := SearchQuery{Text: "closer", Type: SearchHybrid, Limit: 10, Vector: []float32{1, 0}}
	_, err := b.SearchSongs(ctx, q)
	require.NoError(t, err)
	_, err = b.SearchSongs(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 1, inner.searchCalls)

	// A different limit is a different result set.
	q.Limit = 20
	_, err = b.SearchSongs(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 2, inner.searchCalls)

	// So is a different vector.
	q.Vector = []float32{0, 1}
	_, err = b.SearchSongs(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 3, inner.searchCalls)
}

func TestCachedDeleteInvalidatesEmbeddings(t *testing.T) {
	inner, b := newCachedPair(t)
	ctx := context.Background()

	inner.songs["s1"] = &model.Song{ID: "s1"}
	_, err := b.GetEmbedding(ctx, "s1", "m")
	require.NoError(t, err)
	_, err = b.GetSong(ctx, "s1")
	require.NoError(t, err)

	deleted, err := b.DeleteSong(ctx, "s1")
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = b.GetSong(ctx, "s1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestCachedGenres(t *testing.T) {
	inner, b := newCachedPair(t)
	ctx := context.Background()

	genres, err := b.Genres(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Pop"}, genres)
	_, err = b.Genres(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, inner.genresCalls)
}

func TestCachedInvalidationWithConcurrentReaders(t *testing.T) {
	_, b := newCachedPair(t)
	ctx := context.Background()

	_, err := b.PutSong(ctx, &model.Song{ID: "s1", Title: "v0"})
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				song, err := b.GetSong(ctx, "s1")
				if err != nil || song == nil {
					t.Errorf("concurrent read: %v", err)
					return
				}
			}
		}()
	}

	for v := 1; v <= 50; v++ {
		_, err := b.PutSong(ctx, &model.Song{ID: "s1", Title: fmt.Sprintf("v%d", v)})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	// With the readers drained, a write followed by a read must observe the
	// new value.
	_, err = b.PutSong(ctx, &model.Song{ID: "s1", Title: "final"})
	require.NoError(t, err)
	got, err := b.GetSong(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "final", got.Title)
}

func TestCachedCancelledContextNotPopulated(t *testing.T) {
	inner, b := newCachedPair(t)

	inner.songs["s1"] = &model.Song{ID: "s1"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The fake backend ignores cancellation, so the read itself succeeds;
	// the decorator must still refuse to keep the value.
	_, err := b.GetSong(ctx, "s1")
	require.NoError(t, err)

	_, err = b.GetSong(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 2, inner.getSongCalls)
}

func TestWrapCacheNilCache(t *testing.T) {
	inner := newCountingBackend()
	require.Equal(t, Backend(inner), WrapCache(inner, nil))
}
