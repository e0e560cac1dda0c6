package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/songdex/songdex/internal/config"
	"github.com/songdex/songdex/internal/cursor"
	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/rank"
	"github.com/songdex/songdex/internal/storage"
	"github.com/songdex/songdex/internal/vectorsearch"
)

const testDim = 4

type fakeBackend struct {
	songs      map[string]*model.Song
	embeddings map[string]*model.Embedding

	searchResults []model.SearchResult
	searchErr     error
	lastSearch    storage.SearchQuery
	lastSimilar   storage.SimilarQuery
	listLimit     int
	putCalls      int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		songs:      map[string]*model.Song{},
		embeddings: map[string]*model.Embedding{},
	}
}

func (f *fakeBackend) PutSong(ctx context.Context, song *model.Song) (string, error) {
	f.putCalls++
	if song.ID == "" {
		song.ID = song.Filename
	}
	if song.ID == "" {
		song.ID = song.Title
	}
	f.songs[song.ID] = song
	return song.ID, nil
}

func (f *fakeBackend) GetSong(ctx context.Context, songID string) (*model.Song, error) {
	song, ok := f.songs[songID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return song, nil
}

func (f *fakeBackend) GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error) {
	out := map[string]*model.Song{}
	for _, id := range songIDs {
		if song, ok := f.songs[id]; ok {
			out[id] = song
		}
	}
	return out, nil
}

func (f *fakeBackend) DeleteSong(ctx context.Context, songID string) (bool, error) {
	_, ok := f.songs[songID]
	delete(f.songs, songID)
	return ok, nil
}

func (f *fakeBackend) PutEmbedding(ctx context.Context, songID string, vec []float32, modelName string) (string, error) {
	f.embeddings[songID+"/"+modelName] = &model.Embedding{SongID: songID, ModelName: modelName, Vector: vec}
	return "emb", nil
}

func (f *fakeBackend) GetEmbedding(ctx context.Context, songID string, modelName string) (*model.Embedding, error) {
	emb, ok := f.embeddings[songID+"/"+modelName]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return emb, nil
}

func (f *fakeBackend) ListRecentEmbeddings(ctx context.Context, modelName string, limit int) ([]model.Embedding, error) {
	return nil, nil
}

func (f *fakeBackend) ListSongs(ctx context.Context, cur cursor.Cursor, limit int, filters storage.ListFilters) ([]model.Song, *cursor.Cursor, error) {
	f.listLimit = limit
	return nil, nil, nil
}

func (f *fakeBackend) SearchSimilar(ctx context.Context, q storage.SimilarQuery) ([]model.SearchResult, error) {
	f.lastSimilar = q
	return f.searchResults, nil
}

func (f *fakeBackend) SearchSongs(ctx context.Context, q storage.SearchQuery) ([]model.SearchResult, error) {
	f.lastSearch = q
	return f.searchResults, f.searchErr
}

func (f *fakeBackend) FindSongID(ctx context.Context, name string, path string) (string, error) {
	for id, song := range f.songs {
		if song.Title == name || song.PreviewURL == path {
			return id, nil
		}
	}
	return "", appErr.ErrNotFound
}

func (f *fakeBackend) Stats(ctx context.Context) (*model.LibraryStats, error) {
	return &model.LibraryStats{TotalSongs: int64(len(f.songs))}, nil
}

func (f *fakeBackend) Genres(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeBackend) Close() error { return nil }

func newTestService(backend storage.Backend) *CatalogService {
	fuser := rank.NewFuser(config.RankingConfig{FTSWeight: 0.5, TrigramWeight: 0.3, VectorWeight: 0.2})
	engine := vectorsearch.NewEngine(backend, config.ExactFallbackConfig{})
	return NewCatalogService(backend, engine, fuser, nil, config.StorageConfig{
		ModelName:   "clap",
		VectorDim:   testDim,
		MaxPageSize: 100,
	}, 4)
}

func TestPutSongValidation(t *testing.T) {
	svc := newTestService(newFakeBackend())
	ctx := context.Background()

	_, err := svc.PutSong(ctx, nil)
	require.True(t, appErr.IsValidation(err))

	_, err = svc.PutSong(ctx, &model.Song{Duration: 10})
	require.True(t, appErr.IsValidation(err))

	_, err = svc.PutSong(ctx, &model.Song{Filename: "x.mp3", Title: "X", Duration: -1})
	require.True(t, appErr.IsValidation(err))

	// Either filename or title on its own is enough.
	id, err := svc.PutSong(ctx, &model.Song{Title: "Closer", Duration: 10})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	id, err = svc.PutSong(ctx, &model.Song{Filename: "closer.mp3"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	id, err = svc.PutSong(ctx, &model.Song{Filename: "x.mp3", Title: "X"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestIngestSongs(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestService(backend)

	songs := []*model.Song{
		{Filename: "a.mp3", Title: "A"},
		{Filename: "b.mp3", Title: "B"},
		{Filename: "c.mp3", Title: "C"},
	}
	ids, err := svc.IngestSongs(context.Background(), songs)
	require.NoError(t, err)
	require.Equal(t, []string{"a.mp3", "b.mp3", "c.mp3"}, ids)
	require.Equal(t, 3, backend.putCalls)
}

func TestIngestSongsRejectsBatchUpfront(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestService(backend)

	songs := []*model.Song{
		{Filename: "a.mp3", Title: "A"},
		{Duration: 10},
	}
	_, err := svc.IngestSongs(context.Background(), songs)
	require.True(t, appErr.IsValidation(err))
	require.Zero(t, backend.putCalls)
}

func TestPutEmbeddingDimCheck(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestService(backend)
	ctx := context.Background()

	_, err := svc.PutEmbedding(ctx, "s1", []float32{1, 2}, "")
	require.True(t, appErr.IsValidation(err))

	_, err = svc.PutEmbedding(ctx, "s1", []float32{1, 2, 3, 4}, "")
	require.NoError(t, err)

	// Empty model name falls back to the configured default.
	emb, err := svc.GetEmbedding(ctx, "s1", "")
	require.NoError(t, err)
	require.Equal(t, "clap", emb.ModelName)
}

func TestListSongsTokenRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestService(backend)
	ctx := context.Background()

	_, next, err := svc.ListSongs(ctx, "", 0, storage.ListFilters{})
	require.NoError(t, err)
	require.Empty(t, next)
	require.Equal(t, 20, backend.listLimit)

	_, _, err = svc.ListSongs(ctx, "", 500, storage.ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 100, backend.listLimit)

	_, _, err = svc.ListSongs(ctx, "not-a-cursor", 10, storage.ListFilters{})
	require.True(t, appErr.IsValidation(err))
}

func TestSearchValidation(t *testing.T) {
	svc := newTestService(newFakeBackend())
	ctx := context.Background()

	_, err := svc.Search(ctx, SearchInput{Text: "", Type: storage.SearchFTS})
	require.True(t, appErr.IsValidation(err))

	_, err = svc.Search(ctx, SearchInput{Text: "x", Type: "bogus"})
	require.True(t, appErr.IsValidation(err))

	_, err = svc.Search(ctx, SearchInput{Text: "x", Type: storage.SearchHybrid, Vector: []float32{1}})
	require.True(t, appErr.IsValidation(err))
}

func TestSearchFusesAndEnriches(t *testing.T) {
	backend := newFakeBackend()
	backend.songs["a"] = &model.Song{ID: "a", Title: "A"}
	backend.songs["b"] = &model.Song{ID: "b", Title: "B"}
	backend.searchResults = []model.SearchResult{
		{SongID: "a", FTSScore: 2.0, TrigramScore: 0.9},
		{SongID: "b", FTSScore: 1.0, TrigramScore: 0.2},
	}
	svc := newTestService(backend)

	results, err := svc.Search(context.Background(), SearchInput{
		Text: "closer", Type: storage.SearchHybrid, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].SongID)
	require.Greater(t, results[0].Score, results[1].Score)
	require.NotNil(t, results[0].Song)
	require.Equal(t, "A", results[0].Song.Title)
}

func TestSearchAutocompleteClampsLimit(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestService(backend)

	_, err := svc.Search(context.Background(), SearchInput{
		Text: "clo", Type: storage.SearchAutocomplete, Limit: 50,
	})
	require.NoError(t, err)
	require.Equal(t, 10, backend.lastSearch.Limit)
}

func TestSearchVectorOnlyForHybrid(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestService(backend)

	vec := []float32{1, 0, 0, 0}
	_, err := svc.Search(context.Background(), SearchInput{
		Text: "x", Type: storage.SearchFTS, Limit: 5, Vector: vec,
	})
	require.NoError(t, err)
	require.Nil(t, backend.lastSearch.Vector)

	_, err = svc.Search(context.Background(), SearchInput{
		Text: "x", Type: storage.SearchHybrid, Limit: 5, Vector: vec,
	})
	require.NoError(t, err)
	require.Equal(t, vec, backend.lastSearch.Vector)
}

func TestSearchPartialEnrichment(t *testing.T) {
	backend := newFakeBackend()
	backend.songs["a"] = &model.Song{ID: "a", Title: "A"}
	backend.searchResults = []model.SearchResult{
		{SongID: "a", FTSScore: 1.0},
		{SongID: "gone", FTSScore: 0.5},
	}
	svc := newTestService(backend)

	results, err := svc.Search(context.Background(), SearchInput{
		Text: "x", Type: storage.SearchFTS, Limit: 10,
	})
	pf, ok := appErr.AsPartialFailure(err)
	require.True(t, ok)
	require.Len(t, results, 1)
	require.Equal(t, "a", results[0].SongID)
	require.Len(t, pf.Failed, 1)
	require.Equal(t, "gone", pf.Failed[0].ID)
}

func TestSearchSimilarDefaults(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestService(backend)
	ctx := context.Background()

	_, err := svc.SearchSimilar(ctx, SimilarInput{Vector: []float32{1, 0}})
	require.True(t, appErr.IsValidation(err))

	_, err = svc.SearchSimilar(ctx, SimilarInput{Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	require.Equal(t, 5, backend.lastSimilar.K)
	require.Equal(t, "clap", backend.lastSimilar.ModelName)

	_, err = svc.SearchSimilar(ctx, SimilarInput{Vector: []float32{1, 0, 0, 0}, K: 5000})
	require.NoError(t, err)
	require.Equal(t, 100, backend.lastSimilar.K)
}

func TestDeleteSongRequiresID(t *testing.T) {
	backend := newFakeBackend()
	backend.songs["s1"] = &model.Song{ID: "s1"}
	svc := newTestService(backend)
	ctx := context.Background()

	_, err := svc.DeleteSong(ctx, "")
	require.True(t, appErr.IsValidation(err))

	deleted, err := svc.DeleteSong(ctx, "s1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = svc.DeleteSong(ctx, "s1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestFindSongIDRequiresInput(t *testing.T) {
	svc := newTestService(newFakeBackend())
	_, err := svc.FindSongID(context.Background(), "", "")
	require.True(t, appErr.IsValidation(err))
}
