// Package service implements the catalog facade: validation, pagination
// token handling, score fusion and enrichment sit here, above whichever
// storage backend the deployment selected.
package service

import (
	"context"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/songdex/songdex/internal/config"
	"github.com/songdex/songdex/internal/cursor"
	"github.com/songdex/songdex/internal/enrich"
	"github.com/songdex/songdex/internal/filestore"
	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/rank"
	"github.com/songdex/songdex/internal/storage"
	"github.com/songdex/songdex/internal/vectorsearch"
)

const autocompleteMaxLimit = 10

type CatalogService struct {
	backend  storage.Backend
	engine   *vectorsearch.Engine
	fuser    *rank.Fuser
	enricher *enrich.Enricher
	store    filestore.Store

	modelName   string
	vectorDim   int
	maxPageSize int
	poolSize    int
}

func NewCatalogService(
	backend storage.Backend,
	engine *vectorsearch.Engine,
	fuser *rank.Fuser,
	store filestore.Store,
	storageCfg config.StorageConfig,
	poolSize int,
) *CatalogService {
	if poolSize <= 0 {
		poolSize = 8
	}
	return &CatalogService{
		backend:     backend,
		engine:      engine,
		fuser:       fuser,
		enricher:    enrich.New(backend),
		store:       store,
		modelName:   storageCfg.ModelName,
		vectorDim:   storageCfg.VectorDim,
		maxPageSize: storageCfg.MaxPageSize,
		poolSize:    poolSize,
	}
}

func (s *CatalogService) PutSong(ctx context.Context, song *model.Song) (string, error) {
	if err := validateSong(song); err != nil {
		return "", err
	}
	id, err := s.backend.PutSong(ctx, song)
	if err != nil {
		return "", err
	}
	logutil.GetLogger(ctx).Info("song stored", zap.String("song_id", id),
		zap.String("artist", song.Artist), zap.String("title", song.Title))
	return id, nil
}

// IngestSongs stores a batch concurrently on a bounded worker pool. The
// returned ids line up with the input slice; the first failure aborts the
// rest of the batch.
func (s *CatalogService) IngestSongs(ctx context.Context, songs []*model.Song) ([]string, error) {
	for _, song := range songs {
		if err := validateSong(song); err != nil {
			return nil, err
		}
	}
	ids := make([]string, len(songs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.poolSize)
	for i, song := range songs {
		i, song := i, song
		g.Go(func() error {
			id, err := s.backend.PutSong(gctx, song)
			if err != nil {
				return err
			}
			mu.Lock()
			ids[i] = id
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *CatalogService) GetSong(ctx context.Context, songID string) (*model.Song, error) {
	if songID == "" {
		return nil, appErr.Validationf("song_id is required")
	}
	return s.backend.GetSong(ctx, songID)
}

// DeleteSong removes the song, its embeddings and any locally stored audio.
// Deleting an absent song reports deleted=false without an error.
func (s *CatalogService) DeleteSong(ctx context.Context, songID string) (bool, error) {
	if songID == "" {
		return false, appErr.Validationf("song_id is required")
	}
	deleted, err := s.backend.DeleteSong(ctx, songID)
	if err != nil {
		return false, err
	}
	if deleted && s.store != nil {
		if err := s.store.Delete(ctx, audioKey(songID)); err != nil {
			logutil.GetLogger(ctx).Warn("audio cleanup failed",
				zap.String("song_id", songID), zap.Error(err))
		}
	}
	return deleted, nil
}

func (s *CatalogService) PutEmbedding(ctx context.Context, songID string, vec []float32, modelName string) (string, error) {
	if songID == "" {
		return "", appErr.Validationf("song_id is required")
	}
	if len(vec) != s.vectorDim {
		return "", appErr.Validationf("vector dimension %d, want %d", len(vec), s.vectorDim)
	}
	if modelName == "" {
		modelName = s.modelName
	}
	return s.backend.PutEmbedding(ctx, songID, vec, modelName)
}

func (s *CatalogService) GetEmbedding(ctx context.Context, songID string, modelName string) (*model.Embedding, error) {
	if songID == "" {
		return nil, appErr.Validationf("song_id is required")
	}
	if modelName == "" {
		modelName = s.modelName
	}
	return s.backend.GetEmbedding(ctx, songID, modelName)
}

// ListSongs pages through the catalog. token is the opaque cursor from the
// previous page, empty for the first; the returned token is empty on the
// final page.
func (s *CatalogService) ListSongs(ctx context.Context, token string, limit int, filters storage.ListFilters) ([]model.Song, string, error) {
	cur, err := cursor.Decode(token)
	if err != nil {
		return nil, "", err
	}
	limit = s.clampLimit(limit)
	songs, next, err := s.backend.ListSongs(ctx, cur, limit, filters)
	if err != nil {
		return nil, "", err
	}
	nextToken := ""
	if next != nil {
		nextToken = cursor.Encode(*next)
	}
	return songs, nextToken, nil
}

func (s *CatalogService) FindSongID(ctx context.Context, name string, path string) (string, error) {
	if name == "" && path == "" {
		return "", appErr.Validationf("name or path is required")
	}
	return s.backend.FindSongID(ctx, name, path)
}

func (s *CatalogService) Stats(ctx context.Context) (*model.LibraryStats, error) {
	return s.backend.Stats(ctx)
}

func (s *CatalogService) Genres(ctx context.Context) ([]string, error) {
	return s.backend.Genres(ctx)
}

func (s *CatalogService) clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > s.maxPageSize {
		return s.maxPageSize
	}
	return limit
}

func validateSong(song *model.Song) error {
	if song == nil {
		return appErr.Validationf("song is required")
	}
	if song.Filename == "" && song.Title == "" {
		return appErr.Validationf("filename or title is required")
	}
	if song.Duration < 0 {
		return appErr.Validationf("duration must not be negative")
	}
	return nil
}
