package service

import (
	"context"
	"io"

	"github.com/songdex/songdex/internal/filestore"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

func audioKey(songID string) string {
	return songID + ".audio"
}

// UploadAudio stores the raw audio object for a song and records its public
// URL on the song record. The song must already exist.
func (s *CatalogService) UploadAudio(ctx context.Context, songID string, r filestore.ReadSeekCloser, size int64, baseURL string) (string, error) {
	if s.store == nil {
		return "", appErr.Validationf("no file store configured")
	}
	song, err := s.backend.GetSong(ctx, songID)
	if err != nil {
		return "", err
	}
	key := audioKey(songID)
	if err := s.store.Save(ctx, key, r, size); err != nil {
		return "", err
	}
	url := s.store.URL(key, baseURL)
	song.PreviewURL = url
	if _, err := s.backend.PutSong(ctx, song); err != nil {
		return "", err
	}
	return url, nil
}

// AudioURL resolves the playable address for a song: the stored preview URL
// when set, otherwise the file store location.
func (s *CatalogService) AudioURL(ctx context.Context, songID string, baseURL string) (string, error) {
	song, err := s.backend.GetSong(ctx, songID)
	if err != nil {
		return "", err
	}
	if song.PreviewURL != "" {
		return song.PreviewURL, nil
	}
	if s.store == nil {
		return "", appErr.ErrNotFound
	}
	return s.store.URL(audioKey(songID), baseURL), nil
}

// DeleteAudio removes the stored audio object and clears the song's preview
// URL. The song record itself stays.
func (s *CatalogService) DeleteAudio(ctx context.Context, songID string) error {
	if s.store == nil {
		return appErr.Validationf("no file store configured")
	}
	song, err := s.backend.GetSong(ctx, songID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, audioKey(songID)); err != nil {
		return err
	}
	if song.PreviewURL != "" {
		song.PreviewURL = ""
		if _, err := s.backend.PutSong(ctx, song); err != nil {
			return err
		}
	}
	return nil
}

// OpenAudio streams a locally stored audio object.
func (s *CatalogService) OpenAudio(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.store == nil {
		return nil, appErr.ErrNotFound
	}
	return s.store.Open(ctx, key)
}
