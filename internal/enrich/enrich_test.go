package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

type fakeBatchGetter struct {
	songs map[string]*model.Song
	calls int
	err   error
}

func (f *fakeBatchGetter) GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*model.Song, len(songIDs))
	for _, id := range songIDs {
		if s, ok := f.songs[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func TestEnrichSingleRoundTrip(t *testing.T) {
	backend := &fakeBatchGetter{songs: map[string]*model.Song{
		"a": {ID: "a", Title: "Alpha"},
		"b": {ID: "b", Title: "Beta"},
		"c": {ID: "c", Title: "Gamma"},
	}}
	e := New(backend)

	results := []model.SearchResult{
		{SongID: "c", Score: 0.9},
		{SongID: "a", Score: 0.8},
		{SongID: "b", Score: 0.7},
	}
	enriched, err := e.Enrich(context.Background(), results)
	require.NoError(t, err)
	require.Equal(t, 1, backend.calls)
	require.Len(t, enriched, 3)
	// Rank order preserved, every result carries its record.
	require.Equal(t, "Gamma", enriched[0].Song.Title)
	require.Equal(t, "Alpha", enriched[1].Song.Title)
	require.Equal(t, "Beta", enriched[2].Song.Title)
}

func TestEnrichDropsMissing(t *testing.T) {
	backend := &fakeBatchGetter{songs: map[string]*model.Song{
		"a": {ID: "a"},
		"c": {ID: "c"},
	}}
	e := New(backend)

	results := []model.SearchResult{
		{SongID: "a", Score: 0.9},
		{SongID: "gone", Score: 0.8},
		{SongID: "c", Score: 0.7},
	}
	enriched, err := e.Enrich(context.Background(), results)
	require.Error(t, err)

	pf, ok := appErr.AsPartialFailure(err)
	require.True(t, ok)
	require.Len(t, pf.Failed, 1)
	require.Equal(t, "gone", pf.Failed[0].ID)

	require.Len(t, enriched, 2)
	require.Equal(t, "a", enriched[0].SongID)
	require.Equal(t, "c", enriched[1].SongID)
}

func TestEnrichBackendError(t *testing.T) {
	backend := &fakeBatchGetter{err: errors.New("boom")}
	e := New(backend)

	_, err := e.Enrich(context.Background(), []model.SearchResult{{SongID: "a"}})
	require.Error(t, err)
	_, ok := appErr.AsPartialFailure(err)
	require.False(t, ok)
}

func TestEnrichEmptyInput(t *testing.T) {
	backend := &fakeBatchGetter{}
	e := New(backend)

	enriched, err := e.Enrich(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, enriched)
	require.Equal(t, 0, backend.calls)
}
