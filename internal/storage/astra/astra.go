package astra

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/songdex/songdex/internal/config"
	"github.com/songdex/songdex/internal/cursor"
	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/storage"
)

const (
	songsCollection  = "songs"
	embedsCollection = "embeddings"
	genresCollection = "genres"

	// scanLimit bounds every client-side pass (stats, name lookup, text
	// search) so no operation ever walks the whole collection.
	scanLimit = 5000
)

func init() {
	storage.Register("astra", func(cfg config.StorageConfig) (storage.Backend, error) {
		return Open(cfg.Astra, cfg.VectorDim)
	})
}

type songDoc struct {
	ID          string            `json:"_id"`
	Filename    string            `json:"filename"`
	Artist      string            `json:"artist"`
	Title       string            `json:"title"`
	Duration    float64           `json:"duration"`
	Genre       string            `json:"genre"`
	BPM         int               `json:"bpm,omitempty"`
	PreviewURL  string            `json:"preview_url"`
	TrackID     int64             `json:"track_id,omitempty"`
	ArtworkURL  string            `json:"artwork_url"`
	ReleaseDate string            `json:"release_date"`
	Ctime       int64             `json:"created_at"`
	Mtime       int64             `json:"updated_at"`
	Extra       map[string]string `json:"extra,omitempty"`
}

func (d *songDoc) toModel() *model.Song {
	return &model.Song{
		ID: d.ID, Filename: d.Filename, Artist: d.Artist, Title: d.Title,
		Duration: d.Duration, Genre: d.Genre, BPM: d.BPM, PreviewURL: d.PreviewURL,
		TrackID: d.TrackID, ArtworkURL: d.ArtworkURL, ReleaseDate: d.ReleaseDate,
		Ctime: d.Ctime, Mtime: d.Mtime, Extra: d.Extra,
	}
}

func fromModel(s *model.Song) *songDoc {
	return &songDoc{
		ID: s.ID, Filename: s.Filename, Artist: s.Artist, Title: s.Title,
		Duration: s.Duration, Genre: s.Genre, BPM: s.BPM, PreviewURL: s.PreviewURL,
		TrackID: s.TrackID, ArtworkURL: s.ArtworkURL, ReleaseDate: s.ReleaseDate,
		Ctime: s.Ctime, Mtime: s.Mtime, Extra: s.Extra,
	}
}

// embedDoc keys on song_id/model_name so each song holds one current
// embedding per model. The vector rides the $vector field for server-side
// similarity sort.
type embedDoc struct {
	ID        string    `json:"_id"`
	EmbID     string    `json:"embedding_id"`
	SongID    string    `json:"song_id"`
	ModelName string    `json:"model_name"`
	Vector    []float32 `json:"$vector,omitempty"`
	Ctime     int64     `json:"created_at"`
}

type genreDoc struct {
	ID string `json:"_id"`
}

type AstraBackend struct {
	client *dataClient
	dim    int
}

func Open(cfg config.AstraConfig, dim int) (*AstraBackend, error) {
	if cfg.APIEndpoint == "" || cfg.Token == "" {
		return nil, appErr.Configurationf("astra backend needs api_endpoint and token")
	}
	keyspace := cfg.Keyspace
	if keyspace == "" {
		keyspace = "default_keyspace"
	}
	return &AstraBackend{
		client: newDataClient(cfg.APIEndpoint, cfg.Token, keyspace),
		dim:    dim,
	}, nil
}

func (b *AstraBackend) PutSong(ctx context.Context, song *model.Song) (string, error) {
	now := time.Now().UnixMilli()
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	song.Mtime = now
	if prev, err := b.GetSong(ctx, song.ID); err == nil {
		song.Ctime = prev.Ctime
	} else if appErr.IsNotFound(err) {
		song.Ctime = now
	} else {
		return "", err
	}
	if err := b.client.replaceOne(ctx, songsCollection,
		map[string]interface{}{"_id": song.ID}, fromModel(song)); err != nil {
		return "", err
	}
	if song.Genre != "" {
		// Genre is the document id, so re-inserting an existing one fails
		// the command without harm.
		_ = b.client.insertOne(ctx, genresCollection, genreDoc{ID: song.Genre})
	}
	return song.ID, nil
}

func (b *AstraBackend) GetSong(ctx context.Context, songID string) (*model.Song, error) {
	var doc songDoc
	if err := b.client.findOne(ctx, songsCollection, map[string]interface{}{"_id": songID}, &doc); err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (b *AstraBackend) GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error) {
	if len(songIDs) == 0 {
		return map[string]*model.Song{}, nil
	}
	docs, err := b.client.find(ctx, songsCollection, findOptions{
		Filter: map[string]interface{}{"_id": map[string]interface{}{"$in": songIDs}},
		Limit:  len(songIDs),
	})
	if err != nil {
		return nil, err
	}
	result := make(map[string]*model.Song, len(docs))
	for _, raw := range docs {
		var doc songDoc
		if err := unmarshalDoc(raw, &doc); err != nil {
			return nil, err
		}
		result[doc.ID] = doc.toModel()
	}
	return result, nil
}

func (b *AstraBackend) DeleteSong(ctx context.Context, songID string) (bool, error) {
	deleted, err := b.client.deleteMany(ctx, songsCollection, map[string]interface{}{"_id": songID})
	if err != nil {
		return false, err
	}
	if _, err := b.client.deleteMany(ctx, embedsCollection,
		map[string]interface{}{"song_id": songID}); err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (b *AstraBackend) PutEmbedding(ctx context.Context, songID string, vec []float32, modelName string) (string, error) {
	if len(vec) != b.dim {
		return "", appErr.Validationf("vector dimension %d, want %d", len(vec), b.dim)
	}
	if _, err := b.GetSong(ctx, songID); err != nil {
		if appErr.IsNotFound(err) {
			return "", appErr.Validationf("song %s does not exist", songID)
		}
		return "", err
	}
	doc := embedDoc{
		ID:        songID + "/" + modelName,
		EmbID:     uuid.NewString(),
		SongID:    songID,
		ModelName: modelName,
		Vector:    vec,
		Ctime:     time.Now().UnixMilli(),
	}
	if err := b.client.replaceOne(ctx, embedsCollection,
		map[string]interface{}{"_id": doc.ID}, doc); err != nil {
		return "", err
	}
	return doc.EmbID, nil
}

func (b *AstraBackend) GetEmbedding(ctx context.Context, songID string, modelName string) (*model.Embedding, error) {
	var doc embedDoc
	err := b.client.findOne(ctx, embedsCollection,
		map[string]interface{}{"_id": songID + "/" + modelName}, &doc)
	if err != nil {
		return nil, err
	}
	return &model.Embedding{
		ID: doc.EmbID, SongID: doc.SongID, Vector: doc.Vector,
		ModelName: doc.ModelName, Ctime: doc.Ctime,
	}, nil
}

func (b *AstraBackend) ListRecentEmbeddings(ctx context.Context, modelName string, limit int) ([]model.Embedding, error) {
	docs, err := b.client.find(ctx, embedsCollection, findOptions{
		Filter:     map[string]interface{}{"model_name": modelName},
		Sort:       map[string]interface{}{"created_at": -1},
		Projection: map[string]interface{}{"$vector": true, "embedding_id": true, "song_id": true, "model_name": true, "created_at": true},
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	result := make([]model.Embedding, 0, len(docs))
	for _, raw := range docs {
		var doc embedDoc
		if err := unmarshalDoc(raw, &doc); err != nil {
			return nil, err
		}
		result = append(result, model.Embedding{
			ID: doc.EmbID, SongID: doc.SongID, Vector: doc.Vector,
			ModelName: doc.ModelName, Ctime: doc.Ctime,
		})
	}
	return result, nil
}

func (b *AstraBackend) ListSongs(ctx context.Context, cur cursor.Cursor, limit int, filters storage.ListFilters) ([]model.Song, *cursor.Cursor, error) {
	clauses := []interface{}{}
	if !cur.Zero() {
		clauses = append(clauses, map[string]interface{}{
			"$or": []interface{}{
				map[string]interface{}{"created_at": map[string]interface{}{"$gt": cur.Ctime}},
				map[string]interface{}{
					"created_at": cur.Ctime,
					"_id":        map[string]interface{}{"$gt": cur.SongID},
				},
			},
		})
	}
	if filters.Artist != "" {
		clauses = append(clauses, map[string]interface{}{"artist": filters.Artist})
	}
	if filters.Genre != "" {
		clauses = append(clauses, map[string]interface{}{"genre": filters.Genre})
	}
	var filter interface{}
	switch len(clauses) {
	case 0:
	case 1:
		filter = clauses[0]
	default:
		filter = map[string]interface{}{"$and": clauses}
	}
	// Substring title match is not expressible in the Data API, so
	// overfetch and filter here.
	fetch := limit + 1
	if filters.TitleLike != "" {
		fetch = scanLimit
	}
	docs, err := b.client.find(ctx, songsCollection, findOptions{
		Filter: filter,
		Sort:   map[string]interface{}{"created_at": 1, "_id": 1},
		Limit:  fetch,
	})
	if err != nil {
		return nil, nil, err
	}
	titleLike := strings.ToLower(filters.TitleLike)
	songs := make([]model.Song, 0, limit)
	for _, raw := range docs {
		var doc songDoc
		if err := unmarshalDoc(raw, &doc); err != nil {
			return nil, nil, err
		}
		if titleLike != "" && !strings.Contains(strings.ToLower(doc.Title), titleLike) {
			continue
		}
		songs = append(songs, *doc.toModel())
		if len(songs) > limit {
			break
		}
	}
	if len(songs) <= limit {
		return songs, nil, nil
	}
	songs = songs[:limit]
	last := songs[len(songs)-1]
	return songs, &cursor.Cursor{Ctime: last.Ctime, SongID: last.ID}, nil
}

func (b *AstraBackend) FindSongID(ctx context.Context, name string, path string) (string, error) {
	if path != "" {
		var doc songDoc
		err := b.client.findOne(ctx, songsCollection, map[string]interface{}{
			"$or": []interface{}{
				map[string]interface{}{"preview_url": path},
				map[string]interface{}{"filename": path},
			},
		}, &doc)
		if err == nil {
			return doc.ID, nil
		}
		if !appErr.IsNotFound(err) {
			return "", err
		}
	}
	if name != "" {
		docs, err := b.client.find(ctx, songsCollection, findOptions{
			Projection: map[string]interface{}{"_id": true, "filename": true, "title": true, "artist": true},
			Sort:       map[string]interface{}{"created_at": -1},
			Limit:      scanLimit,
		})
		if err != nil {
			return "", err
		}
		needle := strings.ToLower(name)
		for _, raw := range docs {
			var doc songDoc
			if err := unmarshalDoc(raw, &doc); err != nil {
				return "", err
			}
			if strings.Contains(strings.ToLower(doc.Filename), needle) ||
				strings.Contains(strings.ToLower(doc.Title), needle) ||
				strings.Contains(strings.ToLower(doc.Artist), needle) {
				return doc.ID, nil
			}
		}
	}
	return "", appErr.ErrNotFound
}

func (b *AstraBackend) Stats(ctx context.Context) (*model.LibraryStats, error) {
	total, err := b.client.countDocuments(ctx, songsCollection, map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	docs, err := b.client.find(ctx, songsCollection, findOptions{
		Projection: map[string]interface{}{"artist": true, "genre": true, "duration": true},
		Limit:      scanLimit,
	})
	if err != nil {
		return nil, err
	}
	stats := &model.LibraryStats{TotalSongs: total}
	artists := map[string]int64{}
	genres := map[string]int64{}
	for _, raw := range docs {
		var doc songDoc
		if err := unmarshalDoc(raw, &doc); err != nil {
			return nil, err
		}
		stats.TotalDuration += doc.Duration
		if doc.Artist != "" {
			artists[doc.Artist]++
		}
		if doc.Genre != "" {
			genres[doc.Genre]++
		}
	}
	stats.UniqueArtists = int64(len(artists))
	stats.UniqueGenres = int64(len(genres))
	stats.TopArtists = topCounts(artists, 10)
	stats.TopGenres = topCounts(genres, 10)

	recent, err := b.client.find(ctx, songsCollection, findOptions{
		Sort:  map[string]interface{}{"created_at": -1},
		Limit: 10,
	})
	if err != nil {
		return nil, err
	}
	for _, raw := range recent {
		var doc songDoc
		if err := unmarshalDoc(raw, &doc); err != nil {
			return nil, err
		}
		stats.RecentSongs = append(stats.RecentSongs, *doc.toModel())
	}
	return stats, nil
}

func topCounts(counts map[string]int64, n int) []model.NamedCount {
	result := make([]model.NamedCount, 0, len(counts))
	for name, count := range counts {
		result = append(result, model.NamedCount{Name: name, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

func (b *AstraBackend) Genres(ctx context.Context) ([]string, error) {
	docs, err := b.client.find(ctx, genresCollection, findOptions{Limit: scanLimit})
	if err != nil {
		return nil, err
	}
	genres := make([]string, 0, len(docs))
	for _, raw := range docs {
		var doc genreDoc
		if err := unmarshalDoc(raw, &doc); err != nil {
			return nil, err
		}
		genres = append(genres, doc.ID)
	}
	sort.Strings(genres)
	return genres, nil
}

func (b *AstraBackend) Close() error {
	// The Data API is stateless.
	return nil
}
