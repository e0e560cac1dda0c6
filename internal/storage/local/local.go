// Package local implements the storage backend on a single SQLite file.
// Metadata lives in ordinary tables, full-text search in an FTS5 index,
// vectors as binary blobs with an in-process HNSW index for nearest-neighbor
// queries. Trigram scoring runs in Go over a bounded candidate set.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/songdex/songdex/internal/config"
	"github.com/songdex/songdex/internal/cursor"
	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/storage"
)

const songColumns = "song_id, filename, artist, title, duration, genre, bpm, preview_url, track_id, artwork_url, release_date, created_at, updated_at, extra"

func init() {
	storage.Register("local", func(cfg config.StorageConfig) (storage.Backend, error) {
		return Open(cfg.Local.DBPath, cfg.VectorDim)
	})
}

type LocalBackend struct {
	db    *sql.DB
	dim   int
	index *vectorIndex
}

func Open(dbPath string, dim int) (*LocalBackend, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	b := &LocalBackend{db: db, dim: dim, index: newVectorIndex()}
	if err := b.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := b.loadIndex(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *LocalBackend) createTables() error {
	const schema = `
CREATE TABLE IF NOT EXISTS songs (
	song_id TEXT PRIMARY KEY,
	filename TEXT NOT NULL DEFAULT '',
	artist TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	duration REAL NOT NULL DEFAULT 0,
	genre TEXT NOT NULL DEFAULT '',
	bpm INTEGER NOT NULL DEFAULT 0,
	preview_url TEXT NOT NULL DEFAULT '',
	track_id INTEGER NOT NULL DEFAULT 0,
	artwork_url TEXT NOT NULL DEFAULT '',
	release_date TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	extra TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_songs_created ON songs(created_at, song_id);
CREATE INDEX IF NOT EXISTS idx_songs_artist ON songs(artist);
CREATE INDEX IF NOT EXISTS idx_songs_genre ON songs(genre);
CREATE TABLE IF NOT EXISTS embeddings (
	embedding_id TEXT PRIMARY KEY,
	song_id TEXT NOT NULL,
	model_name TEXT NOT NULL,
	vector BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(song_id, model_name)
);
CREATE INDEX IF NOT EXISTS idx_embeddings_song ON embeddings(song_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_model_created ON embeddings(model_name, created_at);
CREATE TABLE IF NOT EXISTS genres (
	genre TEXT PRIMARY KEY
);
CREATE VIRTUAL TABLE IF NOT EXISTS songs_fts USING fts5(song_id UNINDEXED, title, artist);
`
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := b.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *LocalBackend) PutSong(ctx context.Context, song *model.Song) (string, error) {
	now := time.Now().UnixMilli()
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	song.Mtime = now
	if existing, err := b.GetSong(ctx, song.ID); err == nil {
		song.Ctime = existing.Ctime
	} else if appErr.IsNotFound(err) {
		song.Ctime = now
	} else {
		return "", err
	}

	extra, err := json.Marshal(song.Extra)
	if err != nil {
		return "", err
	}
	data := map[string]interface{}{
		"song_id":      song.ID,
		"filename":     song.Filename,
		"artist":       song.Artist,
		"title":        song.Title,
		"duration":     song.Duration,
		"genre":        song.Genre,
		"bpm":          song.BPM,
		"preview_url":  song.PreviewURL,
		"track_id":     song.TrackID,
		"artwork_url":  song.ArtworkURL,
		"release_date": song.ReleaseDate,
		"created_at":   song.Ctime,
		"updated_at":   song.Mtime,
		"extra":        string(extra),
	}
	sqlStr, args, err := builder.BuildInsert("songs", []map[string]interface{}{data})
	if err != nil {
		return "", err
	}
	sqlStr = strings.Replace(sqlStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)

	// The row, its FTS entry and the genre set change together or not at all.
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return "", err
	}
	if err := upsertFTS(ctx, tx, song); err != nil {
		return "", err
	}
	if song.Genre != "" {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO genres (genre) VALUES (?)", song.Genre); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return song.ID, nil
}

func upsertFTS(ctx context.Context, tx *sql.Tx, song *model.Song) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM songs_fts WHERE song_id = ?", song.ID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "INSERT INTO songs_fts (song_id, title, artist) VALUES (?, ?, ?)",
		song.ID, song.Title, song.Artist)
	return err
}

func (b *LocalBackend) GetSong(ctx context.Context, songID string) (*model.Song, error) {
	row := b.db.QueryRowContext(ctx, "SELECT "+songColumns+" FROM songs WHERE song_id = ?", songID)
	song, err := scanSong(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return song, nil
}

func (b *LocalBackend) GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error) {
	if len(songIDs) == 0 {
		return map[string]*model.Song{}, nil
	}
	ids := make([]interface{}, 0, len(songIDs))
	for _, id := range songIDs {
		ids = append(ids, id)
	}
	where := map[string]interface{}{
		"_custom_ids": builder.In{"song_id": ids},
	}
	sqlStr, args, err := builder.BuildSelect("songs", where, strings.Split(songColumns, ", "))
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]*model.Song, len(songIDs))
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		result[song.ID] = song
	}
	return result, rows.Err()
}

func (b *LocalBackend) DeleteSong(ctx context.Context, songID string) (bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, "DELETE FROM songs WHERE song_id = ?", songID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// Cascade to everything derived from the song.
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE song_id = ?", songID); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM songs_fts WHERE song_id = ?", songID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	b.index.RemoveSong(songID)
	return affected > 0, nil
}

func (b *LocalBackend) PutEmbedding(ctx context.Context, songID string, vec []float32, modelName string) (string, error) {
	if len(vec) != b.dim {
		return "", appErr.Validationf("vector dimension %d, want %d", len(vec), b.dim)
	}
	if _, err := b.GetSong(ctx, songID); err != nil {
		if appErr.IsNotFound(err) {
			return "", appErr.Validationf("song %s does not exist", songID)
		}
		return "", err
	}
	blob, err := encodeVector(vec)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	const query = `
		INSERT INTO embeddings (embedding_id, song_id, model_name, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (song_id, model_name) DO UPDATE SET
			embedding_id = excluded.embedding_id,
			vector = excluded.vector,
			created_at = excluded.created_at
	`
	if _, err := b.db.ExecContext(ctx, query, id, songID, modelName, blob, time.Now().UnixMilli()); err != nil {
		return "", err
	}
	b.index.Insert(modelName, songID, vec)
	return id, nil
}

func (b *LocalBackend) GetEmbedding(ctx context.Context, songID string, modelName string) (*model.Embedding, error) {
	const query = `
		SELECT embedding_id, song_id, model_name, vector, created_at
		FROM embeddings
		WHERE song_id = ? AND model_name = ?
	`
	row := b.db.QueryRowContext(ctx, query, songID, modelName)
	emb, err := scanEmbedding(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return emb, nil
}

func (b *LocalBackend) ListRecentEmbeddings(ctx context.Context, modelName string, limit int) ([]model.Embedding, error) {
	const query = `
		SELECT embedding_id, song_id, model_name, vector, created_at
		FROM embeddings
		WHERE model_name = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := b.db.QueryContext(ctx, query, modelName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []model.Embedding
	for rows.Next() {
		emb, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *emb)
	}
	return result, rows.Err()
}

func (b *LocalBackend) ListSongs(ctx context.Context, cur cursor.Cursor, limit int, filters storage.ListFilters) ([]model.Song, *cursor.Cursor, error) {
	where := map[string]interface{}{
		"_orderby": "created_at, song_id",
		"_limit":   []uint{0, uint(limit + 1)},
	}
	if !cur.Zero() {
		where["_custom_cursor"] = builder.Custom("(created_at > ? OR (created_at = ? AND song_id > ?))",
			cur.Ctime, cur.Ctime, cur.SongID)
	}
	if filters.Artist != "" {
		where["artist"] = filters.Artist
	}
	if filters.Genre != "" {
		where["genre"] = filters.Genre
	}
	if filters.TitleLike != "" {
		where["_custom_title"] = builder.Custom("title LIKE ?", "%"+filters.TitleLike+"%")
	}
	sqlStr, args, err := builder.BuildSelect("songs", where, strings.Split(songColumns, ", "))
	if err != nil {
		return nil, nil, err
	}
	rows, err := b.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	songs := make([]model.Song, 0, limit)
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, nil, err
		}
		songs = append(songs, *song)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(songs) <= limit {
		return songs, nil, nil
	}
	songs = songs[:limit]
	last := songs[len(songs)-1]
	return songs, &cursor.Cursor{Ctime: last.Ctime, SongID: last.ID}, nil
}

func (b *LocalBackend) FindSongID(ctx context.Context, name string, path string) (string, error) {
	if path != "" {
		row := b.db.QueryRowContext(ctx,
			"SELECT song_id FROM songs WHERE preview_url = ? OR filename = ? LIMIT 1", path, path)
		var id string
		if err := row.Scan(&id); err == nil {
			return id, nil
		} else if err != sql.ErrNoRows {
			return "", err
		}
	}
	if name != "" {
		like := "%" + strings.ToLower(name) + "%"
		row := b.db.QueryRowContext(ctx, `
			SELECT song_id FROM songs
			WHERE LOWER(filename) LIKE ? OR LOWER(title) LIKE ? OR LOWER(artist) LIKE ?
			LIMIT 1`, like, like, like)
		var id string
		if err := row.Scan(&id); err == nil {
			return id, nil
		} else if err != sql.ErrNoRows {
			return "", err
		}
	}
	return "", appErr.ErrNotFound
}

func (b *LocalBackend) Stats(ctx context.Context) (*model.LibraryStats, error) {
	stats := &model.LibraryStats{}
	row := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT artist), COUNT(DISTINCT genre), COALESCE(SUM(duration), 0)
		FROM songs`)
	if err := row.Scan(&stats.TotalSongs, &stats.UniqueArtists, &stats.UniqueGenres, &stats.TotalDuration); err != nil {
		return nil, err
	}
	var err error
	if stats.TopArtists, err = b.topCounts(ctx, "artist"); err != nil {
		return nil, err
	}
	if stats.TopGenres, err = b.topCounts(ctx, "genre"); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx,
		"SELECT "+songColumns+" FROM songs ORDER BY created_at DESC, song_id LIMIT 10")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		stats.RecentSongs = append(stats.RecentSongs, *song)
	}
	return stats, rows.Err()
}

func (b *LocalBackend) topCounts(ctx context.Context, column string) ([]model.NamedCount, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+column+`, COUNT(*) AS cnt FROM songs
		WHERE `+column+` != ''
		GROUP BY `+column+`
		ORDER BY cnt DESC
		LIMIT 10`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []model.NamedCount
	for rows.Next() {
		var item model.NamedCount
		if err := rows.Scan(&item.Name, &item.Count); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (b *LocalBackend) Genres(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT genre FROM genres ORDER BY genre")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	genres := make([]string, 0)
	for rows.Next() {
		var genre string
		if err := rows.Scan(&genre); err != nil {
			return nil, err
		}
		genres = append(genres, genre)
	}
	return genres, rows.Err()
}

func (b *LocalBackend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSong(row scanner) (*model.Song, error) {
	var song model.Song
	var extra string
	err := row.Scan(&song.ID, &song.Filename, &song.Artist, &song.Title, &song.Duration,
		&song.Genre, &song.BPM, &song.PreviewURL, &song.TrackID, &song.ArtworkURL,
		&song.ReleaseDate, &song.Ctime, &song.Mtime, &extra)
	if err != nil {
		return nil, err
	}
	if extra != "" && extra != "{}" {
		if err := json.Unmarshal([]byte(extra), &song.Extra); err != nil {
			return nil, err
		}
	}
	return &song, nil
}

func scanEmbedding(row scanner) (*model.Embedding, error) {
	var emb model.Embedding
	var blob []byte
	if err := row.Scan(&emb.ID, &emb.SongID, &emb.ModelName, &blob, &emb.Ctime); err != nil {
		return nil, err
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	emb.Vector = vec
	return &emb, nil
}
