// Package postgres implements the storage backend on Postgres with the
// pgvector extension for similarity search, tsvector full-text search and
// pg_trgm fuzzy matching. Schema migrations are embedded and applied on open.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/songdex/songdex/internal/config"
	"github.com/songdex/songdex/internal/cursor"
	"github.com/songdex/songdex/internal/model"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const songColumns = "song_id, filename, artist, title, duration, genre, bpm, preview_url, track_id, artwork_url, release_date, created_at, updated_at, extra"

func init() {
	storage.Register("postgres", func(cfg config.StorageConfig) (storage.Backend, error) {
		return Open(cfg.Postgres, cfg.VectorDim)
	})
}

type PostgresBackend struct {
	db  *sql.DB
	dim int
}

func Open(cfg config.PostgresConfig, dim int) (*PostgresBackend, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns / 2)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, appErr.Unavailablef("ping postgres: %v", err)
	}
	b := &PostgresBackend{db: db, dim: dim}
	if err := b.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return b, nil
}

func (b *PostgresBackend) applyMigrations() error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return err
		}
		for _, q := range strings.Split(string(content), ";") {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if _, err := b.db.Exec(q); err != nil {
				if strings.Contains(err.Error(), "already exists") {
					continue
				}
				return fmt.Errorf("execute query in %s: %w", file, err)
			}
		}
	}
	return nil
}

func (b *PostgresBackend) PutSong(ctx context.Context, song *model.Song) (string, error) {
	now := time.Now().UnixMilli()
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	if _, err := uuid.Parse(song.ID); err != nil {
		return "", appErr.Validationf("song_id must be a uuid")
	}
	song.Mtime = now
	extra, err := json.Marshal(song.Extra)
	if err != nil {
		return "", err
	}
	if song.Extra == nil {
		extra = []byte("{}")
	}
	const query = `
		INSERT INTO songs (` + songColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (song_id) DO UPDATE SET
			filename = EXCLUDED.filename,
			artist = EXCLUDED.artist,
			title = EXCLUDED.title,
			duration = EXCLUDED.duration,
			genre = EXCLUDED.genre,
			bpm = EXCLUDED.bpm,
			preview_url = EXCLUDED.preview_url,
			track_id = EXCLUDED.track_id,
			artwork_url = EXCLUDED.artwork_url,
			release_date = EXCLUDED.release_date,
			updated_at = EXCLUDED.updated_at,
			extra = EXCLUDED.extra
		RETURNING created_at
	`
	row := b.db.QueryRowContext(ctx, query,
		song.ID, song.Filename, song.Artist, song.Title, song.Duration, song.Genre,
		song.BPM, song.PreviewURL, song.TrackID, song.ArtworkURL, song.ReleaseDate,
		now, now, extra)
	if err := row.Scan(&song.Ctime); err != nil {
		return "", wrapErr(err)
	}
	if song.Genre != "" {
		if _, err := b.db.ExecContext(ctx,
			"INSERT INTO genres (genre) VALUES ($1) ON CONFLICT (genre) DO NOTHING", song.Genre); err != nil {
			return "", wrapErr(err)
		}
	}
	return song.ID, nil
}

func (b *PostgresBackend) GetSong(ctx context.Context, songID string) (*model.Song, error) {
	row := b.db.QueryRowContext(ctx, "SELECT "+songColumns+" FROM songs WHERE song_id = $1", songID)
	song, err := scanSong(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return song, nil
}

func (b *PostgresBackend) GetSongs(ctx context.Context, songIDs []string) (map[string]*model.Song, error) {
	if len(songIDs) == 0 {
		return map[string]*model.Song{}, nil
	}
	query, args, err := sqlx.In("SELECT "+songColumns+" FROM songs WHERE song_id IN (?)", songIDs)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
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

func (b *PostgresBackend) DeleteSong(ctx context.Context, songID string) (bool, error) {
	// Embeddings cascade through the foreign key.
	res, err := b.db.ExecContext(ctx, "DELETE FROM songs WHERE song_id = $1", songID)
	if err != nil {
		return false, wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (b *PostgresBackend) PutEmbedding(ctx context.Context, songID string, vec []float32, modelName string) (string, error) {
	if len(vec) != b.dim {
		return "", appErr.Validationf("vector dimension %d, want %d", len(vec), b.dim)
	}
	var exists bool
	if err := b.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM songs WHERE song_id = $1)", songID).Scan(&exists); err != nil {
		return "", wrapErr(err)
	}
	if !exists {
		return "", appErr.Validationf("song %s does not exist", songID)
	}
	id := uuid.NewString()
	const query = `
		INSERT INTO embeddings (embedding_id, song_id, model_name, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (song_id, model_name) DO UPDATE SET
			embedding_id = EXCLUDED.embedding_id,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at
	`
	if _, err := b.db.ExecContext(ctx, query, id, songID, modelName,
		pgvector.NewVector(vec), time.Now().UnixMilli()); err != nil {
		return "", wrapErr(err)
	}
	return id, nil
}

func (b *PostgresBackend) GetEmbedding(ctx context.Context, songID string, modelName string) (*model.Embedding, error) {
	const query = `
		SELECT embedding_id, song_id, model_name, embedding, created_at
		FROM embeddings
		WHERE song_id = $1 AND model_name = $2
	`
	row := b.db.QueryRowContext(ctx, query, songID, modelName)
	emb, err := scanEmbedding(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return emb, nil
}

func (b *PostgresBackend) ListRecentEmbeddings(ctx context.Context, modelName string, limit int) ([]model.Embedding, error) {
	const query = `
		SELECT embedding_id, song_id, model_name, embedding, created_at
		FROM embeddings
		WHERE model_name = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := b.db.QueryContext(ctx, query, modelName, limit)
	if err != nil {
		return nil, wrapErr(err)
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

func (b *PostgresBackend) ListSongs(ctx context.Context, cur cursor.Cursor, limit int, filters storage.ListFilters) ([]model.Song, *cursor.Cursor, error) {
	query := "SELECT " + songColumns + " FROM songs WHERE (created_at, song_id) > ($1, $2)"
	args := []interface{}{cur.Ctime, cur.SongID}
	if cur.Zero() {
		// Compare against the all-zero uuid so the tuple predicate stays
		// well-typed for the first page.
		args[1] = uuid.Nil.String()
	}
	idx := 3
	if filters.Artist != "" {
		query += fmt.Sprintf(" AND artist = $%d", idx)
		args = append(args, filters.Artist)
		idx++
	}
	if filters.Genre != "" {
		query += fmt.Sprintf(" AND genre = $%d", idx)
		args = append(args, filters.Genre)
		idx++
	}
	if filters.TitleLike != "" {
		query += fmt.Sprintf(" AND title ILIKE $%d", idx)
		args = append(args, "%"+filters.TitleLike+"%")
		idx++
	}
	query += fmt.Sprintf(" ORDER BY created_at, song_id LIMIT $%d", idx)
	args = append(args, limit+1)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, wrapErr(err)
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

func (b *PostgresBackend) FindSongID(ctx context.Context, name string, path string) (string, error) {
	if path != "" {
		row := b.db.QueryRowContext(ctx,
			"SELECT song_id FROM songs WHERE preview_url = $1 OR filename = $1 LIMIT 1", path)
		var id string
		if err := row.Scan(&id); err == nil {
			return id, nil
		} else if err != sql.ErrNoRows {
			return "", wrapErr(err)
		}
	}
	if name != "" {
		like := "%" + name + "%"
		row := b.db.QueryRowContext(ctx, `
			SELECT song_id FROM songs
			WHERE filename ILIKE $1 OR title ILIKE $1 OR artist ILIKE $1
			LIMIT 1`, like)
		var id string
		if err := row.Scan(&id); err == nil {
			return id, nil
		} else if err != sql.ErrNoRows {
			return "", wrapErr(err)
		}
	}
	return "", appErr.ErrNotFound
}

func (b *PostgresBackend) Stats(ctx context.Context) (*model.LibraryStats, error) {
	stats := &model.LibraryStats{}
	row := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT artist), COUNT(DISTINCT genre), COALESCE(SUM(duration), 0)
		FROM songs`)
	if err := row.Scan(&stats.TotalSongs, &stats.UniqueArtists, &stats.UniqueGenres, &stats.TotalDuration); err != nil {
		return nil, wrapErr(err)
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
		return nil, wrapErr(err)
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

func (b *PostgresBackend) topCounts(ctx context.Context, column string) ([]model.NamedCount, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+column+`, COUNT(*) AS cnt FROM songs
		WHERE `+column+` != ''
		GROUP BY `+column+`
		ORDER BY cnt DESC
		LIMIT 10`)
	if err != nil {
		return nil, wrapErr(err)
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

func (b *PostgresBackend) Genres(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT genre FROM genres ORDER BY genre")
	if err != nil {
		return nil, wrapErr(err)
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

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSong(row scanner) (*model.Song, error) {
	var song model.Song
	var extra []byte
	err := row.Scan(&song.ID, &song.Filename, &song.Artist, &song.Title, &song.Duration,
		&song.Genre, &song.BPM, &song.PreviewURL, &song.TrackID, &song.ArtworkURL,
		&song.ReleaseDate, &song.Ctime, &song.Mtime, &extra)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 && string(extra) != "{}" {
		if err := json.Unmarshal(extra, &song.Extra); err != nil {
			return nil, err
		}
	}
	return &song, nil
}

func scanEmbedding(row scanner) (*model.Embedding, error) {
	var emb model.Embedding
	var vec pgvector.Vector
	if err := row.Scan(&emb.ID, &emb.SongID, &emb.ModelName, &vec, &emb.Ctime); err != nil {
		return nil, err
	}
	emb.Vector = vec.Slice()
	return &emb, nil
}

// wrapErr maps driver failures onto the shared taxonomy. Connection-level
// problems become ErrBackendUnavailable so the resilience layer retries
// them; constraint violations are caller errors and stay permanent.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection, resources, operator intervention
			return appErr.Unavailablef("postgres: %v", err)
		case "22", "23": // data / integrity violations
			return fmt.Errorf("%w: %v", appErr.ErrValidation, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, sql.ErrConnDone) {
		return appErr.Unavailablef("postgres: %v", err)
	}
	return err
}
