package model

// SearchResult is produced per query and never persisted. Component scores
// are kept for explainability; zero value means the component did not run.
type SearchResult struct {
	SongID       string  `json:"song_id"`
	Score        float64 `json:"score"`
	FTSScore     float64 `json:"fts_score,omitempty"`
	TrigramScore float64 `json:"trigram_score,omitempty"`
	VectorScore  float64 `json:"vector_score,omitempty"`
	Song         *Song   `json:"song,omitempty"`
}

// LibraryStats aggregates catalog-wide counters for the dashboard surface.
type LibraryStats struct {
	TotalSongs    int64        `json:"total_songs"`
	UniqueArtists int64        `json:"unique_artists"`
	UniqueGenres  int64        `json:"unique_genres"`
	TotalDuration float64      `json:"total_duration"`
	TopArtists    []NamedCount `json:"top_artists"`
	TopGenres     []NamedCount `json:"top_genres"`
	RecentSongs   []Song       `json:"recent_songs"`
}

type NamedCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}
