package model

// Song is the authoritative catalog record for a single track. The map in
// Extra carries open-ended scalar metadata that has no dedicated column.
type Song struct {
	ID          string            `json:"song_id" db:"song_id"`
	Filename    string            `json:"filename" db:"filename"`
	Artist      string            `json:"artist" db:"artist"`
	Title       string            `json:"title" db:"title"`
	Duration    float64           `json:"duration" db:"duration"`
	Genre       string            `json:"genre" db:"genre"`
	BPM         int               `json:"bpm,omitempty" db:"bpm"`
	PreviewURL  string            `json:"preview_url" db:"preview_url"`
	TrackID     int64             `json:"track_id,omitempty" db:"track_id"`
	ArtworkURL  string            `json:"artwork_url" db:"artwork_url"`
	ReleaseDate string            `json:"release_date" db:"release_date"`
	Ctime       int64             `json:"created_at" db:"created_at"`
	Mtime       int64             `json:"updated_at" db:"updated_at"`
	Extra       map[string]string `json:"extra,omitempty" db:"-"`
}

// Embedding references exactly one song. A song holds at most one current
// embedding per model name.
type Embedding struct {
	ID        string    `json:"embedding_id" db:"embedding_id"`
	SongID    string    `json:"song_id" db:"song_id"`
	Vector    []float32 `json:"vector" db:"-"`
	ModelName string    `json:"model_name" db:"model_name"`
	Ctime     int64     `json:"created_at" db:"created_at"`
}
