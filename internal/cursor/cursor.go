// Package cursor implements the opaque pagination token used by ListSongs.
// A token encodes the (created_at, song_id) sort key of the last row served;
// callers pass it back verbatim and never construct or inspect it.
package cursor

import (
	"encoding/base64"
	"encoding/json"

	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

// Cursor is the decoded continuation point. Listing resumes strictly after
// this tuple in (created_at ASC, song_id ASC) order.
type Cursor struct {
	Ctime  int64  `json:"t"`
	SongID string `json:"s"`
}

func Encode(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func Decode(token string) (Cursor, error) {
	var c Cursor
	if token == "" {
		return c, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, appErr.Validationf("malformed cursor")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, appErr.Validationf("malformed cursor")
	}
	if c.SongID == "" && c.Ctime == 0 {
		return c, appErr.Validationf("malformed cursor")
	}
	return c, nil
}

// After reports whether the row (ctime, songID) sorts strictly after c.
func (c Cursor) After(ctime int64, songID string) bool {
	if ctime != c.Ctime {
		return ctime > c.Ctime
	}
	return songID > c.SongID
}

// Zero reports whether c is the start-of-listing cursor.
func (c Cursor) Zero() bool {
	return c.Ctime == 0 && c.SongID == ""
}
