// Package pagination implements opaque keyset cursors over (created_at, id) ordered
// listings, newest first.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks the last row of a page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode returns the URL-safe form of c. A cursor without an ID encodes to "".
func (c Cursor) Encode() string {
	if c.ID == "" {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt.UTC().UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an encoded cursor. The empty string decodes to nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// Limit clamps a requested page size to (0, max], substituting def for non-positive values.
func Limit(requested, def, max int) int {
	if requested <= 0 {
		requested = def
	}
	if requested > max {
		return max
	}
	return requested
}
