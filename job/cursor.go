package job

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/propagentic/dispatch/id"
)

// Cursor marks a resumption point in a paginated listing. It is opaque to
// callers: stores mint cursors, clients echo them back verbatim. The zero
// Cursor means "from the beginning"; an empty Next cursor on a page means
// no further results.
type Cursor struct {
	// UpdatedAt and ID pin the last record of the previous page. Listings
	// order by UpdatedAt descending with ID as the tiebreak, so the pair
	// addresses a unique position even when timestamps collide.
	UpdatedAt time.Time
	ID        id.JobID
}

// cursorWire is the serialized form. Nanosecond precision survives the
// round trip; time.Time JSON encoding would truncate on some backends.
type cursorWire struct {
	UpdatedAtUnixNano int64  `json:"u"`
	ID                string `json:"i"`
}

// IsZero reports whether the cursor addresses the beginning.
func (c Cursor) IsZero() bool {
	return c.UpdatedAt.IsZero() && c.ID.IsNil()
}

// Encode serializes the cursor to an opaque URL-safe token.
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}

	w := cursorWire{
		UpdatedAtUnixNano: c.UpdatedAt.UnixNano(),
		ID:                c.ID.String(),
	}

	data, err := json.Marshal(w)
	if err != nil {
		// cursorWire contains only an int64 and a string.
		panic(fmt.Sprintf("job: marshal cursor: %v", err))
	}

	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token previously produced by Encode. An empty
// token decodes to the zero cursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("job: decode cursor: %w", err)
	}

	var w cursorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Cursor{}, fmt.Errorf("job: decode cursor: %w", err)
	}

	jobID, err := id.ParseJobID(w.ID)
	if err != nil {
		return Cursor{}, fmt.Errorf("job: decode cursor: %w", err)
	}

	return Cursor{
		UpdatedAt: time.Unix(0, w.UpdatedAtUnixNano).UTC(),
		ID:        jobID,
	}, nil
}

// Before reports whether the record position (updatedAt, jobID) sorts
// strictly after the cursor in the listing order, i.e. whether a record at
// that position belongs on pages following c.
func (c Cursor) Before(updatedAt time.Time, jobID id.JobID) bool {
	if c.IsZero() {
		return true
	}
	if updatedAt.Before(c.UpdatedAt) {
		return true
	}
	if updatedAt.Equal(c.UpdatedAt) {
		return jobID.String() > c.ID.String()
	}
	return false
}
