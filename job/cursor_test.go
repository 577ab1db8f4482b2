package job

import (
	"testing"
	"time"

	"github.com/propagentic/dispatch/id"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	c := Cursor{
		UpdatedAt: time.Now().UTC().Truncate(0),
		ID:        id.NewJobID(),
	}

	token := c.Encode()
	if token == "" {
		t.Fatal("non-zero cursor encoded to empty token")
	}

	got, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !got.UpdatedAt.Equal(c.UpdatedAt) {
		t.Fatalf("updated_at mismatch: got %v, want %v", got.UpdatedAt, c.UpdatedAt)
	}
	if got.ID.String() != c.ID.String() {
		t.Fatalf("id mismatch: got %q, want %q", got.ID, c.ID)
	}
}

func TestCursorZero(t *testing.T) {
	t.Parallel()

	var c Cursor
	if !c.IsZero() {
		t.Fatal("zero cursor IsZero = false")
	}
	if c.Encode() != "" {
		t.Fatalf("zero cursor encoded to %q, want empty", c.Encode())
	}

	got, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("DecodeCursor(\"\"): %v", err)
	}
	if !got.IsZero() {
		t.Fatal("empty token decoded to non-zero cursor")
	}
}

func TestDecodeCursorErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "***"},
		{"not json", "bm90LWpzb24"},
		{"bad id", "eyJ1IjoxLCJpIjoibm9wZSJ9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeCursor(tt.token); err == nil {
				t.Fatalf("DecodeCursor(%q) succeeded, want error", tt.token)
			}
		})
	}
}

func TestCursorBefore(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	a := id.NewJobID()
	b := id.NewJobID() // sorts after a (UUIDv7)

	c := Cursor{UpdatedAt: now, ID: a}

	if !c.Before(now.Add(-time.Second), id.NewJobID()) {
		t.Fatal("older record should sort after the cursor")
	}
	if c.Before(now.Add(time.Second), id.NewJobID()) {
		t.Fatal("newer record should sort before the cursor")
	}
	if !c.Before(now, b) {
		t.Fatal("same timestamp, larger ID should sort after the cursor")
	}
	if c.Before(now, a) {
		t.Fatal("the cursor's own position is not after itself")
	}

	var zero Cursor
	if !zero.Before(now, a) {
		t.Fatal("zero cursor admits everything")
	}
}
