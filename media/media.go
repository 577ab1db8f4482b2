// Package media tracks uploaded attachments referenced by progress
// entries. The dispatch core never touches file bytes; uploads land in
// object storage elsewhere and register their IDs here so progress
// appends can verify references before committing.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
)

// Attachment is the metadata record for one uploaded file.
type Attachment struct {
	ID          id.MediaID `json:"id"`
	OwnerID     id.ID      `json:"owner_id"`
	ContentType string     `json:"content_type,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	UploadedAt  time.Time  `json:"uploaded_at"`
}

// Registry resolves media references.
type Registry interface {
	// Register records an uploaded attachment.
	Register(ctx context.Context, a Attachment) error

	// Exists reports whether every listed ID refers to a registered
	// attachment. Returns dispatch.ErrMediaNotFound naming the first
	// missing reference.
	Exists(ctx context.Context, ids []id.MediaID) error
}

// Memory is an in-process Registry. Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	attachments map[string]Attachment
}

var _ Registry = (*Memory)(nil)

// NewMemory returns an empty in-process registry.
func NewMemory() *Memory {
	return &Memory{attachments: make(map[string]Attachment)}
}

func (m *Memory) Register(_ context.Context, a Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.UploadedAt.IsZero() {
		a.UploadedAt = time.Now().UTC()
	}
	m.attachments[a.ID.String()] = a

	return nil
}

func (m *Memory) Exists(_ context.Context, ids []id.MediaID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mid := range ids {
		if _, ok := m.attachments[mid.String()]; !ok {
			return fmt.Errorf("%w: %s", dispatch.ErrMediaNotFound, mid)
		}
	}

	return nil
}
