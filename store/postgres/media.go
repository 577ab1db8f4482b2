package postgres

import (
	"context"
	"fmt"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/media"
)

// Register records an uploaded attachment. Re-registering an ID overwrites
// the previous metadata.
func (s *Store) Register(ctx context.Context, a media.Attachment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatch_media (id, owner_id, content_type, size_bytes, uploaded_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			content_type = EXCLUDED.content_type,
			size_bytes = EXCLUDED.size_bytes`,
		a.ID, a.OwnerID, a.ContentType, a.SizeBytes, nullableTime(a.UploadedAt),
	)
	if err != nil {
		return dispatch.Unavailable(fmt.Errorf("dispatch/postgres: register media: %w", err))
	}
	return nil
}

// Exists reports whether every listed ID refers to a registered attachment.
func (s *Store) Exists(ctx context.Context, ids []id.MediaID) error {
	for _, mid := range ids {
		var found bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM dispatch_media WHERE id = $1)`, mid,
		).Scan(&found)
		if err != nil {
			return dispatch.Unavailable(fmt.Errorf("dispatch/postgres: check media: %w", err))
		}
		if !found {
			return fmt.Errorf("%w: %s", dispatch.ErrMediaNotFound, mid)
		}
	}
	return nil
}
