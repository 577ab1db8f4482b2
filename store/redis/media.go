package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/media"
)

// Register records an uploaded attachment as a Hash.
func (s *Store) Register(ctx context.Context, a media.Attachment) error {
	uploaded := a.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now().UTC()
	}

	err := s.client.HSet(ctx, mediaKey(a.ID.String()), map[string]interface{}{
		"id":           a.ID.String(),
		"owner_id":     a.OwnerID.String(),
		"content_type": a.ContentType,
		"size_bytes":   strconv.FormatInt(a.SizeBytes, 10),
		"uploaded_at":  uploaded.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return dispatch.Unavailable(fmt.Errorf("dispatch/redis: register media: %w", err))
	}
	return nil
}

// Exists reports whether every listed ID refers to a registered attachment.
func (s *Store) Exists(ctx context.Context, ids []id.MediaID) error {
	for _, mid := range ids {
		n, err := s.client.Exists(ctx, mediaKey(mid.String())).Result()
		if err != nil {
			return dispatch.Unavailable(fmt.Errorf("dispatch/redis: check media: %w", err))
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", dispatch.ErrMediaNotFound, mid)
		}
	}
	return nil
}
