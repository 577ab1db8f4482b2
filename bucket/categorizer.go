package bucket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

// Page is one page of a bucket listing.
type Page struct {
	Jobs []*job.Job
	// Next resumes the listing; empty means exhausted.
	Next string
	// Stale is set when the backend was unavailable and the page came
	// from the last-known-good cache.
	Stale bool
	// FetchedAt is when the page's data was read from the backend.
	FetchedAt time.Time
}

// Categorizer serves store-backed bucket listings. First pages are cached
// per viewer and bucket; when the backend reports dispatch.ErrUnavailable
// the cached page is served marked stale, and the cache is never replaced
// with an error result.
type Categorizer struct {
	store    job.Store
	logger   *slog.Logger
	pageSize int

	cache *lastKnownGood
}

// Option configures a Categorizer.
type Option func(*Categorizer)

// WithPageSize sets the default page size for listings.
func WithPageSize(n int) Option {
	return func(c *Categorizer) { c.pageSize = n }
}

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 20

// New builds a categorizer over the given store.
func New(store job.Store, logger *slog.Logger, opts ...Option) *Categorizer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Categorizer{
		store:    store,
		logger:   logger,
		pageSize: DefaultPageSize,
		cache:    newLastKnownGood(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns one page of the viewer's bucket, ordered by most recently
// updated first. cursor is an opaque token from a previous page; empty
// starts from the top. limit <= 0 uses the configured page size.
func (c *Categorizer) List(ctx context.Context, v Viewer, b Bucket, cursor string, limit int) (*Page, error) {
	if !b.Valid() {
		return nil, dispatch.ErrInvalidBucket
	}
	if limit <= 0 {
		limit = c.pageSize
	}

	after, err := job.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	jobs, next, qerr := c.store.QueryJobs(ctx, v.filter(b), after, limit)
	if qerr != nil {
		if errors.Is(qerr, dispatch.ErrUnavailable) {
			if cached, ok := c.cache.get(v, b, cursor); ok {
				c.logger.Warn("bucket listing degraded to cache",
					slog.String("role", string(v.Role)),
					slog.String("viewer_id", v.ID.String()),
					slog.String("bucket", string(b)),
				)
				return cached, nil
			}
		}
		return nil, qerr
	}

	page := &Page{
		Jobs:      jobs,
		Next:      next.Encode(),
		FetchedAt: time.Now().UTC(),
	}
	c.cache.put(v, b, cursor, page)
	return page, nil
}

// ListAvailable returns one page of the open pool as seen by a
// contractor: unassigned pending jobs, minus those the contractor has
// declined.
func (c *Categorizer) ListAvailable(ctx context.Context, contractorID id.ContractorID, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = c.pageSize
	}

	after, err := job.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	f := job.Filter{OpenPool: true, NotDeclinedBy: contractorID}
	jobs, next, qerr := c.store.QueryJobs(ctx, f, after, limit)
	if qerr != nil {
		if errors.Is(qerr, dispatch.ErrUnavailable) {
			v := Viewer{Role: RoleContractor, ID: contractorID}
			if cached, ok := c.cache.get(v, bucketPool, cursor); ok {
				return cached, nil
			}
		}
		return nil, qerr
	}

	page := &Page{
		Jobs:      jobs,
		Next:      next.Encode(),
		FetchedAt: time.Now().UTC(),
	}
	c.cache.put(Viewer{Role: RoleContractor, ID: contractorID}, bucketPool, cursor, page)
	return page, nil
}

// bucketPool is the internal cache partition for open-pool listings. It
// is not a viewer-facing bucket.
const bucketPool Bucket = "pool"
