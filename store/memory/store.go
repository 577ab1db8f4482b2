package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
	"github.com/propagentic/dispatch/media"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store      = (*Store)(nil)
	_ media.Registry = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs  map[string]*job.Job
	files map[string]media.Attachment

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[string]*job.Job),
		files: make(map[string]media.Attachment),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close marks the store closed. Subsequent operations fail.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return dispatch.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return dispatch.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, dispatch.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, dispatch.ErrJobNotFound
	}
	return j.Clone(), nil
}

// QueryJobs returns at most limit matching jobs ordered by UpdatedAt
// descending with ID tiebreak, starting after the cursor.
func (m *Store) QueryJobs(_ context.Context, f job.Filter, after job.Cursor, limit int) ([]*job.Job, job.Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, job.Cursor{}, dispatch.ErrStoreClosed
	}

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !f.Match(j) {
			continue
		}
		if !after.Before(j.UpdatedAt, j.ID) {
			continue
		}
		candidates = append(candidates, j)
	}

	// UpdatedAt DESC, ID ASC.
	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	var next job.Cursor
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
		last := candidates[len(candidates)-1]
		next = job.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		result[i] = j.Clone()
	}
	return result, next, nil
}

// CommitJob atomically applies mutate to the stored job under the store
// lock, so the mutate precondition and the write cannot interleave with a
// concurrent commit on the same job.
func (m *Store) CommitJob(_ context.Context, jobID id.JobID, expectedVersion int64, mutate job.MutateFunc) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, dispatch.ErrStoreClosed
	}

	stored, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, dispatch.ErrJobNotFound
	}

	if expectedVersion != job.VersionAny && stored.Version != expectedVersion {
		return nil, fmt.Errorf("%w: version %d, expected %d",
			dispatch.ErrStaleState, stored.Version, expectedVersion)
	}

	// Mutate a clone so a failed mutate leaves the record untouched.
	cp := stored.Clone()
	if err := mutate(cp); err != nil {
		return nil, err
	}

	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[jobID.String()] = cp

	return cp.Clone(), nil
}

// ──────────────────────────────────────────────────
// Media Registry
// ──────────────────────────────────────────────────

// Register records an uploaded attachment.
func (m *Store) Register(_ context.Context, a media.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return dispatch.ErrStoreClosed
	}

	if a.UploadedAt.IsZero() {
		a.UploadedAt = time.Now().UTC()
	}
	m.files[a.ID.String()] = a
	return nil
}

// Exists verifies that every listed media ID is registered.
func (m *Store) Exists(_ context.Context, ids []id.MediaID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return dispatch.ErrStoreClosed
	}

	for _, mid := range ids {
		if _, ok := m.files[mid.String()]; !ok {
			return fmt.Errorf("%w: %s", dispatch.ErrMediaNotFound, mid)
		}
	}
	return nil
}
