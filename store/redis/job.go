package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

// commitRetries bounds the WATCH retry loop in CommitJob. Each retry
// re-reads the record, so version gates and transition preconditions are
// re-evaluated against the latest state.
const commitRetries = 8

// CreateJob stores the job as a Hash and indexes it by updated_at.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return dispatch.Unavailable(fmt.Errorf("dispatch/redis: create check exists: %w", err))
	}
	if exists > 0 {
		return dispatch.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.ZAdd(ctx, jobsByUpdatedKey, goredis.Z{Score: updatedScore(j.UpdatedAt), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return dispatch.Unavailable(fmt.Errorf("dispatch/redis: create job: %w", err))
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// QueryJobs walks the updated-at index newest-first, evaluates the filter
// in Go, and paginates with the cursor. The index score is millisecond
// precision, so ordering is re-checked exactly against the stored records.
func (s *Store) QueryJobs(ctx context.Context, f job.Filter, after job.Cursor, limit int) ([]*job.Job, job.Cursor, error) {
	ids, err := s.client.ZRevRange(ctx, jobsByUpdatedKey, 0, -1).Result()
	if err != nil {
		return nil, job.Cursor{}, dispatch.Unavailable(fmt.Errorf("dispatch/redis: query index: %w", err))
	}

	var matched []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			if errors.Is(getErr, dispatch.ErrJobNotFound) {
				continue // index entry outlived the record
			}
			return nil, job.Cursor{}, getErr
		}
		if !f.Match(j) {
			continue
		}
		if !after.Before(j.UpdatedAt, j.ID) {
			continue
		}
		matched = append(matched, j)
	}

	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].UpdatedAt.Equal(matched[b].UpdatedAt) {
			return matched[a].UpdatedAt.After(matched[b].UpdatedAt)
		}
		return matched[a].ID.String() < matched[b].ID.String()
	})

	var next job.Cursor
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
		last := matched[len(matched)-1]
		next = job.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}
	return matched, next, nil
}

// CommitJob applies mutate under a WATCH-based optimistic transaction.
// A concurrent write between read and EXEC aborts the attempt; the loop
// re-reads and re-evaluates the version gate and transition preconditions
// against the fresh record.
func (s *Store) CommitJob(ctx context.Context, jobID id.JobID, expectedVersion int64, mutate job.MutateFunc) (*job.Job, error) {
	jID := jobID.String()
	key := jobKey(jID)

	var committed *job.Job
	txn := func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return dispatch.Unavailable(fmt.Errorf("dispatch/redis: commit read: %w", err))
		}
		if len(vals) == 0 {
			return dispatch.ErrJobNotFound
		}
		j, err := mapToJob(vals)
		if err != nil {
			return err
		}

		if expectedVersion != job.VersionAny && j.Version != expectedVersion {
			return dispatch.ErrStaleState
		}

		if err := mutate(j); err != nil {
			return err
		}

		j.Version++
		j.UpdatedAt = time.Now().UTC()

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, jobToMap(j))
			pipe.ZAdd(ctx, jobsByUpdatedKey, goredis.Z{Score: updatedScore(j.UpdatedAt), Member: jID})
			return nil
		})
		if err != nil {
			return err
		}
		committed = j
		return nil
	}

	for i := 0; i < commitRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return committed, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, dispatch.Unavailable(fmt.Errorf("dispatch/redis: commit job %s: %w", jID, goredis.TxFailedErr))
}

// ── helpers ──

// updatedScore maps updated_at to an index score. Millisecond precision is
// enough for the index; exact ordering is restored from the records.
func updatedScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":          j.ID.String(),
		"landlord_id": j.LandlordID.String(),
		"title":       j.Title,
		"details":     j.Details,
		"category":    j.Category,
		"priority":    string(j.Priority),
		"status":      string(j.Status),
		"created_at":  j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  j.UpdatedAt.Format(time.RFC3339Nano),
		"version":     strconv.FormatInt(j.Version, 10),
	}
	// Nil-able references stored as empty strings.
	m["tenant_id"] = j.TenantID.String()
	m["contractor_id"] = j.ContractorID.String()

	m["decline_reasons"] = marshalJSON(j.DeclineReasons)
	m["progress_log"] = marshalJSON(j.ProgressLog)
	m["status_history"] = marshalJSON(j.StatusHistory)
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, dispatch.Unavailable(fmt.Errorf("dispatch/redis: get job: %w", err))
	}
	if len(vals) == 0 {
		return nil, dispatch.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: parse job id: %w", err)
	}

	version, _ := strconv.ParseInt(m["version"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: dispatch.Entity{
			CreatedAt: createdAt.UTC(),
			UpdatedAt: updatedAt.UTC(),
			Version:   version,
		},
		ID:       jID,
		Title:    m["title"],
		Details:  m["details"],
		Category: m["category"],
		Priority: job.Priority(m["priority"]),
		Status:   job.Status(m["status"]),
	}

	if v := m["landlord_id"]; v != "" {
		j.LandlordID, _ = id.ParseLandlordID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["tenant_id"]; v != "" {
		j.TenantID, _ = id.ParseTenantID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["contractor_id"]; v != "" {
		j.ContractorID, _ = id.ParseContractorID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	if v := m["decline_reasons"]; v != "" && v != "null" {
		reasons := make(map[string]string)
		_ = json.Unmarshal([]byte(v), &reasons) //nolint:errcheck // best-effort parse from trusted Redis data
		if len(reasons) > 0 {
			j.DeclineReasons = reasons
		}
	}
	if v := m["progress_log"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &j.ProgressLog) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["status_history"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &j.StatusHistory) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return j, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}
