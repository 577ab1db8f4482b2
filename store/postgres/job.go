package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

const jobColumns = `
	id, landlord_id, tenant_id, contractor_id,
	title, details, category, priority, status,
	decline_reasons, progress_log, status_history,
	created_at, updated_at, version`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	declines, progress, history, err := marshalJSONColumns(j)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO dispatch_jobs (
			id, landlord_id, tenant_id, contractor_id,
			title, details, category, priority, status,
			decline_reasons, progress_log, status_history,
			created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15
		)`,
		j.ID, j.LandlordID, j.TenantID, j.ContractorID,
		j.Title, j.Details, j.Category, string(j.Priority), string(j.Status),
		declines, progress, history,
		j.CreatedAt, j.UpdatedAt, j.Version,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return dispatch.ErrJobAlreadyExists
		}
		return dispatch.Unavailable(fmt.Errorf("dispatch/postgres: create job: %w", err))
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM dispatch_jobs WHERE id = $1`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrJobNotFound
		}
		return nil, dispatch.Unavailable(fmt.Errorf("dispatch/postgres: get job: %w", err))
	}
	return j, nil
}

// QueryJobs returns at most limit jobs matching the filter, ordered by
// updated_at descending with id as tiebreak, starting after the cursor.
func (s *Store) QueryJobs(ctx context.Context, f job.Filter, after job.Cursor, limit int) ([]*job.Job, job.Cursor, error) {
	where, args := compileFilter(f)

	if !after.IsZero() {
		args = append(args, after.UpdatedAt)
		tsIdx := len(args)
		args = append(args, after.ID)
		idIdx := len(args)
		where = append(where, fmt.Sprintf(
			"(updated_at < $%d OR (updated_at = $%d AND id > $%d))", tsIdx, tsIdx, idIdx))
	}

	query := `SELECT ` + jobColumns + ` FROM dispatch_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC"
	if limit > 0 {
		// One extra row tells us whether another page exists.
		args = append(args, limit+1)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, job.Cursor{}, dispatch.Unavailable(fmt.Errorf("dispatch/postgres: query jobs: %w", err))
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, job.Cursor{}, dispatch.Unavailable(fmt.Errorf("dispatch/postgres: query jobs: %w", err))
	}

	var next job.Cursor
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
		last := jobs[len(jobs)-1]
		next = job.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}
	return jobs, next, nil
}

// CommitJob atomically applies mutate to the stored job. The row is locked
// with SELECT ... FOR UPDATE for the duration of the transaction, so
// concurrent commits on the same job serialize; the version gate rejects
// commits against a record the caller has not seen.
func (s *Store) CommitJob(ctx context.Context, jobID id.JobID, expectedVersion int64, mutate job.MutateFunc) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, dispatch.Unavailable(fmt.Errorf("dispatch/postgres: begin commit: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM dispatch_jobs WHERE id = $1 FOR UPDATE`,
		jobID,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrJobNotFound
		}
		return nil, dispatch.Unavailable(fmt.Errorf("dispatch/postgres: lock job: %w", err))
	}

	if expectedVersion != job.VersionAny && j.Version != expectedVersion {
		return nil, dispatch.ErrStaleState
	}

	if err := mutate(j); err != nil {
		return nil, err
	}

	j.Version++
	j.UpdatedAt = time.Now().UTC()

	declines, progress, history, err := marshalJSONColumns(j)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE dispatch_jobs SET
			landlord_id = $2, tenant_id = $3, contractor_id = $4,
			title = $5, details = $6, category = $7, priority = $8, status = $9,
			decline_reasons = $10, progress_log = $11, status_history = $12,
			updated_at = $13, version = $14
		WHERE id = $1`,
		j.ID, j.LandlordID, j.TenantID, j.ContractorID,
		j.Title, j.Details, j.Category, string(j.Priority), string(j.Status),
		declines, progress, history,
		j.UpdatedAt, j.Version,
	)
	if err != nil {
		return nil, dispatch.Unavailable(fmt.Errorf("dispatch/postgres: write job: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, dispatch.Unavailable(fmt.Errorf("dispatch/postgres: commit job: %w", err))
	}
	return j, nil
}

// compileFilter turns a job.Filter into SQL predicates. The predicates
// mirror Filter.Match exactly; the memory backend evaluates the same
// conditions in Go.
func compileFilter(f job.Filter) ([]string, []any) {
	var where []string
	var args []any

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !f.ContractorID.IsNil() {
		args = append(args, f.ContractorID)
		where = append(where, fmt.Sprintf("contractor_id = $%d", len(args)))
	}
	if !f.LandlordID.IsNil() {
		args = append(args, f.LandlordID)
		where = append(where, fmt.Sprintf("landlord_id = $%d", len(args)))
	}
	if !f.TenantID.IsNil() {
		args = append(args, f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if f.OpenPool {
		where = append(where, "status = 'pending_acceptance'", "contractor_id IS NULL")
	}
	if !f.NotDeclinedBy.IsNil() {
		args = append(args, f.NotDeclinedBy.String())
		where = append(where, fmt.Sprintf("NOT (decline_reasons ? $%d)", len(args)))
	}
	return where, args
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j        job.Job
		priority string
		status   string
		declines []byte
		progress []byte
		history  []byte
	)

	err := row.Scan(
		&j.ID, &j.LandlordID, &j.TenantID, &j.ContractorID,
		&j.Title, &j.Details, &j.Category, &priority, &status,
		&declines, &progress, &history,
		&j.CreatedAt, &j.UpdatedAt, &j.Version,
	)
	if err != nil {
		return nil, err
	}

	j.Priority = job.Priority(priority)
	j.Status = job.Status(status)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()

	if err := json.Unmarshal(declines, &j.DeclineReasons); err != nil {
		return nil, fmt.Errorf("unmarshal decline_reasons: %w", err)
	}
	if err := json.Unmarshal(progress, &j.ProgressLog); err != nil {
		return nil, fmt.Errorf("unmarshal progress_log: %w", err)
	}
	if err := json.Unmarshal(history, &j.StatusHistory); err != nil {
		return nil, fmt.Errorf("unmarshal status_history: %w", err)
	}
	if len(j.DeclineReasons) == 0 {
		j.DeclineReasons = nil
	}
	if len(j.ProgressLog) == 0 {
		j.ProgressLog = nil
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func marshalJSONColumns(j *job.Job) (declines, progress, history []byte, err error) {
	declineReasons := j.DeclineReasons
	if declineReasons == nil {
		declineReasons = map[string]string{}
	}
	if declines, err = json.Marshal(declineReasons); err != nil {
		return nil, nil, nil, fmt.Errorf("dispatch/postgres: marshal decline_reasons: %w", err)
	}

	progressLog := j.ProgressLog
	if progressLog == nil {
		progressLog = []job.ProgressEntry{}
	}
	if progress, err = json.Marshal(progressLog); err != nil {
		return nil, nil, nil, fmt.Errorf("dispatch/postgres: marshal progress_log: %w", err)
	}

	statusHistory := j.StatusHistory
	if statusHistory == nil {
		statusHistory = []job.StatusChange{}
	}
	if history, err = json.Marshal(statusHistory); err != nil {
		return nil, nil, nil, fmt.Errorf("dispatch/postgres: marshal status_history: %w", err)
	}
	return declines, progress, history, nil
}
