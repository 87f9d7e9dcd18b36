package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iaprender-user-sync/internal/database"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/lib/pq"
)

// syncRunRepo is the concrete implementation of SyncRunRepository
type syncRunRepo struct {
	db *database.DB
}

// NewSyncRunRepo creates a new sync run repository
func NewSyncRunRepo(db *database.DB) SyncRunRepository {
	return &syncRunRepo{db: db}
}

const selectRunColumns = `
	id, mode, target, status, idempotency_key, triggered_by,
	processed_count, succeeded_count, failed_count, created_count, updated_count,
	role_changes, group_fallbacks, duration_ms, records_per_sec, report_url, error,
	created_at, started_at, completed_at
`

// Create inserts a new run
func (r *syncRunRepo) Create(ctx context.Context, run *models.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, mode, target, status, idempotency_key, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.Mode, nullString(run.Target), run.Status,
		nullString(run.IdempotencyKey), nullString(run.TriggeredBy), run.CreatedAt,
	)
	return err
}

// Update updates run status and counters
func (r *syncRunRepo) Update(ctx context.Context, run *models.SyncRun) error {
	query := `
		UPDATE sync_runs SET
			status = $1, processed_count = $2, succeeded_count = $3, failed_count = $4,
			created_count = $5, updated_count = $6, role_changes = $7, group_fallbacks = $8,
			duration_ms = $9, records_per_sec = $10, report_url = $11, error = $12,
			started_at = $13, completed_at = $14
		WHERE id = $15
	`
	s := run.Summary
	_, err := r.db.ExecContext(ctx, query,
		run.Status, s.Processed, s.Succeeded, s.Failed,
		s.Created, s.Updated, s.RoleChanges, s.GroupFallbacks,
		run.DurationMs, run.RecordsPerSec, nullString(run.ReportURL), nullString(run.Error),
		run.StartedAt, run.CompletedAt, run.ID,
	)
	return err
}

// GetByID retrieves a run by ID
func (r *syncRunRepo) GetByID(ctx context.Context, id string) (*models.SyncRun, error) {
	query := `SELECT ` + selectRunColumns + ` FROM sync_runs WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIdempotencyKey retrieves a run by idempotency key
func (r *syncRunRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.SyncRun, error) {
	query := `SELECT ` + selectRunColumns + ` FROM sync_runs WHERE idempotency_key = $1`
	return r.getOne(ctx, query, key)
}

func (r *syncRunRepo) getOne(ctx context.Context, query string, arg string) (*models.SyncRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs first
func (r *syncRunRepo) List(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	query := `SELECT ` + selectRunColumns + ` FROM sync_runs ORDER BY created_at DESC LIMIT $1`
	return r.queryRuns(ctx, query, limit)
}

// GetPendingRuns retrieves the oldest pending runs
func (r *syncRunRepo) GetPendingRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	query := `SELECT ` + selectRunColumns + ` FROM sync_runs WHERE status = 'pending' ORDER BY created_at LIMIT $1`
	return r.queryRuns(ctx, query, limit)
}

func (r *syncRunRepo) queryRuns(ctx context.Context, query string, limit int) ([]*models.SyncRun, error) {
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunAsProcessing atomically claims a pending run
func (r *syncRunRepo) MarkRunAsProcessing(ctx context.Context, runID string) (bool, error) {
	query := `
		UPDATE sync_runs SET status = 'processing', started_at = $1
		WHERE id = $2 AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, time.Now(), runID)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// AddErrors stores per-identity failures with the COPY protocol
func (r *syncRunRepo) AddErrors(ctx context.Context, runID string, errs []models.SyncError) error {
	if len(errs) == 0 {
		return nil
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("sync_run_errors",
			"run_id", "external_id", "username", "stage", "message",
		))
		if err != nil {
			return fmt.Errorf("prepare copy: %w", err)
		}
		defer stmt.Close()

		for _, e := range errs {
			if _, err := stmt.ExecContext(ctx, runID, e.ExternalID, e.Username, e.Stage, e.Message); err != nil {
				return fmt.Errorf("copy error row: %w", err)
			}
		}

		// Flush the COPY buffer
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("flush copy: %w", err)
		}
		return nil
	})
}

// GetErrors retrieves recorded failures of a run in insertion order
func (r *syncRunRepo) GetErrors(ctx context.Context, runID string, limit int) ([]models.SyncError, error) {
	query := `SELECT external_id, username, stage, message FROM sync_run_errors WHERE run_id = $1 ORDER BY id`
	args := []interface{}{runID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []models.SyncError
	for rows.Next() {
		var e models.SyncError
		var externalID, username sql.NullString
		if err := rows.Scan(&externalID, &username, &e.Stage, &e.Message); err != nil {
			return nil, err
		}
		e.ExternalID = externalID.String
		e.Username = username.String
		errs = append(errs, e)
	}

	return errs, rows.Err()
}

// CountErrors returns how many failures a run recorded
func (r *syncRunRepo) CountErrors(ctx context.Context, runID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_run_errors WHERE run_id = $1`, runID).Scan(&count)
	return count, err
}

func scanRun(row rowScanner) (*models.SyncRun, error) {
	var run models.SyncRun
	var target, idempotencyKey, triggeredBy, reportURL, runErr sql.NullString
	var startedAt, completedAt sql.NullTime

	s := &run.Summary
	err := row.Scan(
		&run.ID, &run.Mode, &target, &run.Status, &idempotencyKey, &triggeredBy,
		&s.Processed, &s.Succeeded, &s.Failed, &s.Created, &s.Updated,
		&s.RoleChanges, &s.GroupFallbacks, &run.DurationMs, &run.RecordsPerSec, &reportURL, &runErr,
		&run.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Target = target.String
	run.IdempotencyKey = idempotencyKey.String
	run.TriggeredBy = triggeredBy.String
	run.ReportURL = reportURL.String
	run.Error = runErr.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	return &run, nil
}

// helper to convert empty string to NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
