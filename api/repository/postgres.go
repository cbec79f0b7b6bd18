package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"imageOptimizer/api/database"
	"imageOptimizer/api/models"
)

type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) Repository {
	return &PostgresRepo{db: db}
}

// CreateJob inserts the ledger row for a newly accepted fingerprint. A
// re-dispatch after lock expiry of a failed job hits the same primary key, so
// the row is reset to the incoming state instead of erroring.
func (r *PostgresRepo) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (fingerprint, trace_id, source_url, target_width, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) DO UPDATE
		SET trace_id = EXCLUDED.trace_id,
		    status = EXCLUDED.status,
		    error_message = '',
		    completed_at = NULL,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`

	return r.db.Pool.QueryRow(ctx, query,
		job.Fingerprint,
		job.TraceID,
		job.SourceURL,
		job.TargetWidth,
		job.Status,
		job.ErrorMessage,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (r *PostgresRepo) GetJob(ctx context.Context, fingerprint string) (*models.Job, error) {
	query := `
		SELECT fingerprint, trace_id, source_url, target_width, status, error_message, created_at, updated_at, completed_at
		FROM jobs
		WHERE fingerprint = $1
	`

	row := r.db.Pool.QueryRow(ctx, query, fingerprint)

	var job models.Job
	err := row.Scan(
		&job.Fingerprint,
		&job.TraceID,
		&job.SourceURL,
		&job.TargetWidth,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return &job, nil
}

func (r *PostgresRepo) UpdateJobStatus(ctx context.Context, fingerprint string, status models.JobStatus, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $1, error_message = $2, updated_at = NOW()
	`
	if status.Terminal() {
		query += `, completed_at = NOW()`
	}
	query += ` WHERE fingerprint = $3`

	result, err := r.db.Pool.Exec(ctx, query, status, errorMessage, fingerprint)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}
