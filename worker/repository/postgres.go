package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	UpdateJobStatus(ctx context.Context, fingerprint, status, errMsg string) error
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) UpdateJobStatus(ctx context.Context, fingerprint, status, errMsg string) error {
	query := `UPDATE jobs SET status = $1, error_message = $2, updated_at = NOW()`
	if status == "complete" || status == "error" {
		query += `, completed_at = NOW()`
	}
	query += ` WHERE fingerprint = $3`

	_, err := r.db.Exec(ctx, query, status, errMsg, fingerprint)
	return err
}
