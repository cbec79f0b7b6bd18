package repository

import (
	"context"
	"errors"

	"imageOptimizer/api/models"
)

var ErrJobNotFound = errors.New("job not found")

type Repository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, fingerprint string) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, fingerprint string, status models.JobStatus, errorMessage string) error
}
