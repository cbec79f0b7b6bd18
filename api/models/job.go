package models

import (
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	StatusError      JobStatus = "error"
)

// Terminal reports whether a job in this status will never transition again.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// StatusRecord is the cache entry for one fingerprint. On complete the
// metadata holds artifact URLs, available formats and source dimensions; on
// error it holds a failure description.
type StatusRecord struct {
	Fingerprint string                 `json:"fingerprint"`
	Status      JobStatus              `json:"status"`
	Metadata    map[string]interface{} `json:"metadata"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Job is the durable ledger row kept in Postgres. Unlike the cache entry it
// survives the status TTL, so terminal failures stay reportable.
type Job struct {
	Fingerprint  string
	TraceID      string
	SourceURL    string
	TargetWidth  *int
	Status       JobStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}
