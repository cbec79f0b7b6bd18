package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "image:"

// statusRecord mirrors the api-side cache entry shape; the worker writes the
// same JSON the dispatcher reads.
type statusRecord struct {
	Fingerprint string                 `json:"fingerprint"`
	Status      string                 `json:"status"`
	Metadata    map[string]interface{} `json:"metadata"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// StatusWriter publishes terminal job status back into the shared cache.
type StatusWriter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusWriter(client *redis.Client, ttl time.Duration) *StatusWriter {
	return &StatusWriter{client: client, ttl: ttl}
}

func (w *StatusWriter) Set(ctx context.Context, fp, status string, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	record := statusRecord{
		Fingerprint: fp,
		Status:      status,
		Metadata:    metadata,
		UpdatedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return w.client.Set(ctx, statusKeyPrefix+fp, data, w.ttl).Err()
}
