package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"imageOptimizer/api/database"
	"imageOptimizer/api/models"
)

const (
	statusKeyPrefix = "image:"
	lockKeyPrefix   = "lock:"
)

// StatusStore holds per-fingerprint job status and implements the
// per-fingerprint mutual-exclusion lock. Everything except AcquireLock is
// best-effort caching; entries silently expire after the status TTL.
type StatusStore struct {
	cache     *database.Cache
	statusTTL time.Duration
	lockTTL   time.Duration
}

func NewStatusStore(cache *database.Cache, statusTTL, lockTTL time.Duration) *StatusStore {
	return &StatusStore{
		cache:     cache,
		statusTTL: statusTTL,
		lockTTL:   lockTTL,
	}
}

// Get returns the record for a fingerprint, or (nil, nil) when nothing is
// cached.
func (s *StatusStore) Get(ctx context.Context, fp string) (*models.StatusRecord, error) {
	data, err := s.cache.Get(ctx, statusKeyPrefix+fp)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var record models.StatusRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Set overwrites the record unconditionally and stamps the current time.
func (s *StatusStore) Set(ctx context.Context, fp string, status models.JobStatus, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	record := models.StatusRecord{
		Fingerprint: fp,
		Status:      status,
		Metadata:    metadata,
		UpdatedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, statusKeyPrefix+fp, data, s.statusTTL)
}

// Delete removes the record unconditionally, e.g. to roll back a PENDING
// write whose task never made it to the queue.
func (s *StatusStore) Delete(ctx context.Context, fp string) error {
	return s.cache.Del(ctx, statusKeyPrefix+fp)
}

// GetBulk resolves N fingerprints in a single pipelined round trip. Absent
// fingerprints are missing from the returned map.
func (s *StatusStore) GetBulk(ctx context.Context, fps []string) (map[string]*models.StatusRecord, error) {
	keys := make([]string, len(fps))
	for i, fp := range fps {
		keys[i] = statusKeyPrefix + fp
	}

	values, err := s.cache.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*models.StatusRecord, len(values))
	for i, fp := range fps {
		data, ok := values[keys[i]]
		if !ok {
			continue
		}
		var record models.StatusRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		out[fp] = &record
	}
	return out, nil
}

// AcquireLock attempts the per-fingerprint processing lock. It is the single
// correctness-critical primitive: SET NX EX is atomic on the server, so two
// concurrent callers can never both see true. The lock is never renewed; a
// crashed holder is recovered only by TTL expiry.
func (s *StatusStore) AcquireLock(ctx context.Context, fp string) (bool, error) {
	return s.cache.SetNX(ctx, lockKeyPrefix+fp, "1", s.lockTTL)
}

// ReleaseLock deletes the lock unconditionally. Safe to call when no lock
// exists.
func (s *StatusStore) ReleaseLock(ctx context.Context, fp string) error {
	return s.cache.Del(ctx, lockKeyPrefix+fp)
}

// InFlight counts cached records that are not yet terminal, for health
// reporting.
func (s *StatusStore) InFlight(ctx context.Context) (int, error) {
	keys, err := s.cache.ScanKeys(ctx, statusKeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	values, err := s.cache.GetMulti(ctx, keys)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, data := range values {
		var record models.StatusRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		if !record.Status.Terminal() {
			count++
		}
	}
	return count, nil
}
