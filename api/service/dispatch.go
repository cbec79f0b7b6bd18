package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"imageOptimizer/api/fingerprint"
	"imageOptimizer/api/htmltag"
	"imageOptimizer/api/kafka"
	"imageOptimizer/api/metrics"
	"imageOptimizer/api/models"
	"imageOptimizer/api/repository"
)

// StatusStore is the cache-side contract the dispatcher relies on.
// AcquireLock must be atomic; everything else may be stale within its TTL.
type StatusStore interface {
	Get(ctx context.Context, fp string) (*models.StatusRecord, error)
	Set(ctx context.Context, fp string, status models.JobStatus, metadata map[string]interface{}) error
	Delete(ctx context.Context, fp string) error
	GetBulk(ctx context.Context, fps []string) (map[string]*models.StatusRecord, error)
	AcquireLock(ctx context.Context, fp string) (bool, error)
	ReleaseLock(ctx context.Context, fp string) error
}

type Queue interface {
	Enqueue(ctx context.Context, msg *kafka.TaskMessage) error
	EnqueueBulk(ctx context.Context, msgs []*kafka.TaskMessage) error
}

// ArtifactStore answers whether a finished result is already on disk, so a
// cold cache after restart does not trigger reprocessing.
type ArtifactStore interface {
	OptimizedExists(fp string, width *int) bool
	AvailableFormats(fp string, width *int) map[string]string
}

// Deduper filters perceptual near-duplicates out of a URL batch.
type Deduper interface {
	FilterURLs(ctx context.Context, urls []string) []string
}

type DispatchResult struct {
	SourceURL   string
	Fingerprint string
	Status      models.JobStatus
	Formats     map[string]string
	Dimensions  map[string]string
	Error       string
}

type HTMLResult struct {
	Status        models.JobStatus
	OptimizedHTML string
}

// Dispatcher is the request-facing state machine. It never blocks on
// completion: callers observe results by repeating the same dispatch call.
type Dispatcher struct {
	store     StatusStore
	queue     Queue
	artifacts ArtifactStore
	repo      repository.Repository
	deduper   Deduper
	logger    *zap.Logger
}

func NewDispatcher(store StatusStore, queue Queue, artifacts ArtifactStore, repo repository.Repository, deduper Deduper, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		queue:     queue,
		artifacts: artifacts,
		repo:      repo,
		deduper:   deduper,
		logger:    logger,
	}
}

// Dispatch decides cache-hit / in-progress / newly-submitted for one source
// URL within a single store round trip on the hot path.
func (d *Dispatcher) Dispatch(ctx context.Context, traceID, sourceURL string, targetWidth *int) (*DispatchResult, error) {
	fp := fingerprint.FromString(sourceURL)

	record, err := d.store.Get(ctx, fp)
	if err != nil {
		// Status reads are best-effort; a degraded cache must not take the
		// endpoint down with it.
		d.logger.Warn("Status read failed", zap.String("trace_id", traceID), zap.Error(err))
	}
	if res := d.resolveExisting(ctx, fp, targetWidth, record); res != nil {
		res.SourceURL = sourceURL
		return res, nil
	}

	res, err := d.submit(ctx, traceID, sourceURL, fp, targetWidth)
	if res != nil {
		res.SourceURL = sourceURL
	}
	return res, err
}

// DispatchBatch runs the same state machine over N URLs with one bulk status
// read and one bulk enqueue for all newly accepted items. Locks are still
// taken per item; there is no cross-item atomicity.
func (d *Dispatcher) DispatchBatch(ctx context.Context, traceID string, urls []string, checkDuplicates bool) ([]*DispatchResult, error) {
	if checkDuplicates && d.deduper != nil {
		urls = d.deduper.FilterURLs(ctx, urls)
	}

	fps := make([]string, len(urls))
	for i, u := range urls {
		fps[i] = fingerprint.FromString(u)
	}

	records, err := d.store.GetBulk(ctx, fps)
	if err != nil {
		d.logger.Warn("Bulk status read failed", zap.String("trace_id", traceID), zap.Error(err))
		records = map[string]*models.StatusRecord{}
	}

	results := make([]*DispatchResult, len(urls))
	var accepted []*kafka.TaskMessage

	for i, u := range urls {
		fp := fps[i]
		if res := d.resolveExisting(ctx, fp, nil, records[fp]); res != nil {
			res.SourceURL = u
			results[i] = res
			continue
		}

		res, msg := d.accept(ctx, traceID, u, fp, nil)
		res.SourceURL = u
		results[i] = res
		if msg != nil {
			accepted = append(accepted, msg)
		}
	}

	if len(accepted) > 0 {
		if err := d.queue.EnqueueBulk(ctx, accepted); err != nil {
			d.logger.Error("Bulk enqueue failed", zap.String("trace_id", traceID), zap.Error(err))
			for _, msg := range accepted {
				d.rollbackAccept(ctx, msg.Fingerprint)
				for _, res := range results {
					if res.Fingerprint == msg.Fingerprint {
						res.Status = models.StatusError
						res.Error = "failed to enqueue task"
					}
				}
			}
		} else {
			for range accepted {
				metrics.TasksEnqueuedTotal.Inc()
			}
		}
	}

	return results, nil
}

// DispatchHTML extracts the first <img> from a fragment, dispatches its
// source and, when the result is already complete, rewrites the fragment as
// a <picture> element.
func (d *Dispatcher) DispatchHTML(ctx context.Context, traceID, fragment string) (*HTMLResult, error) {
	tag, err := htmltag.ParseImgTag(fragment)
	if err != nil {
		return nil, err
	}

	res, err := d.Dispatch(ctx, traceID, tag.Src, nil)
	if err != nil {
		return nil, err
	}

	out := &HTMLResult{Status: res.Status}
	if res.Status == models.StatusComplete {
		out.OptimizedHTML = htmltag.BuildPictureTag(
			res.Formats["avif"],
			res.Formats["webp"],
			res.Formats["original"],
			tag.Attrs,
		)
	}
	return out, nil
}

// resolveExisting handles the read-only outcomes: a terminal cached record,
// artifacts already on disk (backfilled into the cache), or a terminal
// ledger row that outlived its cache entry. Returns nil when the fingerprint
// needs submission.
func (d *Dispatcher) resolveExisting(ctx context.Context, fp string, targetWidth *int, record *models.StatusRecord) *DispatchResult {
	if record != nil {
		switch record.Status {
		case models.StatusComplete:
			metrics.DispatchTotal.WithLabelValues("cached").Inc()
			return resultFromRecord(record)
		case models.StatusPending, models.StatusProcessing:
			metrics.DispatchTotal.WithLabelValues("in_progress").Inc()
			return &DispatchResult{Fingerprint: fp, Status: record.Status}
		case models.StatusError:
			metrics.DispatchTotal.WithLabelValues("error").Inc()
			return resultFromRecord(record)
		}
	}

	if d.artifacts.OptimizedExists(fp, targetWidth) {
		formats := d.artifacts.AvailableFormats(fp, targetWidth)
		metadata := map[string]interface{}{"formats": formats}
		if err := d.store.Set(ctx, fp, models.StatusComplete, metadata); err != nil {
			d.logger.Warn("Cache backfill failed", zap.String("fingerprint", fp), zap.Error(err))
		}
		metrics.DispatchTotal.WithLabelValues("cached").Inc()
		return &DispatchResult{Fingerprint: fp, Status: models.StatusComplete, Formats: formats}
	}

	if record == nil && d.repo != nil {
		job, err := d.repo.GetJob(ctx, fp)
		if err == nil && job.Status == models.StatusError {
			metrics.DispatchTotal.WithLabelValues("error").Inc()
			return &DispatchResult{Fingerprint: fp, Status: models.StatusError, Error: job.ErrorMessage}
		}
		if err != nil && !errors.Is(err, repository.ErrJobNotFound) {
			d.logger.Warn("Ledger read failed", zap.String("fingerprint", fp), zap.Error(err))
		}
	}

	return nil
}

// submit is the single-item tail of the state machine: lock, pending write,
// enqueue.
func (d *Dispatcher) submit(ctx context.Context, traceID, sourceURL, fp string, targetWidth *int) (*DispatchResult, error) {
	res, msg := d.accept(ctx, traceID, sourceURL, fp, targetWidth)
	if msg == nil {
		return res, nil
	}

	if err := d.queue.Enqueue(ctx, msg); err != nil {
		// The PENDING record written in accept would otherwise answer every
		// retry as in-progress until the status TTL; clear it together with
		// the lock so the next dispatch starts fresh.
		d.rollbackAccept(ctx, fp)
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	metrics.TasksEnqueuedTotal.Inc()
	return res, nil
}

// accept attempts the lock and, on success, writes PENDING, records the
// ledger row and returns the task to publish. On lock contention it reports
// the holder's status instead. While the lock is held at most one task for
// the fingerprint can ever be produced.
func (d *Dispatcher) accept(ctx context.Context, traceID, sourceURL, fp string, targetWidth *int) (*DispatchResult, *kafka.TaskMessage) {
	acquired, err := d.store.AcquireLock(ctx, fp)
	if err != nil {
		d.logger.Error("Lock acquire failed", zap.String("fingerprint", fp), zap.Error(err))
		return &DispatchResult{Fingerprint: fp, Status: models.StatusError, Error: "coordination store unavailable"}, nil
	}

	if !acquired {
		// Another dispatcher won the race. Report its status; if its PENDING
		// write has not landed yet, report a generic in-progress.
		metrics.DispatchTotal.WithLabelValues("in_progress").Inc()
		if record, err := d.store.Get(ctx, fp); err == nil && record != nil {
			return &DispatchResult{Fingerprint: fp, Status: record.Status}, nil
		}
		return &DispatchResult{Fingerprint: fp, Status: models.StatusProcessing}, nil
	}

	if err := d.store.Set(ctx, fp, models.StatusPending, nil); err != nil {
		d.logger.Warn("Pending status write failed", zap.String("fingerprint", fp), zap.Error(err))
	}

	if d.repo != nil {
		job := &models.Job{
			Fingerprint: fp,
			TraceID:     traceID,
			SourceURL:   sourceURL,
			TargetWidth: targetWidth,
			Status:      models.StatusPending,
		}
		if err := d.repo.CreateJob(ctx, job); err != nil {
			d.logger.Warn("Ledger insert failed", zap.String("fingerprint", fp), zap.Error(err))
		}
	}

	metrics.DispatchTotal.WithLabelValues("pending").Inc()
	return &DispatchResult{Fingerprint: fp, Status: models.StatusPending}, &kafka.TaskMessage{
		TaskType:    kafka.TaskTypeProcessURL,
		TraceID:     traceID,
		SourceURL:   sourceURL,
		Fingerprint: fp,
		TargetWidth: targetWidth,
	}
}

// rollbackAccept undoes accept's side effects after a failed publish: the
// PENDING record and the lock both go away so the fingerprint is immediately
// dispatchable again.
func (d *Dispatcher) rollbackAccept(ctx context.Context, fp string) {
	if err := d.store.Delete(ctx, fp); err != nil {
		d.logger.Warn("Pending status cleanup failed", zap.String("fingerprint", fp), zap.Error(err))
	}
	if err := d.store.ReleaseLock(ctx, fp); err != nil {
		d.logger.Warn("Lock release failed", zap.String("fingerprint", fp), zap.Error(err))
	}
}

func resultFromRecord(record *models.StatusRecord) *DispatchResult {
	res := &DispatchResult{
		Fingerprint: record.Fingerprint,
		Status:      record.Status,
		Formats:     stringMap(record.Metadata["formats"]),
		Dimensions:  stringMap(record.Metadata["dimensions"]),
	}
	if msg, ok := record.Metadata["error"].(string); ok {
		res.Error = msg
	}
	return res
}

// stringMap coerces metadata that went through a JSON round trip back into a
// flat string map.
func stringMap(v interface{}) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]interface{}:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
