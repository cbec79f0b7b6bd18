package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"imageOptimizer/worker/converter"
	"imageOptimizer/worker/kafka"
	"imageOptimizer/worker/repository"
)

const terminalWriteTimeout = 10 * time.Second

// Fetcher is the artifact side of the worker: source download plus original
// and derivative persistence.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
	SaveOriginal(data []byte, fp, ext string) error
	DerivativePath(format, fp string, width *int) string
}

type Codec interface {
	Convert(data []byte, fp string, widths []int, pathFor converter.PathFunc) (*converter.Result, error)
}

type StatusWriter interface {
	Set(ctx context.Context, fp, status string, metadata map[string]interface{}) error
}

// Processor executes one queued task end to end and publishes the terminal
// status. It never requeues: a failed task is recorded as an error and the
// delivery is acknowledged by the consumer regardless.
type Processor struct {
	fetcher Fetcher
	codec   Codec
	status  StatusWriter
	repo    repository.Repository
	logger  *zap.Logger

	baseURL       string
	defaultWidths []int
	taskTimeout   time.Duration
}

func NewProcessor(fetcher Fetcher, codec Codec, status StatusWriter, repo repository.Repository, logger *zap.Logger, baseURL string, defaultWidths []int, taskTimeout time.Duration) *Processor {
	return &Processor{
		fetcher:       fetcher,
		codec:         codec,
		status:        status,
		repo:          repo,
		logger:        logger,
		baseURL:       strings.TrimRight(baseURL, "/"),
		defaultWidths: defaultWidths,
		taskTimeout:   taskTimeout,
	}
}

// Process handles one delivery. The returned error is for logging only; the
// terminal status has already been written either way. The dispatch-time
// lock is deliberately left to lapse via its TTL, which suppresses immediate
// re-submission bursts for the same fingerprint.
func (p *Processor) Process(ctx context.Context, msg *kafka.TaskMessage) error {
	ctx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	defer cancel()

	start := time.Now()
	p.logger.Info("Processing task",
		zap.String("trace_id", msg.TraceID),
		zap.String("fingerprint", msg.Fingerprint),
		zap.String("source_url", msg.SourceURL),
	)

	metadata, err := p.process(ctx, msg)
	if err != nil {
		p.writeTerminal(msg, "error", map[string]interface{}{
			"error":  err.Error(),
			"source": msg.SourceURL,
		}, err.Error())
		return err
	}

	p.writeTerminal(msg, "complete", metadata, "")
	p.logger.Info("Task complete",
		zap.String("trace_id", msg.TraceID),
		zap.String("fingerprint", msg.Fingerprint),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (p *Processor) process(ctx context.Context, msg *kafka.TaskMessage) (map[string]interface{}, error) {
	data, ext, err := p.fetcher.Fetch(ctx, msg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}

	if err := p.fetcher.SaveOriginal(data, msg.Fingerprint, ext); err != nil {
		return nil, fmt.Errorf("save original: %w", err)
	}

	// An explicit target width overrides the configured default ladder.
	widths := p.defaultWidths
	if msg.TargetWidth != nil {
		widths = []int{*msg.TargetWidth}
	}

	result, err := p.codec.Convert(data, msg.Fingerprint, widths, func(format string, width *int) string {
		return p.fetcher.DerivativePath(format, msg.Fingerprint, width)
	})
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}

	formats := map[string]interface{}{
		"original": fmt.Sprintf("%s/storage/originals/%s%s", p.baseURL, msg.Fingerprint, ext),
	}
	for key := range result.Outputs {
		formats[key] = p.publicURL(key, msg.Fingerprint)
	}

	dimensions := map[string]interface{}{}
	for key, dims := range result.Dimensions {
		dimensions[key] = dims
	}

	return map[string]interface{}{
		"formats":    formats,
		"dimensions": dimensions,
		"source":     msg.SourceURL,
	}, nil
}

// writeTerminal publishes the terminal status with a fresh context: the task
// context may already be expired, and a timed-out job must still be able to
// record its failure.
func (p *Processor) writeTerminal(msg *kafka.TaskMessage, status string, metadata map[string]interface{}, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	if err := p.status.Set(ctx, msg.Fingerprint, status, metadata); err != nil {
		p.logger.Error("Terminal status write failed",
			zap.String("fingerprint", msg.Fingerprint),
			zap.String("status", status),
			zap.Error(err),
		)
	}

	if p.repo != nil {
		if err := p.repo.UpdateJobStatus(ctx, msg.Fingerprint, status, errMsg); err != nil {
			p.logger.Warn("Ledger update failed",
				zap.String("fingerprint", msg.Fingerprint),
				zap.Error(err),
			)
		}
	}
}

// publicURL rebuilds the serving URL for an output key ("avif" or
// "avif_800").
func (p *Processor) publicURL(key, fp string) string {
	format := key
	suffix := ""
	if i := strings.IndexByte(key, '_'); i >= 0 {
		format = key[:i]
		suffix = "_" + key[i+1:]
	}
	return fmt.Sprintf("%s/storage/processed/%s/%s%s.%s", p.baseURL, format, fp, suffix, format)
}
