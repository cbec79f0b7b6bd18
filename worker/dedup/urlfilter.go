package dedup

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// URLFilter applies near-duplicate detection to a batch of image URLs before
// they are dispatched. Fetch or decode failures degrade gracefully: such
// URLs are always kept and the real error surfaces during processing.
type URLFilter struct {
	client    *http.Client
	threshold float64
	logger    *zap.Logger
}

func NewURLFilter(threshold float64, logger *zap.Logger) *URLFilter {
	return &URLFilter{
		client:    &http.Client{Timeout: 30 * time.Second},
		threshold: threshold,
		logger:    logger,
	}
}

// FilterURLs returns the URLs whose images were accepted as cluster
// representatives, in input order.
func (f *URLFilter) FilterURLs(ctx context.Context, urls []string) []string {
	bodies := make([][]byte, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			bodies[i] = f.fetch(ctx, u)
		}(i, u)
	}
	wg.Wait()

	features := computeFeatures(bodies)

	var kept []string
	var accepted []int
	for i := range urls {
		if isDuplicate(features, accepted, i, f.threshold) {
			f.logger.Info("Dropping near-duplicate URL", zap.String("url", urls[i]))
			continue
		}
		accepted = append(accepted, i)
		kept = append(kept, urls[i])
	}
	return kept
}

func (f *URLFilter) fetch(ctx context.Context, url string) []byte {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("Duplicate-check fetch failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil
	}
	return data
}
