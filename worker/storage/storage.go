package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxImageBytes = 50 << 20

var (
	ErrNotAnImage  = errors.New("fetched content is not an image")
	ErrFetchFailed = errors.New("image fetch failed")
	ErrImageTooBig = errors.New("image exceeds size limit")
)

// Store fetches source images and persists originals and derivatives under
// the shared storage root.
type Store struct {
	basePath string
	client   *http.Client
}

func NewStore(basePath string) (*Store, error) {
	dirs := []string{
		filepath.Join(basePath, "originals"),
		filepath.Join(basePath, "processed", "avif"),
		filepath.Join(basePath, "processed", "webp"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	return &Store{
		basePath: basePath,
		client:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Fetch downloads the source image and returns its bytes plus a file
// extension inferred from the response. Non-image content is rejected here,
// before any codec work.
func (s *Store) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", ErrImageTooBig
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		// Some origins lie or omit the header; sniff before rejecting.
		contentType = http.DetectContentType(data)
		if !strings.HasPrefix(contentType, "image/") {
			return nil, "", fmt.Errorf("%w: content-type %s", ErrNotAnImage, contentType)
		}
	}

	return data, extensionFor(contentType), nil
}

func (s *Store) SaveOriginal(data []byte, fp, ext string) error {
	path := filepath.Join(s.basePath, "originals", fp+ext)
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) DerivativePath(format, fp string, width *int) string {
	name := fp
	if width != nil {
		name = fmt.Sprintf("%s_%d", fp, *width)
	}
	return filepath.Join(s.basePath, "processed", format, name+"."+format)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".jpg"
	}
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/avif":
		return ".avif"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".jpg"
}
