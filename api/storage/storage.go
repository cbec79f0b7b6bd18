package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Formats produced by the worker. Both must exist on disk for a fingerprint
// to count as done.
var derivativeFormats = []string{"avif", "webp"}

// Manager knows the on-disk artifact layout and the public URLs derived from
// it. Originals live at originals/<fp><ext>; derivatives at
// processed/<format>/<fp>.<format> and processed/<format>/<fp>_<width>.<format>.
type Manager struct {
	basePath string
	baseURL  string
}

func NewManager(basePath, baseURL string) (*Manager, error) {
	dirs := []string{filepath.Join(basePath, "originals")}
	for _, format := range derivativeFormats {
		dirs = append(dirs, filepath.Join(basePath, "processed", format))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	return &Manager{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// OptimizedExists reports whether every derivative format already exists for
// the fingerprint (and requested width, when given). This is the cold-cache
// signal that a result survived a restart.
func (m *Manager) OptimizedExists(fp string, width *int) bool {
	for _, format := range derivativeFormats {
		if !fileExists(m.DerivativePath(format, fp, nil)) {
			return false
		}
		if width != nil && !fileExists(m.DerivativePath(format, fp, width)) {
			return false
		}
	}
	return true
}

func (m *Manager) DerivativePath(format, fp string, width *int) string {
	return filepath.Join(m.basePath, "processed", format, derivativeName(format, fp, width))
}

func (m *Manager) OriginalPath(fp, ext string) string {
	return filepath.Join(m.basePath, "originals", fp+ext)
}

// OriginalExtension finds the stored original's extension, empty when no
// original is on disk.
func (m *Manager) OriginalExtension(fp string) string {
	matches, err := filepath.Glob(filepath.Join(m.basePath, "originals", fp+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return filepath.Ext(matches[0])
}

func (m *Manager) PublicURL(format, fp string, width *int) string {
	if format == "original" {
		return fmt.Sprintf("%s/storage/originals/%s%s", m.baseURL, fp, m.OriginalExtension(fp))
	}
	return fmt.Sprintf("%s/storage/processed/%s/%s", m.baseURL, format, derivativeName(format, fp, width))
}

// AvailableFormats maps every format (plus width variants when requested) to
// its public URL.
func (m *Manager) AvailableFormats(fp string, width *int) map[string]string {
	formats := map[string]string{
		"original": m.PublicURL("original", fp, nil),
	}
	for _, format := range derivativeFormats {
		formats[format] = m.PublicURL(format, fp, nil)
		if width != nil {
			formats[fmt.Sprintf("%s_%d", format, *width)] = m.PublicURL(format, fp, width)
		}
	}
	return formats
}

func derivativeName(format, fp string, width *int) string {
	if width != nil {
		return fmt.Sprintf("%s_%d.%s", fp, *width, format)
	}
	return fmt.Sprintf("%s.%s", fp, format)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
