package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testFP = "0ff54f592f3eda9f8f0f50a2e88482b3e9f22ce1a1c9a2e4d98bb9e2be9b2a11"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "http://localhost:8080/")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestOptimizedExists(t *testing.T) {
	m := newTestManager(t)

	if m.OptimizedExists(testFP, nil) {
		t.Error("exists before any derivative was written")
	}

	touch(t, m.DerivativePath("avif", testFP, nil))
	if m.OptimizedExists(testFP, nil) {
		t.Error("exists with only one of two formats")
	}

	touch(t, m.DerivativePath("webp", testFP, nil))
	if !m.OptimizedExists(testFP, nil) {
		t.Error("should exist once both formats are on disk")
	}

	width := 800
	if m.OptimizedExists(testFP, &width) {
		t.Error("width variant requested but not on disk")
	}
	touch(t, m.DerivativePath("avif", testFP, &width))
	touch(t, m.DerivativePath("webp", testFP, &width))
	if !m.OptimizedExists(testFP, &width) {
		t.Error("should exist with width variants on disk")
	}
}

func TestDerivativePath(t *testing.T) {
	m := newTestManager(t)

	plain := m.DerivativePath("avif", testFP, nil)
	if filepath.Base(plain) != testFP+".avif" {
		t.Errorf("unexpected derivative name: %s", plain)
	}

	width := 1280
	sized := m.DerivativePath("webp", testFP, &width)
	if filepath.Base(sized) != testFP+"_1280.webp" {
		t.Errorf("unexpected sized derivative name: %s", sized)
	}
}

func TestOriginalExtension(t *testing.T) {
	m := newTestManager(t)

	if ext := m.OriginalExtension(testFP); ext != "" {
		t.Errorf("expected empty extension with no original, got %s", ext)
	}

	touch(t, m.OriginalPath(testFP, ".jpg"))
	if ext := m.OriginalExtension(testFP); ext != ".jpg" {
		t.Errorf("expected .jpg, got %s", ext)
	}
}

func TestAvailableFormats(t *testing.T) {
	m := newTestManager(t)
	touch(t, m.OriginalPath(testFP, ".png"))

	width := 800
	formats := m.AvailableFormats(testFP, &width)

	if got := formats["avif"]; got != "http://localhost:8080/storage/processed/avif/"+testFP+".avif" {
		t.Errorf("unexpected avif url: %s", got)
	}
	if got := formats["avif_800"]; !strings.HasSuffix(got, testFP+"_800.avif") {
		t.Errorf("unexpected avif width url: %s", got)
	}
	if got := formats["original"]; !strings.HasSuffix(got, testFP+".png") {
		t.Errorf("unexpected original url: %s", got)
	}
	if _, ok := formats["webp"]; !ok {
		t.Error("webp missing from formats")
	}
}
