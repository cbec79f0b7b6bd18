package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"imageOptimizer/api/dto"
	"imageOptimizer/api/htmltag"
	"imageOptimizer/api/kafka"
	"imageOptimizer/api/models"
	"imageOptimizer/api/service"
)

type mockDispatch struct {
	dispatchFn func(ctx context.Context, traceID, sourceURL string, targetWidth *int) (*service.DispatchResult, error)
	batchFn    func(ctx context.Context, traceID string, urls []string, checkDuplicates bool) ([]*service.DispatchResult, error)
	htmlFn     func(ctx context.Context, traceID, fragment string) (*service.HTMLResult, error)
}

func (m *mockDispatch) Dispatch(ctx context.Context, traceID, sourceURL string, targetWidth *int) (*service.DispatchResult, error) {
	return m.dispatchFn(ctx, traceID, sourceURL, targetWidth)
}

func (m *mockDispatch) DispatchBatch(ctx context.Context, traceID string, urls []string, checkDuplicates bool) ([]*service.DispatchResult, error) {
	return m.batchFn(ctx, traceID, urls, checkDuplicates)
}

func (m *mockDispatch) DispatchHTML(ctx context.Context, traceID, fragment string) (*service.HTMLResult, error) {
	return m.htmlFn(ctx, traceID, fragment)
}

type mockHealth struct {
	queueInfoFn func(ctx context.Context) (*kafka.QueueInfo, error)
	inFlightFn  func(ctx context.Context) (int, error)
}

func (m *mockHealth) QueueInfo(ctx context.Context) (*kafka.QueueInfo, error) {
	return m.queueInfoFn(ctx)
}

func (m *mockHealth) InFlight(ctx context.Context) (int, error) {
	return m.inFlightFn(ctx)
}

func TestProcessURL_Success(t *testing.T) {
	mock := &mockDispatch{
		dispatchFn: func(ctx context.Context, traceID, sourceURL string, targetWidth *int) (*service.DispatchResult, error) {
			return &service.DispatchResult{
				SourceURL:   sourceURL,
				Fingerprint: "abc",
				Status:      models.StatusComplete,
				Formats:     map[string]string{"avif": "http://cdn/abc.avif"},
			}, nil
		},
	}
	handler := NewImageHandler(mock, nil, zaptest.NewLogger(t))

	body, _ := json.Marshal(dto.ImageURLRequest{URL: "https://example.com/a.jpg"})
	req := httptest.NewRequest(http.MethodPost, "/api/url", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ProcessURL(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp dto.ImageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "complete" {
		t.Errorf("expected status complete, got %s", resp.Status)
	}
	if resp.OptimizedURL != "http://cdn/abc.avif" {
		t.Errorf("unexpected optimized url: %s", resp.OptimizedURL)
	}
	if resp.OriginalURL != "https://example.com/a.jpg" {
		t.Errorf("unexpected original url: %s", resp.OriginalURL)
	}
}

func TestProcessURL_InvalidURL(t *testing.T) {
	handler := NewImageHandler(&mockDispatch{}, nil, zaptest.NewLogger(t))

	cases := []string{"", "not-a-url", "ftp://example.com/a.jpg", "http://"}
	for _, raw := range cases {
		body, _ := json.Marshal(dto.ImageURLRequest{URL: raw})
		req := httptest.NewRequest(http.MethodPost, "/api/url", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		handler.ProcessURL(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("url %q: expected 400, got %d", raw, rec.Code)
		}
	}
}

func TestProcessURL_BadJSON(t *testing.T) {
	handler := NewImageHandler(&mockDispatch{}, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/api/url", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	handler.ProcessURL(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProcessURL_DispatchError(t *testing.T) {
	mock := &mockDispatch{
		dispatchFn: func(ctx context.Context, traceID, sourceURL string, targetWidth *int) (*service.DispatchResult, error) {
			return nil, errors.New("enqueue task: broker down")
		},
	}
	handler := NewImageHandler(mock, nil, zaptest.NewLogger(t))

	body, _ := json.Marshal(dto.ImageURLRequest{URL: "https://example.com/a.jpg"})
	req := httptest.NewRequest(http.MethodPost, "/api/url", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ProcessURL(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestProcessBatch_Success(t *testing.T) {
	var gotURLs []string
	mock := &mockDispatch{
		batchFn: func(ctx context.Context, traceID string, urls []string, checkDuplicates bool) ([]*service.DispatchResult, error) {
			gotURLs = urls
			results := make([]*service.DispatchResult, len(urls))
			for i, u := range urls {
				results[i] = &service.DispatchResult{SourceURL: u, Status: models.StatusPending}
			}
			return results, nil
		},
	}
	handler := NewImageHandler(mock, nil, zaptest.NewLogger(t))

	body, _ := json.Marshal(dto.ImageBatchRequest{URLs: []string{
		"https://example.com/a.jpg",
		"https://example.com/b.jpg",
	}})
	req := httptest.NewRequest(http.MethodPost, "/api/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ProcessBatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(gotURLs) != 2 {
		t.Fatalf("expected 2 urls passed through, got %d", len(gotURLs))
	}

	var resp []dto.ImageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp))
	}
	if resp[0].Status != "pending" {
		t.Errorf("expected pending, got %s", resp[0].Status)
	}
}

func TestProcessBatch_Validation(t *testing.T) {
	handler := NewImageHandler(&mockDispatch{}, nil, zaptest.NewLogger(t))

	tooMany := make([]string, maxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = "https://example.com/a.jpg"
	}

	cases := []struct {
		name string
		req  dto.ImageBatchRequest
	}{
		{"empty", dto.ImageBatchRequest{}},
		{"too large", dto.ImageBatchRequest{URLs: tooMany}},
		{"bad url", dto.ImageBatchRequest{URLs: []string{"https://example.com/a.jpg", "nope"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, _ := json.Marshal(tc.req)
			req := httptest.NewRequest(http.MethodPost, "/api/batch", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			handler.ProcessBatch(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestProcessHTML_NoImgTag(t *testing.T) {
	mock := &mockDispatch{
		htmlFn: func(ctx context.Context, traceID, fragment string) (*service.HTMLResult, error) {
			return nil, htmltag.ErrNoImageTag
		},
	}
	handler := NewImageHandler(mock, nil, zaptest.NewLogger(t))

	body, _ := json.Marshal(dto.HTMLTagRequest{HTML: "<p>no image here</p>"})
	req := httptest.NewRequest(http.MethodPost, "/api/html", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ProcessHTML(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProcessHTML_Complete(t *testing.T) {
	mock := &mockDispatch{
		htmlFn: func(ctx context.Context, traceID, fragment string) (*service.HTMLResult, error) {
			return &service.HTMLResult{
				Status:        models.StatusComplete,
				OptimizedHTML: "<picture>...</picture>",
			}, nil
		},
	}
	handler := NewImageHandler(mock, nil, zaptest.NewLogger(t))

	body, _ := json.Marshal(dto.HTMLTagRequest{HTML: `<img src="https://example.com/a.jpg">`})
	req := httptest.NewRequest(http.MethodPost, "/api/html", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ProcessHTML(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp dto.HTMLResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OptimizedHTML == "" {
		t.Error("expected optimized html in response")
	}
}

func TestHealth(t *testing.T) {
	health := &mockHealth{
		queueInfoFn: func(ctx context.Context) (*kafka.QueueInfo, error) {
			return &kafka.QueueInfo{Pending: 7, Consumers: 3}, nil
		},
		inFlightFn: func(ctx context.Context) (int, error) {
			return 2, nil
		},
	}
	handler := NewImageHandler(&mockDispatch{}, health, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	var resp dto.HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected ok, got %s", resp.Status)
	}
	if resp.QueuePending != 7 || resp.Consumers != 3 || resp.InFlight != 2 {
		t.Errorf("unexpected health payload: %+v", resp)
	}
}

func TestHealth_Degraded(t *testing.T) {
	health := &mockHealth{
		queueInfoFn: func(ctx context.Context) (*kafka.QueueInfo, error) {
			return nil, errors.New("broker unreachable")
		},
		inFlightFn: func(ctx context.Context) (int, error) {
			return 0, nil
		},
	}
	handler := NewImageHandler(&mockDispatch{}, health, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp dto.HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("expected degraded, got %s", resp.Status)
	}
}
