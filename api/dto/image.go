package dto

type ImageURLRequest struct {
	URL  string `json:"url"`
	Size *int   `json:"size,omitempty"`
}

type ImageBatchRequest struct {
	URLs            []string `json:"urls"`
	CheckDuplicates bool     `json:"check_duplicates,omitempty"`
}

type HTMLTagRequest struct {
	HTML string `json:"html"`
}

type ImageResponse struct {
	OriginalURL  string            `json:"original_url"`
	Status       string            `json:"status"`
	OptimizedURL string            `json:"optimized_url,omitempty"`
	Formats      map[string]string `json:"formats,omitempty"`
	Dimensions   map[string]string `json:"dimensions,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type HTMLResponse struct {
	OriginalHTML  string `json:"original_html"`
	Status        string `json:"status"`
	OptimizedHTML string `json:"optimized_html,omitempty"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	QueuePending int64  `json:"queue_pending"`
	Consumers    int    `json:"consumers"`
	InFlight     int    `json:"in_flight"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
