package collector

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
)

// httpSampleResponse is the wire format served by a plain HTTP metrics
// endpoint: GET {base}/metrics/{service}.
type httpSampleResponse struct {
	Service   string    `json:"service"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// HTTPSource fetches load samples from a plain JSON endpoint. It is the
// lightweight alternative to PrometheusSource for environments without a
// metrics stack.
type HTTPSource struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPSource creates a source polling the given base URL. Retry
// policy lives in the calling control loop, not here.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	client := resty.New().
		SetTimeout(timeout)

	return &HTTPSource{
		client:  client,
		baseURL: baseURL,
	}
}

// Name implements MetricSource.
func (s *HTTPSource) Name() string { return "http" }

// FetchValue implements MetricSource.
func (s *HTTPSource) FetchValue(ctx context.Context, service string) (Sample, error) {
	var body httpSampleResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("%s/metrics/%s", s.baseURL, service))
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrMetricUnavailable, err)
	}
	if !resp.IsSuccess() {
		return Sample{}, fmt.Errorf("%w: status %d", ErrMetricUnavailable, resp.StatusCode())
	}

	ts := body.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Sample{Service: service, Value: body.Value, Timestamp: ts}, nil
}
