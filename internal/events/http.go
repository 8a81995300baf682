package events

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
)

// HTTPPublisher sends stage events to an external monitoring endpoint.
type HTTPPublisher struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPPublisher creates a publisher posting to the given endpoint.
func NewHTTPPublisher(endpoint string) *HTTPPublisher {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &HTTPPublisher{
		client:   client,
		endpoint: endpoint,
	}
}

// Publish implements Publisher.
func (p *HTTPPublisher) Publish(ctx context.Context, event StageEvent) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(p.endpoint)
	if err != nil {
		return fmt.Errorf("post stage event: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("monitoring endpoint returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
