package replicas

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"resty.dev/v3"
)

// HTTPController talks to a replica controller over its HTTP API.
//
// Expected endpoints:
//
//	PUT  {base}/services/{service}/scale     {"count": n}      -> {"count": m}
//	POST {base}/services/{service}/rollout   {"version": v}    -> 200, or 409 on partial replacement
//	POST {base}/services/{service}/rollback  {"version": v}    -> 200
//	GET  {base}/services/{service}/health                      -> {"running":..,"healthy":..,"count":..}
type HTTPController struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPController creates a controller client for the given base URL.
// Mutating calls are never retried here; the health read is handled with a
// single bounded retry by the caller-facing method.
func NewHTTPController(baseURL string, timeout time.Duration) *HTTPController {
	client := resty.New().
		SetTimeout(timeout)

	return &HTTPController{
		client:  client,
		baseURL: baseURL,
	}
}

type scaleRequest struct {
	Count int `json:"count"`
}

type scaleResponse struct {
	Count int `json:"count"`
}

type versionRequest struct {
	Version string `json:"version"`
}

// SetDesiredCount implements Controller.
func (c *HTTPController) SetDesiredCount(ctx context.Context, service string, n int) (int, error) {
	var body scaleResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(scaleRequest{Count: n}).
		SetResult(&body).
		Put(fmt.Sprintf("%s/services/%s/scale", c.baseURL, service))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrScaleCommand, err)
	}
	if !resp.IsSuccess() {
		return 0, fmt.Errorf("%w: status %d: %s", ErrScaleCommand, resp.StatusCode(), resp.String())
	}
	return body.Count, nil
}

// Rollout implements Controller. A 409 response signals that replicas were
// partially replaced before the failure, which the orchestrator must answer
// with a rollback.
func (c *HTTPController) Rollout(ctx context.Context, service, version string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(versionRequest{Version: version}).
		Post(fmt.Sprintf("%s/services/%s/rollout", c.baseURL, service))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRollout, err)
	}
	if resp.StatusCode() == http.StatusConflict {
		return fmt.Errorf("%w: status %d: %s", ErrPartialRollout, resp.StatusCode(), resp.String())
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: status %d: %s", ErrRollout, resp.StatusCode(), resp.String())
	}
	return nil
}

// Rollback implements Controller.
func (c *HTTPController) Rollback(ctx context.Context, service, toVersion string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(versionRequest{Version: toVersion}).
		Post(fmt.Sprintf("%s/services/%s/rollback", c.baseURL, service))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRollback, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: status %d: %s", ErrRollback, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetHealth implements Controller. The read is idempotent, so one bounded
// retry is applied on failure.
func (c *HTTPController) GetHealth(ctx context.Context, service string) (Health, error) {
	h, err := c.getHealthOnce(ctx, service)
	if err == nil {
		return h, nil
	}
	if ctx.Err() != nil {
		return Health{}, err
	}
	return c.getHealthOnce(ctx, service)
}

func (c *HTTPController) getHealthOnce(ctx context.Context, service string) (Health, error) {
	var body Health
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("%s/services/%s/health", c.baseURL, service))
	if err != nil {
		return Health{}, fmt.Errorf("%w: %v", ErrHealthCheck, err)
	}
	if !resp.IsSuccess() {
		return Health{}, fmt.Errorf("%w: status %d", ErrHealthCheck, resp.StatusCode())
	}
	return body, nil
}
