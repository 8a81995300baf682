/*
Copyright 2025 The shiplift Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package collector

import (
	"context"
	"fmt"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// DefaultUtilizationQuery is the PromQL template used when no per-service
// query override is configured. The %q verb receives the service name.
const DefaultUtilizationQuery = `avg(service:utilization:ratio{service=%q})`

// PrometheusSource fetches load samples via PromQL instant queries.
type PrometheusSource struct {
	api promv1.API

	// queries maps service name to a full PromQL query. Services without
	// an entry use DefaultUtilizationQuery.
	queries map[string]string
}

// NewPrometheusSource creates a source backed by the Prometheus server at
// address. queries may be nil.
func NewPrometheusSource(address string, queries map[string]string) (*PrometheusSource, error) {
	client, err := promapi.NewClient(promapi.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return &PrometheusSource{
		api:     promv1.NewAPI(client),
		queries: queries,
	}, nil
}

// Name implements MetricSource.
func (s *PrometheusSource) Name() string { return "prometheus" }

// FetchValue runs the instant query for the service and returns the first
// sample of the result vector.
func (s *PrometheusSource) FetchValue(ctx context.Context, service string) (Sample, error) {
	query, ok := s.queries[service]
	if !ok {
		query = fmt.Sprintf(DefaultUtilizationQuery, service)
	}

	result, _, err := s.api.Query(ctx, query, time.Now())
	if err != nil {
		return Sample{}, fmt.Errorf("%w: query %q: %v", ErrMetricUnavailable, query, err)
	}

	vec, ok := result.(model.Vector)
	if !ok || len(vec) == 0 {
		return Sample{}, fmt.Errorf("%w: query %q returned no samples", ErrMetricUnavailable, query)
	}

	first := vec[0]
	return Sample{
		Service:   service,
		Value:     float64(first.Value),
		Timestamp: first.Timestamp.Time(),
	}, nil
}
