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
	"errors"
	"time"
)

// ErrMetricUnavailable indicates that no current sample could be obtained
// for a service. The autoscaler skips the tick on this error and never
// scales on stale or missing data.
var ErrMetricUnavailable = errors.New("metric unavailable")

// Sample is a point-in-time load observation for a named service.
type Sample struct {
	// Service is the service the sample belongs to.
	Service string

	// Value is the observed load (e.g. utilization in 0.0-1.0, or a
	// request rate). Its unit must match the service's configured target.
	Value float64

	// Timestamp is when the sample was taken at the source.
	Timestamp time.Time
}

// MetricSource is the interface for pluggable load-sample sources.
// Implementations include PrometheusSource and HTTPSource.
//
// Sources are polled, never push: the autoscaler calls FetchValue once per
// tick per service with a bounded-timeout context.
type MetricSource interface {
	// Name returns the unique name of this source (e.g. "prometheus", "http").
	Name() string

	// FetchValue returns the current load sample for the service.
	// A missing or unparsable result is reported as ErrMetricUnavailable
	// (possibly wrapped).
	FetchValue(ctx context.Context, service string) (Sample, error)
}
