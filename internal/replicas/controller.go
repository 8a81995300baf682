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

// Package replicas defines the consumer contract to the external replica
// controller: the imperative interface that creates and terminates replica
// instances of a named service.
package replicas

import (
	"context"
	"errors"
)

// Typed errors surfaced by Controller implementations. The core never
// retries mutating calls at this boundary; retry policy, if any, lives in
// the pipeline orchestrator and the autoscaler.
var (
	// ErrScaleCommand indicates a failed SetDesiredCount call.
	ErrScaleCommand = errors.New("scale command failed")

	// ErrRollout indicates a failed Rollout call with the previous
	// version left untouched.
	ErrRollout = errors.New("rollout failed")

	// ErrPartialRollout indicates a Rollout call that failed after some
	// replicas were already replaced. The caller must roll back.
	ErrPartialRollout = errors.New("rollout failed after partial replica replacement")

	// ErrRollback indicates a failed Rollback call. This is a fatal
	// operational condition requiring manual intervention.
	ErrRollback = errors.New("rollback failed")

	// ErrHealthCheck indicates a failed GetHealth call.
	ErrHealthCheck = errors.New("health check failed")
)

// Health reports the observed state of a service's replica set.
type Health struct {
	// Running is true when at least one replica is running.
	Running bool `json:"running"`

	// Healthy is true when all running replicas pass their checks.
	Healthy bool `json:"healthy"`

	// Count is the current number of replicas.
	Count int `json:"count"`
}

// Controller is the imperative interface to the external replica
// controller. All calls are potentially slow and fallible; every call site
// applies a timeout and surfaces failure as a typed error to its caller.
type Controller interface {
	// SetDesiredCount asks the controller to converge the service to n
	// replicas and returns the resulting count.
	SetDesiredCount(ctx context.Context, service string, n int) (int, error)

	// Rollout replaces the service's running replicas with the given
	// version. Errors wrapping ErrPartialRollout mean the replica set was
	// partially replaced and must be rolled back by the caller.
	Rollout(ctx context.Context, service, version string) error

	// Rollback restores the service to a previously running version.
	Rollback(ctx context.Context, service, toVersion string) error

	// GetHealth reports the current replica set state. This is an
	// idempotent read; implementations may apply a single bounded retry.
	GetHealth(ctx context.Context, service string) (Health, error)
}
