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

// Package events is the observability sink: every stage transition of every
// pipeline run is published here for external monitoring collaborators.
package events

import (
	"context"
	"time"
)

// StageEvent is one structured stage transition record.
type StageEvent struct {
	// RunID identifies the pipeline run.
	RunID string `json:"runId"`

	// Service is the primary service the run targets.
	Service string `json:"service"`

	// Stage is the stage name ("lint", "deploy", ...), or "run" for
	// run-level transitions.
	Stage string `json:"stage"`

	// Status is the new stage or run status.
	Status string `json:"status"`

	// Timestamp is when the transition happened.
	Timestamp time.Time `json:"timestamp"`

	// DurationMs is the stage duration, 0 while the stage is starting.
	DurationMs int64 `json:"durationMs"`

	// LogRef points at the stage's log output, when available.
	LogRef string `json:"logRef,omitempty"`
}

// Publisher delivers stage events to one external destination.
type Publisher interface {
	Publish(ctx context.Context, event StageEvent) error
}
