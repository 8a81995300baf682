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

// Package pipeline runs deployment changes through the fixed stage
// sequence and coordinates rollouts with the replica controller.
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidChange rejects a submission before a run is created, for
// example when a change names an unconfigured service.
var ErrInvalidChange = errors.New("invalid change")

// ErrRunNotFound is returned by lookups for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Change is a code change submitted for deployment. Changes are
// immutable once created.
type Change struct {
	ID        string    `json:"id"`
	Services  []string  `json:"services"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Author    string    `json:"author,omitempty"`
}

// Validate checks the structural requirements of a change.
func (c Change) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("change id must not be empty")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("change %s names no services", c.ID)
	}
	for _, svc := range c.Services {
		if svc == "" {
			return fmt.Errorf("change %s names an empty service", c.ID)
		}
	}
	return nil
}

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunPending    RunStatus = "Pending"
	RunRunning    RunStatus = "Running"
	RunSucceeded  RunStatus = "Succeeded"
	RunFailed     RunStatus = "Failed"
	RunRolledBack RunStatus = "RolledBack"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunRolledBack
}

// StageStatus is the state of one stage within a run.
type StageStatus string

const (
	StatusPending StageStatus = "Pending"
	StatusRunning StageStatus = "Running"
	StatusPassed  StageStatus = "Passed"
	StatusFailed  StageStatus = "Failed"
	StatusSkipped StageStatus = "Skipped"
)

// FailureKind classifies why a stage failed.
type FailureKind string

const (
	KindNone      FailureKind = ""
	KindLint      FailureKind = "Lint"
	KindTest      FailureKind = "Test"
	KindScan      FailureKind = "Scan"
	KindBuild     FailureKind = "Build"
	KindPublish   FailureKind = "Publish"
	KindDeploy    FailureKind = "Deploy"
	KindTimeout   FailureKind = "Timeout"
	KindCancelled FailureKind = "Cancelled"
)

// StageResult is the recorded outcome of one stage.
type StageResult struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Kind       FailureKind `json:"kind,omitempty"`
	Message    string      `json:"message,omitempty"`
	LogRef     string      `json:"logRef,omitempty"`
	Output     string      `json:"-"`
	StartedAt  time.Time   `json:"startedAt,omitempty"`
	FinishedAt time.Time   `json:"finishedAt,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
}

// DurationMs is the stage wall time in milliseconds, or zero while the
// stage is still running.
func (r StageResult) DurationMs() int64 {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt).Milliseconds()
}

// PipelineRun is one end-to-end execution of the pipeline for a change.
type PipelineRun struct {
	ID         string        `json:"id"`
	Change     Change        `json:"change"`
	Status     RunStatus     `json:"status"`
	Stages     []StageResult `json:"stages"`
	CreatedAt  time.Time     `json:"createdAt"`
	StartedAt  time.Time     `json:"startedAt,omitempty"`
	FinishedAt time.Time     `json:"finishedAt,omitempty"`
}

// FirstFailure returns the first failed stage, or nil when no stage
// failed.
func (r *PipelineRun) FirstFailure() *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Status == StatusFailed {
			return &r.Stages[i]
		}
	}
	return nil
}
