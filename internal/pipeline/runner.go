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

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// StageExecutor performs the actual work of a verification stage. The
// returned output is handed to the next stage as its input artifact,
// and logRef points at the captured stage logs.
type StageExecutor interface {
	Execute(ctx context.Context, stage Stage, change Change, input string) (output, logRef string, err error)
}

// ExecutorFunc adapts a plain function to StageExecutor.
type ExecutorFunc func(ctx context.Context, stage Stage, change Change, input string) (string, string, error)

// Execute implements StageExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, stage Stage, change Change, input string) (string, string, error) {
	return f(ctx, stage, change, input)
}

// Runner executes a single stage with a per-attempt timeout. Transient
// stages are retried with exponential backoff up to the retry bound;
// deterministic stages get exactly one attempt.
type Runner struct {
	exec       StageExecutor
	timeout    time.Duration
	retryBound uint64
	clock      clock.PassiveClock
	log        logr.Logger
}

// NewRunner builds a runner around exec. timeout bounds each attempt,
// retryBound is the number of extra attempts allowed for transient
// stages.
func NewRunner(exec StageExecutor, timeout time.Duration, retryBound int, clk clock.PassiveClock, log logr.Logger) *Runner {
	if retryBound < 0 {
		retryBound = 0
	}
	return &Runner{
		exec:       exec,
		timeout:    timeout,
		retryBound: uint64(retryBound),
		clock:      clk,
		log:        log,
	}
}

// Run executes one stage to completion and returns its recorded
// result. It never panics the run: every failure mode is folded into
// the result's status, kind and message.
func (r *Runner) Run(ctx context.Context, stage Stage, change Change, input string) StageResult {
	result := StageResult{
		Stage:     stage,
		StartedAt: r.clock.Now(),
	}

	var output, logRef string
	attempt := func() error {
		result.Attempts++
		actx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		var err error
		output, logRef, err = r.exec.Execute(actx, stage, change, input)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// The run itself was cancelled, not this attempt.
			return backoff.Permanent(ctx.Err())
		}
		if actx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
		}
		r.log.V(1).Info("stage attempt failed",
			"stage", stage, "change", change.ID, "attempt", result.Attempts, "error", err.Error())
		return err
	}

	var err error
	if stage.Transient() && r.retryBound > 0 {
		bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.retryBound)
		err = backoff.Retry(attempt, backoff.WithContext(bo, ctx))
	} else {
		err = attempt()
	}

	result.FinishedAt = r.clock.Now()
	result.Output = output
	result.LogRef = logRef

	if err == nil {
		result.Status = StatusPassed
		return result
	}

	result.Status = StatusFailed
	result.Message = err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		result.Kind = KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		result.Kind = KindTimeout
	default:
		result.Kind = stage.FailureKind()
	}
	return result
}
