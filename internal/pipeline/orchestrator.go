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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/taskops/shiplift/internal/actuator"
	"github.com/taskops/shiplift/internal/config"
	"github.com/taskops/shiplift/internal/events"
	"github.com/taskops/shiplift/internal/replicas"
	"github.com/taskops/shiplift/internal/store"
)

const controllerCallTimeout = 30 * time.Second

// Baseliner is notified after a successful deploy so scaling state can
// be re-anchored on the freshly rolled-out replica set.
type Baseliner interface {
	Rebaseline(service string, count int)
}

// Orchestrator accepts changes, runs them through the stage sequence
// and coordinates rollouts. Runs touching the same service are
// serialized; runs touching disjoint services proceed concurrently.
type Orchestrator struct {
	cfg        *config.Config
	runner     *Runner
	controller replicas.Controller
	emitter    *actuator.MetricsEmitter
	sink       chan<- events.StageEvent
	history    store.Historian
	baseliner  Baseliner
	clock      clock.PassiveClock
	log        logr.Logger

	mu               sync.Mutex
	runs             map[string]*runState
	serviceLocks     map[string]*sync.Mutex
	deployedVersions map[string]string
}

type runState struct {
	mu        sync.Mutex
	run       PipelineRun
	cancelled atomic.Bool
	done      chan struct{}
}

func (rs *runState) snapshot() PipelineRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := rs.run
	out.Stages = make([]StageResult, len(rs.run.Stages))
	copy(out.Stages, rs.run.Stages)
	out.Change.Services = append([]string(nil), rs.run.Change.Services...)
	return out
}

// NewOrchestrator wires the orchestrator. sink receives stage events
// and must be drained by an events queue; emitter and controller are
// required, history and baseliner are optional.
func NewOrchestrator(
	cfg *config.Config,
	runner *Runner,
	controller replicas.Controller,
	emitter *actuator.MetricsEmitter,
	sink chan<- events.StageEvent,
	clk clock.PassiveClock,
	log logr.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:              cfg,
		runner:           runner,
		controller:       controller,
		emitter:          emitter,
		sink:             sink,
		clock:            clk,
		log:              log,
		runs:             make(map[string]*runState),
		serviceLocks:     make(map[string]*sync.Mutex),
		deployedVersions: make(map[string]string),
	}
}

// WithHistory enables run history recording.
func (o *Orchestrator) WithHistory(h store.Historian) *Orchestrator {
	o.history = h
	return o
}

// WithBaseliner registers the post-deploy baseline hook.
func (o *Orchestrator) WithBaseliner(b Baseliner) *Orchestrator {
	o.baseliner = b
	return o
}

// Submit validates the change, creates a pending run and starts it in
// the background. The returned snapshot carries the run ID for
// follow-up queries.
func (o *Orchestrator) Submit(ctx context.Context, change Change) (PipelineRun, error) {
	if err := change.Validate(); err != nil {
		return PipelineRun{}, fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	for _, svc := range change.Services {
		if !o.cfg.KnownService(svc) {
			return PipelineRun{}, fmt.Errorf("%w: unknown service %q", ErrInvalidChange, svc)
		}
	}

	rs := &runState{
		run: PipelineRun{
			ID:        uuid.NewString(),
			Change:    change,
			Status:    RunPending,
			CreatedAt: o.clock.Now(),
			Stages:    pendingStages(),
		},
		done: make(chan struct{}),
	}

	o.mu.Lock()
	o.runs[rs.run.ID] = rs
	o.mu.Unlock()

	o.log.Info("run submitted", "runId", rs.run.ID, "change", change.ID, "services", change.Services)
	go o.execute(rs)
	return rs.snapshot(), nil
}

func pendingStages() []StageResult {
	stages := make([]StageResult, len(StageOrder))
	for i, s := range StageOrder {
		stages[i] = StageResult{Stage: s, Status: StatusPending}
	}
	return stages
}

// GetRun returns a snapshot of a run.
func (o *Orchestrator) GetRun(id string) (PipelineRun, error) {
	o.mu.Lock()
	rs, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return PipelineRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rs.snapshot(), nil
}

// ListRuns returns snapshots of all known runs, newest first.
func (o *Orchestrator) ListRuns() []PipelineRun {
	o.mu.Lock()
	states := make([]*runState, 0, len(o.runs))
	for _, rs := range o.runs {
		states = append(states, rs)
	}
	o.mu.Unlock()

	out := make([]PipelineRun, 0, len(states))
	for _, rs := range states {
		out = append(out, rs.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Wait blocks until the run reaches a terminal status or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (PipelineRun, error) {
	o.mu.Lock()
	rs, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return PipelineRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	select {
	case <-rs.done:
		return rs.snapshot(), nil
	case <-ctx.Done():
		return rs.snapshot(), ctx.Err()
	}
}

// Cancel requests cooperative cancellation. The currently executing
// stage finishes; the run stops at the next stage boundary.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	rs, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	rs.cancelled.Store(true)
	o.log.Info("run cancellation requested", "runId", id)
	return nil
}

func (o *Orchestrator) execute(rs *runState) {
	ctx := context.Background()
	services := uniqueSorted(rs.run.Change.Services)

	// Lock order is sorted service name, so concurrent multi-service
	// runs cannot deadlock.
	locks := make([]*sync.Mutex, 0, len(services))
	for _, svc := range services {
		l := o.serviceLock(svc)
		l.Lock()
		locks = append(locks, l)
	}
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()

	rs.mu.Lock()
	rs.run.Status = RunRunning
	rs.run.StartedAt = o.clock.Now()
	change := rs.run.Change
	rs.mu.Unlock()
	o.publishRunEvent(rs, RunRunning)

	input := ""
	rolledBack := false
	failed := false
	for i, stage := range StageOrder {
		if rs.cancelled.Load() {
			o.recordStage(rs, i, StageResult{
				Stage:      stage,
				Status:     StatusFailed,
				Kind:       KindCancelled,
				Message:    "run cancelled",
				StartedAt:  o.clock.Now(),
				FinishedAt: o.clock.Now(),
			})
			o.skipRemaining(rs, i+1)
			failed = true
			break
		}

		o.setStageRunning(rs, i)
		var res StageResult
		if stage == StageDeploy {
			res, rolledBack = o.deploy(ctx, change, services)
		} else {
			res = o.runner.Run(ctx, stage, change, input)
		}
		o.recordStage(rs, i, res)

		if res.Status == StatusFailed {
			o.skipRemaining(rs, i+1)
			failed = true
			break
		}
		input = res.Output
	}

	status := RunSucceeded
	if failed {
		status = RunFailed
		if rolledBack {
			status = RunRolledBack
		}
	}
	o.finish(rs, status)
}

// deploy rolls the change out to every service in order. Any rollout
// failure after replicas were replaced triggers a best-effort rollback
// of every touched service; a partial rollout counts its own service
// as touched.
func (o *Orchestrator) deploy(ctx context.Context, change Change, services []string) (StageResult, bool) {
	res := StageResult{
		Stage:     StageDeploy,
		StartedAt: o.clock.Now(),
		Attempts:  1,
	}
	version := change.ID

	var touched []string
	var rolloutErr error
	for _, svc := range services {
		cctx, cancel := context.WithTimeout(ctx, controllerCallTimeout)
		err := o.controller.Rollout(cctx, svc, version)
		cancel()
		if err == nil {
			touched = append(touched, svc)
			continue
		}
		rolloutErr = fmt.Errorf("rollout %s: %w", svc, err)
		if errors.Is(err, replicas.ErrPartialRollout) {
			touched = append(touched, svc)
		}
		break
	}

	if rolloutErr != nil {
		res.FinishedAt = o.clock.Now()
		res.Status = StatusFailed
		res.Kind = KindDeploy
		res.Message = rolloutErr.Error()
		if len(touched) > 0 {
			o.rollbackAll(ctx, touched)
			res.Message = fmt.Sprintf("%v; rolled back %s", rolloutErr, strings.Join(touched, ", "))
			return res, true
		}
		return res, false
	}

	for _, svc := range services {
		cctx, cancel := context.WithTimeout(ctx, controllerCallTimeout)
		health, err := o.controller.GetHealth(cctx, svc)
		cancel()
		if err != nil {
			o.log.Error(err, "post-deploy health check failed, baseline left unchanged", "service", svc)
			continue
		}
		o.log.Info("deploy healthy", "service", svc, "version", version,
			"running", health.Running, "healthy", health.Healthy)
		if o.baseliner != nil {
			o.baseliner.Rebaseline(svc, health.Count)
		}
	}

	o.mu.Lock()
	for _, svc := range services {
		o.deployedVersions[svc] = version
	}
	o.mu.Unlock()

	res.FinishedAt = o.clock.Now()
	res.Status = StatusPassed
	return res, false
}

func (o *Orchestrator) rollbackAll(ctx context.Context, services []string) {
	for _, svc := range services {
		o.mu.Lock()
		previous := o.deployedVersions[svc]
		o.mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, controllerCallTimeout)
		err := o.controller.Rollback(cctx, svc, previous)
		cancel()
		if err != nil {
			// A failed rollback leaves the service in an unknown state.
			// Raise the standing alert and leave it for an operator.
			o.log.Error(err, "rollback failed, manual intervention required",
				"service", svc, "previousVersion", previous)
			o.emitter.SetRollbackAlert(svc, true)
			continue
		}
		o.log.Info("rolled back", "service", svc, "toVersion", previous)
	}
}

func (o *Orchestrator) setStageRunning(rs *runState, idx int) {
	rs.mu.Lock()
	rs.run.Stages[idx].Status = StatusRunning
	rs.run.Stages[idx].StartedAt = o.clock.Now()
	stage := rs.run.Stages[idx].Stage
	rs.mu.Unlock()
	o.publishStageEvent(rs, string(stage), string(StatusRunning), 0, "")
}

func (o *Orchestrator) recordStage(rs *runState, idx int, res StageResult) {
	rs.mu.Lock()
	rs.run.Stages[idx] = res
	rs.mu.Unlock()
	o.emitter.IncStageTransition(string(res.Stage), string(res.Status))
	o.publishStageEvent(rs, string(res.Stage), string(res.Status), res.DurationMs(), res.LogRef)
}

func (o *Orchestrator) skipRemaining(rs *runState, from int) {
	rs.mu.Lock()
	skipped := make([]Stage, 0, len(rs.run.Stages)-from)
	for i := from; i < len(rs.run.Stages); i++ {
		rs.run.Stages[i].Status = StatusSkipped
		skipped = append(skipped, rs.run.Stages[i].Stage)
	}
	rs.mu.Unlock()
	for _, stage := range skipped {
		o.emitter.IncStageTransition(string(stage), string(StatusSkipped))
	}
}

func (o *Orchestrator) finish(rs *runState, status RunStatus) {
	rs.mu.Lock()
	rs.run.Status = status
	rs.run.FinishedAt = o.clock.Now()
	snapshot := rs.run
	rs.mu.Unlock()

	o.emitter.IncRunCompleted(string(status))
	o.publishRunEvent(rs, status)
	o.recordHistory(snapshot, rs)
	close(rs.done)
	o.log.Info("run finished", "runId", snapshot.ID, "status", status)
}

func (o *Orchestrator) recordHistory(run PipelineRun, rs *runState) {
	if o.history == nil {
		return
	}
	rec := &store.RunRecord{
		RunID:      run.ID,
		ChangeID:   run.Change.ID,
		Services:   strings.Join(run.Change.Services, ","),
		Status:     string(run.Status),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	snapshot := rs.snapshot()
	if failure := snapshot.FirstFailure(); failure != nil {
		rec.FailedStage = string(failure.Stage)
	}
	if stages, err := json.Marshal(snapshot.Stages); err == nil {
		rec.Stages = string(stages)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.history.RecordRun(ctx, rec); err != nil {
		o.log.Error(err, "recording run history failed", "runId", run.ID)
	}
}

func (o *Orchestrator) publishRunEvent(rs *runState, status RunStatus) {
	o.publishStageEvent(rs, "run", string(status), 0, "")
}

func (o *Orchestrator) publishStageEvent(rs *runState, stage, status string, durationMs int64, logRef string) {
	if o.sink == nil {
		return
	}
	rs.mu.Lock()
	runID := rs.run.ID
	service := strings.Join(rs.run.Change.Services, ",")
	rs.mu.Unlock()

	ev := events.StageEvent{
		RunID:      runID,
		Service:    service,
		Stage:      stage,
		Status:     status,
		Timestamp:  o.clock.Now(),
		DurationMs: durationMs,
		LogRef:     logRef,
	}
	select {
	case o.sink <- ev:
	default:
		o.log.V(1).Info("event sink full, dropping event", "runId", runID, "stage", stage)
	}
}

func (o *Orchestrator) serviceLock(svc string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.serviceLocks[svc]
	if !ok {
		l = &sync.Mutex{}
		o.serviceLocks[svc] = l
	}
	return l
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
