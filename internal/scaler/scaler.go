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

package scaler

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/taskops/shiplift/internal/actuator"
	"github.com/taskops/shiplift/internal/collector"
	"github.com/taskops/shiplift/internal/config"
	"github.com/taskops/shiplift/internal/replicas"
	"github.com/taskops/shiplift/internal/store"
)

// Phase is the externally observable state of one service's control loop.
type Phase string

const (
	PhaseIdle     Phase = "Idle"
	PhaseSampling Phase = "Sampling"
	PhaseScaling  Phase = "Scaling"
	PhaseCooldown Phase = "Cooldown"
)

const (
	fetchTimeout = 10 * time.Second
	scaleTimeout = 30 * time.Second

	// After this many consecutive failed scale commands the standing
	// alert gauge is raised.
	failureAlertThreshold = 3

	windowRetention = 10 * time.Minute
	windowMaxPoints = 120
)

// ServiceLoop is the per-service scaling state machine. All state is
// owned by a single goroutine; Rebaseline is the only cross-goroutine
// entry point and synchronizes through the loop's mutex.
type ServiceLoop struct {
	service    string
	spec       config.ServiceSpec
	source     collector.MetricSource
	controller replicas.Controller
	emitter    *actuator.MetricsEmitter
	history    store.Historian
	clock      clock.PassiveClock
	log        logr.Logger

	mu                  sync.Mutex
	phase               Phase
	current             int
	window              *collector.SampleWindow
	pendingDown         int // lower count observed last tick, 0 = none
	lastScale           time.Time
	consecutiveFailures int
}

// NewServiceLoop builds a loop for one service, seeded at the service's
// configured minimum replica count.
func NewServiceLoop(
	service string,
	spec config.ServiceSpec,
	source collector.MetricSource,
	controller replicas.Controller,
	emitter *actuator.MetricsEmitter,
	history store.Historian,
	clk clock.PassiveClock,
	log logr.Logger,
) *ServiceLoop {
	l := &ServiceLoop{
		service:    service,
		spec:       spec,
		source:     source,
		controller: controller,
		emitter:    emitter,
		history:    history,
		clock:      clk,
		log:        log.WithValues("service", service),
		phase:      PhaseIdle,
		current:    spec.MinReplicas,
		window:     collector.NewSampleWindow(windowRetention, windowMaxPoints),
	}
	return l
}

// Phase returns the loop's current phase.
func (l *ServiceLoop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Current returns the replica count the loop believes the service has.
func (l *ServiceLoop) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Rebaseline re-anchors the loop on a freshly deployed replica set. The
// debounce candidate is discarded and a fresh cooldown starts, so the
// new version settles before the loop acts again.
func (l *ServiceLoop) Rebaseline(count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = count
	l.pendingDown = 0
	l.consecutiveFailures = 0
	l.lastScale = l.clock.Now()
	l.phase = PhaseCooldown
	l.emitter.EmitCurrentReplicas(l.service, count)
	l.log.Info("baseline reset after deploy", "replicas", count)
}

// Seed sets the starting replica count, used when bootstrapping from
// the controller's observed state.
func (l *ServiceLoop) Seed(count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = count
	l.emitter.EmitCurrentReplicas(l.service, count)
}

// Tick runs one control-loop iteration: sample, decide, maybe scale.
func (l *ServiceLoop) Tick(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.phase = PhaseSampling
	sample, err := l.fetchSample(ctx)
	if err != nil {
		// No scaling on missing data; the debounce candidate survives
		// an unavailable sample untouched.
		l.log.V(1).Info("sample unavailable, skipping tick", "error", err.Error())
		l.phase = PhaseIdle
		return
	}

	l.window.Add(sample.Timestamp, sample.Value)
	l.emitter.EmitObservedLoad(l.service, l.window.LatestValue())

	desired := DesiredReplicas(sample.Value, l.spec.TargetUtilization, l.current,
		l.spec.MinReplicas, l.spec.MaxReplicas)

	if desired == l.current {
		l.pendingDown = 0
		l.phase = PhaseIdle
		return
	}

	if desired < l.current {
		// Scale-down needs the same lower value on two consecutive
		// ticks before it is acted on.
		if l.pendingDown != desired {
			l.pendingDown = desired
			l.phase = PhaseIdle
			l.log.V(1).Info("scale-down candidate, waiting for confirmation",
				"current", l.current, "candidate", desired)
			return
		}
	} else {
		l.pendingDown = 0
	}

	if !l.lastScale.IsZero() && l.clock.Since(l.lastScale) < l.spec.Cooldown() {
		l.phase = PhaseCooldown
		l.log.V(1).Info("in cooldown, holding", "current", l.current, "desired", desired)
		return
	}

	l.scale(ctx, sample.Value, desired)
}

// fetchSample reads the current load sample. The fetch is an idempotent
// read, so one bounded retry is applied before the tick is given up.
func (l *ServiceLoop) fetchSample(ctx context.Context) (collector.Sample, error) {
	sample, err := l.fetchOnce(ctx)
	if err == nil {
		return sample, nil
	}
	if ctx.Err() != nil {
		return collector.Sample{}, err
	}
	return l.fetchOnce(ctx)
}

func (l *ServiceLoop) fetchOnce(ctx context.Context) (collector.Sample, error) {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	return l.source.FetchValue(fctx, l.service)
}

// RecentSamples returns a copy of the loop's retained sample window,
// newest last.
func (l *ServiceLoop) RecentSamples() []collector.DataPoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]collector.DataPoint, len(l.window.Points))
	copy(out, l.window.Points)
	return out
}

func (l *ServiceLoop) scale(ctx context.Context, observed float64, desired int) {
	l.phase = PhaseScaling
	from := l.current

	sctx, cancel := context.WithTimeout(ctx, scaleTimeout)
	got, err := l.controller.SetDesiredCount(sctx, l.service, desired)
	cancel()
	if err != nil {
		// The replica count is unchanged, so the cooldown timestamp
		// stays untouched and the next tick may retry.
		l.consecutiveFailures++
		l.emitter.IncScaleFailure(l.service)
		if l.consecutiveFailures >= failureAlertThreshold {
			l.emitter.SetScaleAlert(l.service, true)
		}
		l.log.Error(err, "scale command failed",
			"desired", desired, "consecutiveFailures", l.consecutiveFailures)
		l.phase = PhaseIdle
		return
	}

	l.current = got
	l.pendingDown = 0
	l.consecutiveFailures = 0
	l.lastScale = l.clock.Now()
	l.phase = PhaseCooldown

	l.emitter.SetScaleAlert(l.service, false)
	l.emitter.EmitDesiredReplicas(l.service, desired)
	l.emitter.EmitCurrentReplicas(l.service, got)
	l.log.Info("scaled", "from", from, "to", got, "observed", observed)

	if l.history != nil {
		reason := "scale-up"
		if got < from {
			reason = "scale-down"
		}
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := l.history.RecordScalingAction(hctx, &store.ScalingAction{
			Service:      l.service,
			FromReplicas: from,
			ToReplicas:   got,
			Observed:     observed,
			Reason:       reason,
		})
		if err != nil {
			l.log.Error(err, "recording scaling action failed")
		}
	}
}

// Manager owns one ServiceLoop per configured service and drives them on
// the shared poll interval.
type Manager struct {
	loops    map[string]*ServiceLoop
	interval time.Duration
	clock    clock.Clock
	log      logr.Logger

	controller replicas.Controller
}

// NewManager builds the loops for every configured service.
func NewManager(
	cfg *config.Config,
	source collector.MetricSource,
	controller replicas.Controller,
	emitter *actuator.MetricsEmitter,
	history store.Historian,
	clk clock.Clock,
	log logr.Logger,
) *Manager {
	m := &Manager{
		loops:      make(map[string]*ServiceLoop, len(cfg.Services)),
		interval:   cfg.PollInterval(),
		clock:      clk,
		log:        log,
		controller: controller,
	}
	for _, name := range cfg.ServiceNames() {
		m.loops[name] = NewServiceLoop(name, cfg.Services[name], source, controller,
			emitter, history, clk, log)
	}
	return m
}

// Bootstrap seeds each loop from the controller's observed replica
// counts. Services that cannot be queried keep their configured minimum.
func (m *Manager) Bootstrap(ctx context.Context) {
	for name, loop := range m.loops {
		hctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		health, err := m.controller.GetHealth(hctx, name)
		cancel()
		if err != nil {
			m.log.V(1).Info("bootstrap health check failed, keeping configured minimum",
				"service", name, "error", err.Error())
			continue
		}
		if health.Count > 0 {
			loop.Seed(health.Count)
		}
	}
}

// Start launches one goroutine per service loop. The loops stop when
// ctx is done.
func (m *Manager) Start(ctx context.Context) {
	for name, loop := range m.loops {
		m.log.Info("starting autoscaler loop", "service", name, "interval", m.interval)
		go m.run(ctx, loop)
	}
}

func (m *Manager) run(ctx context.Context, loop *ServiceLoop) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.interval):
			loop.Tick(ctx)
		}
	}
}

// Rebaseline implements the post-deploy baseline hook. Unknown services
// are ignored.
func (m *Manager) Rebaseline(service string, count int) {
	if loop, ok := m.loops[service]; ok {
		loop.Rebaseline(count)
	}
}

// RecentSamples returns the retained sample window for a service, and
// whether the service is managed at all.
func (m *Manager) RecentSamples(service string) ([]collector.DataPoint, bool) {
	loop, ok := m.loops[service]
	if !ok {
		return nil, false
	}
	return loop.RecentSamples(), true
}
