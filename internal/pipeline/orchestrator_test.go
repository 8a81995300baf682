package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/taskops/shiplift/internal/actuator"
	"github.com/taskops/shiplift/internal/config"
	"github.com/taskops/shiplift/internal/events"
	"github.com/taskops/shiplift/internal/replicas"
	"github.com/taskops/shiplift/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Services: map[string]config.ServiceSpec{
			"taskapi": {MinReplicas: 1, MaxReplicas: 5, TargetUtilization: 0.5, CooldownSeconds: 60},
			"worker":  {MinReplicas: 1, MaxReplicas: 3, TargetUtilization: 0.7, CooldownSeconds: 60},
		},
		StageTimeoutSeconds: 5,
		PollIntervalSeconds: 1,
		RetryBound:          2,
	}
}

type recordingBaseliner struct {
	mu    sync.Mutex
	calls map[string]int
}

func newRecordingBaseliner() *recordingBaseliner {
	return &recordingBaseliner{calls: make(map[string]int)}
}

func (b *recordingBaseliner) Rebaseline(service string, count int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[service] = count
}

func (b *recordingBaseliner) count(service string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.calls[service]
	return n, ok
}

type recordingHistorian struct {
	mu   sync.Mutex
	runs []store.RunRecord
}

func (h *recordingHistorian) Bootstrap(context.Context) error { return nil }
func (h *recordingHistorian) Ping(context.Context) error      { return nil }
func (h *recordingHistorian) RecordRun(_ context.Context, rec *store.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, *rec)
	return nil
}
func (h *recordingHistorian) RecordScalingAction(context.Context, *store.ScalingAction) error {
	return nil
}
func (h *recordingHistorian) ListRuns(context.Context, int) ([]store.RunRecord, error) {
	return nil, nil
}
func (h *recordingHistorian) ListScalingActions(context.Context, string, int) ([]store.ScalingAction, error) {
	return nil, nil
}
func (h *recordingHistorian) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (h *recordingHistorian) recorded() []store.RunRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]store.RunRecord, len(h.runs))
	copy(out, h.runs)
	return out
}

func newTestOrchestrator(t *testing.T, exec StageExecutor, ctrl replicas.Controller) (*Orchestrator, chan events.StageEvent) {
	t.Helper()
	cfg := testConfig()
	if exec == nil {
		exec = NewLoggingExecutor(logr.Discard())
	}
	runner := NewRunner(exec, cfg.StageTimeout(), cfg.RetryBound, clock.RealClock{}, logr.Discard())
	emitter := actuator.NewMetricsEmitter(prometheus.NewRegistry())
	sink := make(chan events.StageEvent, 128)
	o := NewOrchestrator(cfg, runner, ctrl, emitter, sink, clock.RealClock{}, logr.Discard())
	return o, sink
}

func mustFinish(t *testing.T, o *Orchestrator, id string) PipelineRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := o.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

func TestRunSucceedsAndRebaselines(t *testing.T) {
	fake := replicas.NewFakeController()
	fake.SetCount("taskapi", 3)
	baseliner := newRecordingBaseliner()

	o, _ := newTestOrchestrator(t, nil, fake)
	o.WithBaseliner(baseliner)

	run, err := o.Submit(context.Background(), Change{ID: "v2", Services: []string{"taskapi"}})
	require.NoError(t, err)
	require.Equal(t, RunPending, run.Status)

	final := mustFinish(t, o, run.ID)
	assert.Equal(t, RunSucceeded, final.Status)
	for _, st := range final.Stages {
		assert.Equal(t, StatusPassed, st.Status, "stage %s", st.Stage)
	}

	assert.Equal(t, "v2", fake.Version("taskapi"))
	assert.Contains(t, fake.CallLog(), "rollout taskapi v2")
	assert.Contains(t, fake.CallLog(), "health taskapi")

	n, ok := baseliner.count("taskapi")
	require.True(t, ok, "baseline was not reset after deploy")
	assert.Equal(t, 3, n)
}

func TestRunFailsFastOnStageFailure(t *testing.T) {
	exec := ExecutorFunc(func(_ context.Context, stage Stage, change Change, input string) (string, string, error) {
		if stage == StageTest {
			return "", "logs/v3/test", errors.New("2 tests failed")
		}
		return string(stage), "", nil
	})
	fake := replicas.NewFakeController()
	o, _ := newTestOrchestrator(t, exec, fake)

	run, err := o.Submit(context.Background(), Change{ID: "v3", Services: []string{"taskapi"}})
	require.NoError(t, err)
	final := mustFinish(t, o, run.ID)

	assert.Equal(t, RunFailed, final.Status)
	assert.Equal(t, StatusPassed, final.Stages[0].Status)
	assert.Equal(t, StatusFailed, final.Stages[1].Status)
	assert.Equal(t, KindTest, final.Stages[1].Kind)
	for _, st := range final.Stages[2:] {
		assert.Equal(t, StatusSkipped, st.Status, "stage %s", st.Stage)
	}

	failure := final.FirstFailure()
	require.NotNil(t, failure)
	assert.Equal(t, StageTest, failure.Stage)

	// A failed verification never reaches the replica controller.
	assert.Empty(t, fake.CallLog())
}

func TestSubmitRejectsUnknownService(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, replicas.NewFakeController())

	_, err := o.Submit(context.Background(), Change{ID: "v1", Services: []string{"ghost"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidChange)

	_, err = o.Submit(context.Background(), Change{ID: "", Services: []string{"taskapi"}})
	assert.ErrorIs(t, err, ErrInvalidChange)
}

func TestPartialRolloutIsRolledBack(t *testing.T) {
	fake := replicas.NewFakeController()
	fake.SetCount("taskapi", 2)
	fake.RolloutErr = fmt.Errorf("replica 2 of 4: %w", replicas.ErrPartialRollout)

	o, _ := newTestOrchestrator(t, nil, fake)
	run, err := o.Submit(context.Background(), Change{ID: "v4", Services: []string{"taskapi"}})
	require.NoError(t, err)
	final := mustFinish(t, o, run.ID)

	assert.Equal(t, RunRolledBack, final.Status)
	failure := final.FirstFailure()
	require.NotNil(t, failure)
	assert.Equal(t, StageDeploy, failure.Stage)
	assert.Equal(t, KindDeploy, failure.Kind)
	assert.Contains(t, fake.CallLog(), "rollback taskapi ")
}

func TestCleanRolloutFailureDoesNotRollBack(t *testing.T) {
	fake := replicas.NewFakeController()
	fake.RolloutErr = fmt.Errorf("image pull: %w", replicas.ErrRollout)

	o, _ := newTestOrchestrator(t, nil, fake)
	run, err := o.Submit(context.Background(), Change{ID: "v5", Services: []string{"taskapi"}})
	require.NoError(t, err)
	final := mustFinish(t, o, run.ID)

	assert.Equal(t, RunFailed, final.Status)
	for _, call := range fake.CallLog() {
		assert.NotContains(t, call, "rollback")
	}
}

func TestSameServiceRunsAreSerialized(t *testing.T) {
	var active, maxActive atomic.Int32
	exec := ExecutorFunc(func(_ context.Context, _ Stage, _ Change, _ string) (string, string, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "ok", "", nil
	})

	fake := replicas.NewFakeController()
	fake.SetCount("taskapi", 1)
	o, _ := newTestOrchestrator(t, exec, fake)

	first, err := o.Submit(context.Background(), Change{ID: "v6", Services: []string{"taskapi"}})
	require.NoError(t, err)
	second, err := o.Submit(context.Background(), Change{ID: "v7", Services: []string{"taskapi"}})
	require.NoError(t, err)

	assert.Equal(t, RunSucceeded, mustFinish(t, o, first.ID).Status)
	assert.Equal(t, RunSucceeded, mustFinish(t, o, second.ID).Status)
	assert.Equal(t, int32(1), maxActive.Load(), "stages of same-service runs overlapped")
}

func TestCancelStopsAtStageBoundary(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	exec := ExecutorFunc(func(_ context.Context, stage Stage, _ Change, _ string) (string, string, error) {
		if stage == StageLint {
			once.Do(func() { close(started) })
			<-release
		}
		return "ok", "", nil
	})

	o, _ := newTestOrchestrator(t, exec, replicas.NewFakeController())
	run, err := o.Submit(context.Background(), Change{ID: "v8", Services: []string{"taskapi"}})
	require.NoError(t, err)

	<-started
	require.NoError(t, o.Cancel(run.ID))
	close(release)

	final := mustFinish(t, o, run.ID)
	assert.Equal(t, RunFailed, final.Status)

	// The in-flight stage completed; the run stopped before the next one.
	assert.Equal(t, StatusPassed, final.Stages[0].Status)
	assert.Equal(t, StatusFailed, final.Stages[1].Status)
	assert.Equal(t, KindCancelled, final.Stages[1].Kind)
	for _, st := range final.Stages[2:] {
		assert.Equal(t, StatusSkipped, st.Status)
	}
}

func TestRunHistoryIsRecorded(t *testing.T) {
	fake := replicas.NewFakeController()
	fake.SetCount("taskapi", 1)
	historian := &recordingHistorian{}

	o, _ := newTestOrchestrator(t, nil, fake)
	o.WithHistory(historian)

	run, err := o.Submit(context.Background(), Change{ID: "v9", Services: []string{"taskapi"}})
	require.NoError(t, err)
	mustFinish(t, o, run.ID)

	recs := historian.recorded()
	require.Len(t, recs, 1)
	assert.Equal(t, run.ID, recs[0].RunID)
	assert.Equal(t, "v9", recs[0].ChangeID)
	assert.Equal(t, string(RunSucceeded), recs[0].Status)
}

func TestStageEventsArePublished(t *testing.T) {
	fake := replicas.NewFakeController()
	fake.SetCount("taskapi", 1)
	o, sink := newTestOrchestrator(t, nil, fake)

	run, err := o.Submit(context.Background(), Change{ID: "v10", Services: []string{"taskapi"}})
	require.NoError(t, err)
	mustFinish(t, o, run.ID)

	var got []events.StageEvent
	for {
		select {
		case ev := <-sink:
			got = append(got, ev)
			continue
		default:
		}
		break
	}

	require.NotEmpty(t, got)
	assert.Equal(t, "run", got[0].Stage)
	assert.Equal(t, string(RunRunning), got[0].Status)
	last := got[len(got)-1]
	assert.Equal(t, "run", last.Stage)
	assert.Equal(t, string(RunSucceeded), last.Status)
}

func TestUnknownRunLookups(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, replicas.NewFakeController())

	_, err := o.GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, o.Cancel("nope"), ErrRunNotFound)
}
