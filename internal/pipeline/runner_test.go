package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
)

func TestRunnerOutcomes(t *testing.T) {
	change := Change{ID: "change-1", Services: []string{"taskapi"}}

	tests := []struct {
		name         string
		stage        Stage
		retryBound   int
		failures     int32 // attempts that fail before one succeeds; -1 fails forever
		wantStatus   StageStatus
		wantKind     FailureKind
		wantAttempts int
	}{
		{
			name:         "Test case 1: passing stage succeeds on the first attempt",
			stage:        StageBuild,
			retryBound:   3,
			failures:     0,
			wantStatus:   StatusPassed,
			wantAttempts: 1,
		},
		{
			name:         "Test case 2: deterministic stage is never retried",
			stage:        StageLint,
			retryBound:   3,
			failures:     -1,
			wantStatus:   StatusFailed,
			wantKind:     KindLint,
			wantAttempts: 1,
		},
		{
			name:         "Test case 3: transient stage retries until it succeeds",
			stage:        StageSecurityScan,
			retryBound:   3,
			failures:     2,
			wantStatus:   StatusPassed,
			wantAttempts: 3,
		},
		{
			name:         "Test case 4: transient stage fails after exhausting the retry bound",
			stage:        StagePublish,
			retryBound:   2,
			failures:     -1,
			wantStatus:   StatusFailed,
			wantKind:     KindPublish,
			wantAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			exec := ExecutorFunc(func(_ context.Context, _ Stage, _ Change, _ string) (string, string, error) {
				n := attempts.Add(1)
				if tt.failures < 0 || n <= tt.failures {
					return "", "", errors.New("toolchain error")
				}
				return "artifact", "logs/change-1", nil
			})

			r := NewRunner(exec, time.Second, tt.retryBound, clock.RealClock{}, logr.Discard())
			res := r.Run(context.Background(), tt.stage, change, "")

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantKind, res.Kind)
			assert.Equal(t, tt.wantAttempts, res.Attempts)
		})
	}
}

func TestRunnerTimeoutIsClassified(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, _ Stage, _ Change, _ string) (string, string, error) {
		<-ctx.Done()
		return "", "", ctx.Err()
	})

	r := NewRunner(exec, 20*time.Millisecond, 0, clock.RealClock{}, logr.Discard())
	res := r.Run(context.Background(), StageBuild, Change{ID: "c1", Services: []string{"taskapi"}}, "")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, KindTimeout, res.Kind)
}

func TestRunnerCancelledRunIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var attempts atomic.Int32
	exec := ExecutorFunc(func(_ context.Context, _ Stage, _ Change, _ string) (string, string, error) {
		attempts.Add(1)
		cancel()
		return "", "", context.Canceled
	})

	r := NewRunner(exec, time.Second, 3, clock.RealClock{}, logr.Discard())
	res := r.Run(ctx, StageSecurityScan, Change{ID: "c1", Services: []string{"taskapi"}}, "")

	require.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, KindCancelled, res.Kind)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRunnerPassesOutputBetweenStages(t *testing.T) {
	exec := ExecutorFunc(func(_ context.Context, stage Stage, _ Change, input string) (string, string, error) {
		return input + ">" + string(stage), "", nil
	})

	r := NewRunner(exec, time.Second, 0, clock.RealClock{}, logr.Discard())
	first := r.Run(context.Background(), StageLint, Change{ID: "c1", Services: []string{"taskapi"}}, "src")
	second := r.Run(context.Background(), StageTest, Change{ID: "c1", Services: []string{"taskapi"}}, first.Output)

	assert.Equal(t, "src>lint>test", second.Output)
}
