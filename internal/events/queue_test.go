package events

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []StageEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, event StageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingPublisher) last() StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return StageEvent{}
	}
	return r.events[len(r.events)-1]
}

var _ = Describe("Queue", func() {
	var (
		ch     chan StageEvent
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ch = make(chan StageEvent, 16)
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
		}
	})

	start := func(publishers ...Publisher) {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		q := NewQueue(ch, publishers, logr.Discard())
		go q.Loop(ctx)
	}

	It("fans events out to every registered publisher", func() {
		first := &recordingPublisher{}
		second := &recordingPublisher{}
		start(first, second)

		ch <- StageEvent{RunID: "run-1", Service: "taskapi", Stage: "lint", Status: "Passed"}

		Eventually(first.count).Should(Equal(1))
		Eventually(second.count).Should(Equal(1))
		Expect(first.last().Stage).To(Equal("lint"))
	})

	It("keeps delivering after a publisher error", func() {
		failing := &recordingPublisher{err: errors.New("endpoint down")}
		healthy := &recordingPublisher{}
		start(failing, healthy)

		ch <- StageEvent{RunID: "run-1", Stage: "test", Status: "Failed"}
		ch <- StageEvent{RunID: "run-1", Stage: "run", Status: "Failed"}

		Eventually(healthy.count).Should(Equal(2))
		Eventually(failing.count).Should(Equal(2))
	})

	It("stops when the channel is closed", func() {
		rec := &recordingPublisher{}
		start(rec)

		ch <- StageEvent{RunID: "run-1", Stage: "build", Status: "Passed"}
		close(ch)

		Eventually(rec.count).Should(Equal(1))
		Consistently(rec.count).Should(Equal(1))
	})
})
