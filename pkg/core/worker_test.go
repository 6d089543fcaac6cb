package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(q *Queue, cap Capability) (*Worker, *Scheduler) {
	sched := NewScheduler(q, cap, nil, newTestLogger())
	w := NewWorker("worker-test", q, sched, newTestLogger())
	w.MarkLoading()
	w.MarkWarming()
	w.MarkReady(ModelInfo{Name: "stub", BatchSize: cap.BatchSize(), BatchWait: cap.BatchWait()})
	go sched.Run()
	return w, sched
}

func TestWorkerSubmitSucceeds(t *testing.T) {
	q := NewQueue(16)
	cap := &stubCapability{batchSize: 8, batchWait: 10 * time.Millisecond}
	w, _ := newTestWorker(q, cap)
	defer w.sched.Stop()

	resp, err := w.Submit(Payload{Text: "hi"}, nil, time.Second)
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, StateReady, w.State())
}

func TestWorkerSubmitTimesOutWithoutCancellingBatch(t *testing.T) {
	q := NewQueue(16)
	cap := &stubCapability{batchSize: 8, batchWait: time.Hour}
	w, sched := newTestWorker(q, cap)
	defer sched.Stop()

	// Holding the stub's lock parks Encode mid-batch, so the request is
	// already drained and in flight when Submit's timeout fires.
	cap.mu.Lock()
	_, err := w.Submit(Payload{Text: "slow"}, nil, 20*time.Millisecond)
	cap.mu.Unlock()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWorkerSubmitRejectsWhenQueueFull(t *testing.T) {
	q := NewQueue(1)
	cap := &stubCapability{batchSize: 1, batchWait: time.Hour}
	sched := NewScheduler(q, cap, nil, newTestLogger())
	w := NewWorker("worker-full", q, sched, newTestLogger())
	w.MarkLoading()
	w.MarkReady(ModelInfo{Name: "stub"})
	// Scheduler deliberately never started: the queue's one slot stays
	// occupied, so the second Submit is guaranteed to see it full.
	require.NoError(t, q.Admit(newTestRequest()))

	_, submitErr := w.Submit(Payload{Text: "second"}, nil, 50*time.Millisecond)
	require.Error(t, submitErr)
	assert.ErrorIs(t, submitErr, ErrQueueFull)
}

func TestWorkerShutdownDrainsPendingThenStops(t *testing.T) {
	q := NewQueue(16)
	cap := &stubCapability{batchSize: 8, batchWait: 5 * time.Millisecond}
	w, _ := newTestWorker(q, cap)

	resultCh := make(chan error, 1)
	go func() {
		_, err := w.Submit(Payload{Text: "in-flight"}, nil, time.Second)
		resultCh <- err
	}()

	w.Shutdown(time.Second)
	assert.Equal(t, StateStopped, w.State())

	select {
	case <-resultCh:
	case <-time.After(time.Second):
		t.Fatal("in-flight request never resolved")
	}

	_, err := w.Submit(Payload{Text: "after-shutdown"}, nil, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestWorkerShutdownForcesDeadlineOnStuckQueue(t *testing.T) {
	q := NewQueue(16)
	cap := &stubCapability{batchSize: 1, batchWait: time.Hour}
	sched := NewScheduler(q, cap, nil, newTestLogger())
	w := NewWorker("worker-stuck", q, sched, newTestLogger())
	w.MarkLoading()
	w.MarkReady(ModelInfo{Name: "stub"})
	go sched.Run()

	// Park the scheduler inside Encode on a first request so the second
	// one stays queued past the shutdown deadline.
	cap.mu.Lock()
	require.NoError(t, q.Admit(newTestRequest()))
	for !q.IsEmpty() {
		time.Sleep(time.Millisecond)
	}
	r := newTestRequest()
	require.NoError(t, q.Admit(r))
	go func() {
		time.Sleep(100 * time.Millisecond)
		cap.mu.Unlock()
	}()

	start := time.Now()
	w.Shutdown(30 * time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, StateStopped, w.State())
	assert.Less(t, elapsed, 500*time.Millisecond)

	select {
	case o := <-r.done:
		assert.ErrorIs(t, o.Err, ErrShutdown)
	default:
		t.Fatal("expected pending request to be failed on forced shutdown")
	}
}
