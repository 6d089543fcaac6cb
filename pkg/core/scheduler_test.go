package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCapability is a deterministic, in-process test double for
// Capability — each payload's embedding is a one-element Output holding
// its index within the batch.
type stubCapability struct {
	batchSize int
	batchWait time.Duration

	mu        sync.Mutex
	encodeErr error
	mismatch  bool
	seenBatch []int // records batch sizes observed by Encode
}

func (s *stubCapability) BatchSize() int           { return s.batchSize }
func (s *stubCapability) BatchWait() time.Duration { return s.batchWait }

func (s *stubCapability) Encode(_ context.Context, payloads []Payload) ([]Output, error) {
	s.mu.Lock()
	s.seenBatch = append(s.seenBatch, len(payloads))
	err := s.encodeErr
	mismatch := s.mismatch
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	n := len(payloads)
	if mismatch {
		n--
	}
	out := make([]Output, n)
	for i := range out {
		out[i] = Output{float32(i)}
	}
	return out, nil
}

func newTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestSchedulerCompletesSingleRequest(t *testing.T) {
	q := NewQueue(16)
	cap := &stubCapability{batchSize: 8, batchWait: 20 * time.Millisecond}
	sched := NewScheduler(q, cap, nil, newTestLogger())
	go sched.Run()
	defer sched.Stop()

	r := newTestRequest()
	require.NoError(t, q.Admit(r))

	select {
	case o := <-r.done:
		require.NoError(t, o.Err)
		assert.Equal(t, r.ID, o.Response.RequestID)
	case <-time.After(time.Second):
		t.Fatal("request never completed")
	}
}

func TestSchedulerFailsBatchOnEncodeError(t *testing.T) {
	q := NewQueue(16)
	cap := &stubCapability{batchSize: 8, batchWait: 10 * time.Millisecond, encodeErr: errors.New("boom")}
	sched := NewScheduler(q, cap, nil, newTestLogger())
	go sched.Run()
	defer sched.Stop()

	r := newTestRequest()
	require.NoError(t, q.Admit(r))

	select {
	case o := <-r.done:
		require.Error(t, o.Err)
		assert.ErrorIs(t, o.Err, ErrProcessingError)
	case <-time.After(time.Second):
		t.Fatal("request never completed")
	}
}

func TestSchedulerFailsBatchOnOutputLengthMismatch(t *testing.T) {
	q := NewQueue(16)
	cap := &stubCapability{batchSize: 8, batchWait: 10 * time.Millisecond, mismatch: true}
	sched := NewScheduler(q, cap, nil, newTestLogger())
	go sched.Run()
	defer sched.Stop()

	r := newTestRequest()
	require.NoError(t, q.Admit(r))

	select {
	case o := <-r.done:
		require.Error(t, o.Err)
		assert.ErrorIs(t, o.Err, ErrProcessingError)
	case <-time.After(time.Second):
		t.Fatal("request never completed")
	}
}

func TestSchedulerCoalescesConcurrentRequestsIntoFewerBatches(t *testing.T) {
	q := NewQueue(32)
	cap := &stubCapability{batchSize: 16, batchWait: 50 * time.Millisecond}
	sched := NewScheduler(q, cap, nil, newTestLogger())
	go sched.Run()
	defer sched.Stop()

	const n = 10
	var wg sync.WaitGroup
	reqs := make([]*Request, n)
	for i := 0; i < n; i++ {
		reqs[i] = newTestRequest()
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(r *Request) {
			defer wg.Done()
			require.NoError(t, q.Admit(r))
		}(reqs[i])
	}
	wg.Wait()

	for _, r := range reqs {
		select {
		case o := <-r.done:
			require.NoError(t, o.Err)
		case <-time.After(time.Second):
			t.Fatal("request never completed")
		}
	}

	cap.mu.Lock()
	defer cap.mu.Unlock()
	assert.Less(t, len(cap.seenBatch), n, "expected requests to coalesce into fewer batches than requests")
}

func TestSchedulerDrainAndFailEmptiesQueue(t *testing.T) {
	q := NewQueue(16)
	cap := &stubCapability{batchSize: 8, batchWait: 10 * time.Millisecond}
	sched := NewScheduler(q, cap, nil, newTestLogger())

	r := newTestRequest()
	require.NoError(t, q.Admit(r))

	sched.DrainAndFail(NewShutdownError())

	select {
	case o := <-r.done:
		require.Error(t, o.Err)
		assert.ErrorIs(t, o.Err, ErrShutdown)
	default:
		t.Fatal("expected request to be completed synchronously")
	}
}
