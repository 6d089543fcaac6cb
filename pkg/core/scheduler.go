package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Capability is the model-side contract the scheduler drains batches
// into. pkg/model implements it; core only depends on this interface so
// it stays testable without a real model loaded.
type Capability interface {
	// Encode runs one batch through the model and returns exactly one
	// Output per Payload, in order.
	Encode(ctx context.Context, payloads []Payload) ([]Output, error)
	BatchSize() int
	BatchWait() time.Duration
}

// Metrics receives both the scheduler's batch-shape observations and the
// worker facade's per-request outcome counters — spec.md §4.2 steps 6/8
// assign the former to the scheduler and §4.3's "Side effects" list
// assigns the latter to submit(); both land on the same sink in
// practice, so Scheduler and Worker (same package, sharing one instance)
// depend on a single interface rather than two. pkg/metrics implements
// this against Prometheus; tests can use a no-op or recording stub.
type Metrics interface {
	ObserveBatchSize(n int)
	ObserveBatchWait(d time.Duration)
	ObserveRequestDuration(d time.Duration)
	IncBatchesTotal()
	IncBatchFailures()
	SetQueueDepth(depth int)

	// RecordRequestOutcome increments inference_requests_total{status}
	// (spec.md §4.2 step 6/8, §4.3 "Side effects").
	RecordRequestOutcome(status string)
	// RecordRejection increments inference_queue_rejections_total
	// (spec.md §4.3 "Side effects... on rejection queue_rejections").
	RecordRejection()
	// RecordError increments inference_errors_total{error_type}.
	RecordError(errorType string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBatchSize(int)                 {}
func (noopMetrics) ObserveBatchWait(time.Duration)       {}
func (noopMetrics) ObserveRequestDuration(time.Duration) {}
func (noopMetrics) IncBatchesTotal()                     {}
func (noopMetrics) IncBatchFailures()                    {}
func (noopMetrics) SetQueueDepth(int)                    {}
func (noopMetrics) RecordRequestOutcome(string)          {}
func (noopMetrics) RecordRejection()                     {}
func (noopMetrics) RecordError(string)                   {}

// Scheduler runs the single-goroutine batch loop: drain, encode,
// fan-out. Grounded on the teacher's pkg/worker/batcher.go Batcher, with
// the adaptive wait-tuning (adaptWait) and priority removed — spec.md §9
// fixes batch(B) and wait(D) for the lifetime of the batch and forbids
// per-request priority.
type Scheduler struct {
	queue   *Queue
	cap     Capability
	metrics Metrics
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a Scheduler. metrics may be nil, in which case
// observations are discarded.
func NewScheduler(q *Queue, capability Capability, metrics Metrics, log zerolog.Logger) *Scheduler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		queue:   q,
		cap:     capability,
		metrics: metrics,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Run executes the batch loop until Stop is called. Intended to be
// launched in its own goroutine; Run returns once the cycle in progress
// at cancellation has finished. It does not empty the queue on exit.
func (s *Scheduler) Run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		s.runOnce()
	}
}

// runOnce executes a single drain→encode→fan-out cycle (spec.md §4.2
// steps 1-9), recovering from any panic raised by the model capability
// so one bad batch never kills the scheduler goroutine. batch is
// declared before the deferred recover so a panic anywhere after the
// drain — including inside encode itself — still has the drained
// batch in scope to fail out (spec.md:41: a batched request must never
// be dropped without firing its completion).
func (s *Scheduler) runOnce() {
	var batch []*Request
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Int("batch_size", len(batch)).
				Msg("💥 scheduler recovered from panic in batch cycle")
			if len(batch) > 0 {
				s.failAll(batch, NewProcessingError(fmt.Errorf("panic recovered: %v", r)))
				batch = nil
			}
			time.Sleep(100 * time.Millisecond)
		}
	}()

	waitStart := time.Now()
	batch = s.queue.DrainContext(s.ctx, s.cap.BatchSize(), s.cap.BatchWait())
	if len(batch) == 0 {
		return
	}
	batchWait := time.Since(waitStart)
	s.metrics.ObserveBatchWait(batchWait)
	s.metrics.ObserveBatchSize(len(batch))
	s.metrics.SetQueueDepth(s.queue.Depth())
	s.log.Debug().Int("batch_size", len(batch)).Dur("wait_ms", batchWait).
		Msg("📦 dispatching batch to model")

	payloads := make([]Payload, len(batch))
	for i, r := range batch {
		payloads[i] = r.Payload
	}

	outputs, err := s.cap.Encode(s.ctx, payloads)
	s.metrics.IncBatchesTotal()

	if err != nil {
		s.metrics.IncBatchFailures()
		s.log.Error().Err(err).Int("batch_size", len(batch)).
			Msg("❌ batch encode failed")
		s.failAll(batch, NewProcessingError(err))
		batch = nil
		return
	}
	if len(outputs) != len(batch) {
		s.metrics.IncBatchFailures()
		s.log.Error().Int("want", len(batch)).Int("got", len(outputs)).Msg("⚠️ batch output length mismatch")
		s.failAll(batch, NewProcessingError(nil))
		batch = nil
		return
	}

	for i, r := range batch {
		processingTime := time.Since(r.EnqueueTs)
		s.completeSuccess(r, &Response{
			Output:         outputs[i],
			RequestID:      r.ID,
			ProcessingTime: processingTime,
			BatchSize:      len(batch),
		})
	}
	s.log.Debug().Int("batch_size", len(batch)).Dur("processing_ms", time.Since(waitStart)).
		Msg("✅ batch completed successfully")
	batch = nil
}

// completeSuccess fires r's completion signal with a successful
// Response. If the waiter already abandoned r (submit timed out), the
// Response is still delivered to the buffered channel so it's discarded
// harmlessly, but no request_duration/outcome metrics are recorded —
// submit() already recorded this request as a timeout.
func (s *Scheduler) completeSuccess(r *Request, resp *Response) {
	if r.abandoned.isSet() {
		s.log.Debug().Str("request_id", r.ID.String()).Msg("🕳️ discarding completion for abandoned request")
		r.complete(Outcome{Response: resp})
		return
	}
	s.metrics.ObserveRequestDuration(resp.ProcessingTime)
	s.metrics.RecordRequestOutcome("success")
	r.complete(Outcome{Response: resp})
}

// completeFailure fires r's completion signal with err. Same
// abandoned-request accounting rule as completeSuccess.
func (s *Scheduler) completeFailure(r *Request, err error) {
	if r.abandoned.isSet() {
		s.log.Debug().Str("request_id", r.ID.String()).Msg("🕳️ discarding completion for abandoned request")
		r.complete(Outcome{Err: err})
		return
	}
	s.metrics.RecordRequestOutcome("error")
	r.complete(Outcome{Err: err})
}

func (s *Scheduler) failAll(batch []*Request, err error) {
	for _, r := range batch {
		s.completeFailure(r, err)
	}
}

// Stop signals the loop to exit — interrupting an in-progress Drain
// wait rather than waiting it out — and blocks until the loop has.
// Stop returns only after Run has returned, so calling it on a
// Scheduler whose Run is never started blocks forever.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
}

// DrainAndFail empties the queue, failing every pending request with
// err. Used during shutdown once the scheduler goroutine has stopped
// (spec.md §4.2 Draining state).
func (s *Scheduler) DrainAndFail(err error) {
	s.failAll(s.queue.DrainAll(), err)
}
