package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State is one of the worker facade's six lifecycle states (spec.md
// §4.3 state machine). Transitions only ever move forward except the
// implicit Ready↔Ready steady state.
type State int32

const (
	StateUninitialised State = iota
	StateLoading
	StateWarming
	StateReady
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateLoading:
		return "loading"
	case StateWarming:
		return "warming"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker is the facade ingress handlers call into: it owns the queue and
// scheduler, exposes a blocking Submit, and enforces the state machine.
// Grounded on the teacher's pkg/worker/server.go Worker.Infer, narrowed
// from a gRPC-streamed multi-request call to a single-shot Submit per
// spec.md §4.3.
type Worker struct {
	id      string
	queue   *Queue
	sched   *Scheduler
	log     zerolog.Logger
	state   atomic.Int32
	info    ModelInfo
	stopped chan struct{}

	shutdownOnce sync.Once
}

// NewWorker constructs a Worker in StateUninitialised. Move it through
// startup with MarkLoading, MarkWarming (if warmup is enabled) and
// MarkReady. Submit refuses work only in Draining and Stopped; it does
// not check for Ready.
func NewWorker(id string, q *Queue, sched *Scheduler, log zerolog.Logger) *Worker {
	w := &Worker{
		id:      id,
		queue:   q,
		sched:   sched,
		log:     log,
		stopped: make(chan struct{}),
	}
	w.state.Store(int32(StateUninitialised))
	return w
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.log.Info().Str("worker_id", w.id).Str("state", s.String()).Msg("🔄 worker state transition")
}

// MarkLoading transitions Uninitialised→Loading. Call immediately
// before invoking the model capability's Load.
func (w *Worker) MarkLoading() { w.setState(StateLoading) }

// MarkWarming transitions Loading→Warming. Call before invoking the
// model capability's Warmup, if models.warmup_enabled is true.
func (w *Worker) MarkWarming() { w.setState(StateWarming) }

// MarkReady transitions to Ready and records the loaded model's info.
// From then on State reports StateReady, which /ready checks.
func (w *Worker) MarkReady(info ModelInfo) {
	w.info = info
	w.setState(StateReady)
}

// Info returns the loaded model's metadata. Only meaningful once
// State() is StateReady or later.
func (w *Worker) Info() ModelInfo { return w.info }

// QueueMetrics returns a snapshot of the underlying queue's counters,
// for the /info endpoint (spec.md §6).
func (w *Worker) QueueMetrics() QueueMetrics { return w.queue.Metrics() }

// Submit admits a payload, blocks until the scheduler completes it or
// requestTimeout elapses, and returns the result. Grounded on spec.md
// §4.3 submit() steps 1-5.
func (w *Worker) Submit(payload Payload, md Metadata, requestTimeout time.Duration) (*Response, error) {
	switch w.State() {
	case StateDraining, StateStopped:
		return nil, NewShutdownError()
	}

	r := newRequest(payload, md)
	if err := w.queue.Admit(r); err != nil {
		w.sched.metrics.RecordRejection()
		return nil, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case o := <-r.done:
		if o.Err != nil {
			return nil, o.Err
		}
		return o.Response, nil
	case <-timer.C:
		r.abandoned.set()
		w.sched.metrics.RecordRequestOutcome("timeout")
		w.sched.metrics.RecordError("timeout")
		w.log.Warn().Str("request_id", r.ID.String()).Dur("timeout", requestTimeout).
			Msg("⏱️ request timed out waiting for batch completion")
		return nil, NewTimeoutError(requestTimeout.String())
	}
}

// Shutdown transitions Ready→Draining, stops admitting new requests,
// waits up to shutdownTimeout for the scheduler to finish in-flight and
// already-queued work, then forces Stopped and fails anything left.
// Grounded on spec.md §9 Open Question 1: shutdown_timeout_s is now an
// enforced hard deadline rather than advisory.
func (w *Worker) Shutdown(shutdownTimeout time.Duration) {
	w.shutdownOnce.Do(func() {
		w.setState(StateDraining)

		drained := make(chan struct{})
		go func() {
			for !w.queue.IsEmpty() {
				time.Sleep(5 * time.Millisecond)
			}
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(shutdownTimeout):
			w.log.Warn().Str("worker_id", w.id).Dur("timeout", shutdownTimeout).
				Msg("⌛ shutdown timeout exceeded, forcing remaining requests to fail")
		}

		w.sched.Stop()
		w.sched.DrainAndFail(NewShutdownError())
		w.setState(StateStopped)
		close(w.stopped)
	})
}

// Stopped returns a channel closed once Shutdown has completed.
func (w *Worker) Stopped() <-chan struct{} { return w.stopped }
