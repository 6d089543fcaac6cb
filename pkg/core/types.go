// Package core implements the dynamic batching scheduler: the bounded
// request queue, the per-worker batch scheduler loop, and the worker
// facade that ingress handlers call into. This is the sole subject of
// spec.md — everything else in this module is a collaborator around it.
package core

import (
	"time"

	"github.com/google/uuid"
)

// Image is an opaque handle to image bytes. Decoding and resizing are an
// external collaborator (spec.md §1) — the core never looks inside it.
type Image struct {
	Bytes       []byte
	ContentType string
}

// Payload is the per-item unit the model capability consumes. Re-expresses
// the source's {"image": ..., "text": ...} dict as a typed struct
// (spec.md §9).
type Payload struct {
	Image Image
	Text  string // optional
}

// Output is the opaque per-item value a model capability produces.
// Embedding models return a float vector; the core never interprets it.
type Output []float32

// Metadata is a small, unordered bag of caller-supplied key/value pairs
// attached to a Request. It never affects scheduling.
type Metadata map[string]string

// Request is a single admitted unit of work. It is created on ingress,
// mutated never after enqueue, and completed exactly once.
type Request struct {
	ID         uuid.UUID
	Payload    Payload
	EnqueueTs  time.Time
	Metadata   Metadata
	done       chan Outcome // one-shot completion signal, buffered 1
	abandoned  *abandonFlag // set by the waiter on timeout; scheduler checks before recording outcome metrics
}

// Outcome is the two-state result of a Request's completion: either a
// Response or an Error, never both.
type Outcome struct {
	Response *Response
	Err      error
}

// Response is produced by the scheduler on a successful batch and
// delivered to the original waiter.
type Response struct {
	Output         Output
	RequestID      uuid.UUID
	ProcessingTime time.Duration
	BatchSize      int
}

// ModelInfo describes a loaded model. Immutable after load.
type ModelInfo struct {
	Name        string
	// Variant disambiguates two model directories that declare the same
	// Name but are different backbones (spec.md §9 design note); the
	// loader keys its registry on the directory's absolute path, never
	// on Name or Variant, but surfaces Variant here for display/debug.
	Variant     string
	Version     string
	Description string
	BatchSize   int
	BatchWait   time.Duration
	Metadata    map[string]string
}

// abandonFlag is a tiny concurrency-safe one-shot bool: the waiter sets
// it on timeout so the scheduler's eventual fire knows not to double
// count the request's outcome metric (submit() already recorded the
// timeout) and logs the discard instead — the completion channel is
// always fired regardless, so the scheduler never blocks on a reader
// that walked away.
type abandonFlag struct {
	ch chan struct{}
}

func newAbandonFlag() *abandonFlag {
	return &abandonFlag{ch: make(chan struct{})}
}

func (f *abandonFlag) set() {
	select {
	case <-f.ch:
	default:
		close(f.ch)
	}
}

func (f *abandonFlag) isSet() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// newRequest allocates a Request with a fresh id and one-shot completion
// channel. The channel is buffered 1 so the scheduler never blocks
// firing it, whether or not a waiter is still listening.
func newRequest(p Payload, md Metadata) *Request {
	return &Request{
		ID:        uuid.New(),
		Payload:   p,
		EnqueueTs: time.Now(),
		Metadata:  md,
		done:      make(chan Outcome, 1),
		abandoned: newAbandonFlag(),
	}
}

// complete fires the completion signal exactly once. The channel is
// buffered 1 precisely so the first call never blocks; calling it twice
// for the same Request is a scheduler bug, and the second call blocks
// forever whenever the first Outcome has not been received.
func (r *Request) complete(o Outcome) {
	r.done <- o
}
