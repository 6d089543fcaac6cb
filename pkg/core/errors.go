package core

import "fmt"

// Kind is the error taxonomy spec.md §7 names. Only the kinds the core
// itself raises are here — InvalidImage/InvalidRequest are caught at
// ingress before admission and never reach this package; Configuration/
// ModelLoad/ModelNotFound are raised during init by pkg/model.
type Kind string

const (
	KindQueueFull       Kind = "queue_full"
	KindTimeout         Kind = "timeout"
	KindProcessingError Kind = "processing_error"
	KindShutdown        Kind = "shutdown"
)

// Error wraps a Kind with an optional cause, satisfying errors.Is/As
// against the sentinels below.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, ErrQueueFull) etc. to match any *Error with
// the same Kind, regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons. Messages are placeholders; real
// instances carry request-specific detail via New*.
var (
	ErrQueueFull       = &Error{Kind: KindQueueFull}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrProcessingError = &Error{Kind: KindProcessingError}
	ErrShutdown        = &Error{Kind: KindShutdown}
)

// NewQueueFullError reports admission refused with the queue depth at
// the time of rejection (spec.md §4.1 admit()).
func NewQueueFullError(depth, capacity int) error {
	return &Error{Kind: KindQueueFull, Msg: fmt.Sprintf("queue full: depth=%d capacity=%d", depth, capacity)}
}

// NewTimeoutError reports a submit() that exceeded requestTimeoutSeconds
// (spec.md §4.3 step 3).
func NewTimeoutError(timeout string) error {
	return &Error{Kind: KindTimeout, Msg: fmt.Sprintf("request timed out after %s", timeout)}
}

// NewProcessingError reports an encode() failure or an outputs-length
// mismatch (spec.md §4.2 steps 7-8).
func NewProcessingError(cause error) error {
	return &Error{Kind: KindProcessingError, Msg: "batch encode failed", Cause: cause}
}

// NewShutdownError reports a pending request discarded during Draining
// or Stopped (spec.md §4.2 state machine, §7).
func NewShutdownError() error {
	return &Error{Kind: KindShutdown, Msg: "worker is shutting down"}
}

// ModelLoad taxonomy — raised only during worker init; fatal to startup.
var (
	ErrConfigurationError = &Error{Kind: "configuration_error"}
	ErrModelLoadError     = &Error{Kind: "model_load_error"}
	ErrModelNotFound      = &Error{Kind: "model_not_found"}
)

func NewConfigurationError(msg string) error {
	return &Error{Kind: ErrConfigurationError.Kind, Msg: msg}
}

func NewModelLoadError(msg string, cause error) error {
	return &Error{Kind: ErrModelLoadError.Kind, Msg: msg, Cause: cause}
}

func NewModelNotFoundError(dir string) error {
	return &Error{Kind: ErrModelNotFound.Kind, Msg: fmt.Sprintf("model directory not found: %s", dir)}
}
