// Package target defines the contract the reconciler requires from the
// downstream calendar service: an event payload, an adapter interface, and
// an error taxonomy separating failures worth retrying from failures that
// must abort the run.
package target

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event is the payload handed to the adapter on create and update.
type Event struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool

	// CompositeID is stamped onto the created event as an ownership
	// marker, so tooling can recognize the events this bridge manages.
	CompositeID string
}

// Remote is an event as read back from the target. List returns only
// events carrying the ownership marker.
type Remote struct {
	EventID     string
	CompositeID string
	Summary     string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Range is a half-open time window [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Adapter is the capability the reconciler consumes. Create returns the
// id the target assigned. The steady-state reconciler never calls List;
// it exists for cleanup and diff tooling.
type Adapter interface {
	Create(ctx context.Context, ev Event) (string, error)
	Update(ctx context.Context, eventID string, ev Event) error
	Delete(ctx context.Context, eventID string) error
	List(ctx context.Context, r Range) ([]Remote, error)
}

// ErrNotFound reports that the addressed event does not exist on the
// target. Deletes treat it as success; updates fall back to create.
var ErrNotFound = errors.New("event not found on target")

// RetryableError wraps a transient failure (rate limit, server error,
// network trouble). RetryAfter, when nonzero, is the target's own hint
// for how long to back off.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError wraps a failure retrying cannot fix: auth rejection, a
// malformed request, or a cancelled context. It aborts the run.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsNotFound reports whether err means the addressed event is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RetryAfterHint returns the backoff duration the target asked for, or
// zero when err carries no hint.
func RetryAfterHint(err error) time.Duration {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
