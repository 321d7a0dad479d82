package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownExecution          = errors.New("execution: unknown execution")
	ErrExecutionAlreadyFinalized = errors.New("execution: execution already finalized")
	ErrInvalidEventKind          = errors.New("execution: invalid event kind")
	ErrInvalidWindow             = errors.New("execution: window end must not precede window start")
)

// Store is the execution tracker. Implementations are safe for concurrent
// use; appends are serialized per execution and reads return snapshots.
type Store interface {
	// Begin creates a running execution for the given window.
	Begin(ctx context.Context, windowStart, windowEnd time.Time) (uuid.UUID, error)

	// Append records one event. It fails with ErrUnknownExecution or
	// ErrExecutionAlreadyFinalized.
	Append(ctx context.Context, executionID uuid.UUID, kind Kind, aggregateID string, payload Payload) (Event, error)

	// Complete derives counts from the log, stamps the end time and makes the
	// record immutable. A second call fails with ErrExecutionAlreadyFinalized.
	Complete(ctx context.Context, executionID uuid.UUID, opts ...CompleteOption) (*Record, error)

	GetSummary(ctx context.Context, executionID uuid.UUID) (*Record, error)
	GetEvents(ctx context.Context, executionID uuid.UUID) ([]Event, error)
}

// CompleteOptions are the optional flags of Complete.
type CompleteOptions struct {
	Cancelled bool
}

// CompleteOption configures Complete.
type CompleteOption func(*CompleteOptions)

// WithCancelled marks the run as stopped early by cancellation.
func WithCancelled() CompleteOption {
	return func(o *CompleteOptions) {
		o.Cancelled = true
	}
}

// ApplyCompleteOptions folds opts into CompleteOptions.
func ApplyCompleteOptions(opts []CompleteOption) CompleteOptions {
	var o CompleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ValidateWindow checks that the window is ordered.
func ValidateWindow(start, end time.Time) error {
	if !end.IsZero() && end.Before(start) {
		return ErrInvalidWindow
	}
	return nil
}
