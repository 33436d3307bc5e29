package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned by a Dispatcher that cannot take more work.
	ErrQueueFull = errors.New("transcode queue is full")
	// ErrPoolStopped is returned when dispatching to a stopped pool.
	ErrPoolStopped = errors.New("worker pool stopped")
	// ErrBusy is returned by Accept when the upload was staged but could not be scheduled.
	ErrBusy = errors.New("video pipeline is busy")
)

// ReconciliationError means every artifact was published but the record could not be
// marked ready. The published keys are left to the orphan sweeper.
type ReconciliationError struct {
	VideoID string
	Err     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile video %s: %v", e.VideoID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
