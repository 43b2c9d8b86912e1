package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means polling gave up before the job reached a terminal
	// status. The job itself may still finish on the server.
	ErrTimeout = errors.New("analysis timed out")

	// ErrJobRemoved means the server no longer knows the job.
	ErrJobRemoved = errors.New("analysis removed")

	// ErrJobFailed is matched by every *JobFailedError.
	ErrJobFailed = errors.New("analysis failed")

	ErrNotReady = errors.New("analysis is not completed")
	ErrDisposed = errors.New("tracker disposed")
)

// JobFailedError is a FAILED status declared by the server.
type JobFailedError struct {
	ID      string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analysis %s failed", e.ID)
	}
	return fmt.Sprintf("analysis %s failed: %s", e.ID, e.Message)
}

func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}
