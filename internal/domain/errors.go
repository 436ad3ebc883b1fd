package domain

import (
	"context"
	"errors"
)

var (
	// ErrEmptyIdentifier signals that a request carried no dynamic id.
	ErrEmptyIdentifier = errors.New("dynamic id is empty")
	// ErrQueueFull signals that the job queue reached its configured depth.
	ErrQueueFull = errors.New("render queue is full")
	// ErrShuttingDown signals that the queue no longer accepts or runs jobs.
	ErrShuttingDown = errors.New("render queue is shutting down")
	// ErrBackendNotReady signals that the automation backend has not reported readiness yet.
	ErrBackendNotReady = errors.New("automation backend not ready")
	// ErrContentNotFound signals that the page reports the requested post does not exist.
	ErrContentNotFound = errors.New("content not found")
	// ErrWaitTimeout signals that a bounded wait for page structure expired.
	ErrWaitTimeout = errors.New("wait timed out")
)

// StepError ties a pipeline failure to the step that produced it.
type StepError struct {
	Step string
	Code ErrorCode
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Step + ": " + string(e.Code)
	}
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err with the step name and failure class.
func NewStepError(step string, code ErrorCode, err error) *StepError {
	return &StepError{Step: step, Code: code, Err: err}
}

// Classify maps an error onto the code reported to callers.
func Classify(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	switch {
	case errors.Is(err, ErrContentNotFound):
		return CodeNotFound
	case errors.Is(err, ErrQueueFull):
		return CodeQueueFull
	case errors.Is(err, ErrShuttingDown):
		return CodeShuttingDown
	case errors.Is(err, ErrBackendNotReady):
		return CodeBackendNotReady
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) && stepErr.Code != "" {
		return stepErr.Code
	}
	if errors.Is(err, ErrWaitTimeout) {
		return CodeWaitTimeout
	}
	return CodeInternal
}
