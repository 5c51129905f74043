package httpclient

import "fmt"

// WorkerError is the base error for failed AI worker calls. StatusCode carries
// the worker's HTTP status for client (4xx) failures, Detail the raw response
// body when one was available.
type WorkerError struct {
	Message    string
	StatusCode int
	Detail     string
}

func (e *WorkerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("worker request failed (%d): %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("worker request failed (%d): %s", e.StatusCode, e.Message)
}

// WorkerUnavailableError is raised after every retry attempt is exhausted.
// It always carries status 503; Timeout records whether the last attempt
// failed on its deadline rather than on a transport or protocol error.
type WorkerUnavailableError struct {
	WorkerError
	Attempts int
	Timeout  bool
}

func newUnavailable(attempts int, timeout bool, lastCause string) *WorkerUnavailableError {
	kind := "request failed"
	if timeout {
		kind = "request timed out"
	}
	return &WorkerUnavailableError{
		WorkerError: WorkerError{
			Message:    fmt.Sprintf("worker unavailable: %s after %d attempts: %s", kind, attempts, lastCause),
			StatusCode: 503,
		},
		Attempts: attempts,
		Timeout:  timeout,
	}
}

func (e *WorkerUnavailableError) Error() string {
	return e.Message
}
