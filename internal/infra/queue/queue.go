package queue

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job id is unknown to the state store.
var ErrJobNotFound = errors.New("queue: job not found")

// JobState tracks where a job sits in its broker lifecycle.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateRemoved   JobState = "removed"
)

// Options controls how a job is enqueued. Priority is ranked with lower
// numbers first. Attempts is the total number of executions allowed before
// the job is marked failed; Backoff is the base of the exponential delay
// between them.
type Options struct {
	Priority int
	Attempts int
	Backoff  time.Duration
}

// Job is one dequeued unit of work handed to a Handler.
type Job struct {
	ID      string
	Type    string
	Payload []byte
	Attempt int
}

// JobInfo is a point-in-time snapshot of a job's broker-side state.
type JobInfo struct {
	ID      string
	Type    string
	State   JobState
	Attempt int
}

// Counts is a snapshot of queue depth per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Handler executes one job. A non-nil error triggers the queue's own
// attempt/backoff accounting.
type Handler func(ctx context.Context, job *Job) error

// Queue is the durable job queue contract. The orchestrator only depends on
// this interface; the AMQP implementation is wired in production and the
// in-memory one in tests.
type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload []byte, opts Options) (string, error)
	Job(ctx context.Context, id string) (*JobInfo, error)
	Remove(ctx context.Context, id string) error
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// Consumer pulls jobs off the queue with bounded concurrency.
type Consumer interface {
	Start(ctx context.Context, handler Handler) error
	Close() error
}
