package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobStateTTL = 24 * time.Hour

// jobStates is the per-job lifecycle store the producer and consumer write
// through. stateStore is the redis implementation used in production.
type jobStates interface {
	enqueue(ctx context.Context, id, jobType string, attempt int) error
	discard(ctx context.Context, id string, state JobState) error
	transition(ctx context.Context, id string, from, to JobState, attempt int) error
	get(ctx context.Context, id string) (*JobInfo, error)
	markRemoved(ctx context.Context, id string) error
	isRemoved(ctx context.Context, id string) bool
	counts(ctx context.Context) (Counts, error)
}

// stateStore keeps per-job lifecycle state in redis. RabbitMQ cannot address
// a published message by id, so job lookup, depth counters, and removal
// tombstones live here; the consumer consults the tombstone before executing.
type stateStore struct {
	rdb    *redis.Client
	prefix string
}

func newStateStore(rdb *redis.Client, queueName string) *stateStore {
	return &stateStore{rdb: rdb, prefix: queueName}
}

func (s *stateStore) jobKey(id string) string       { return fmt.Sprintf("%s:job:%s", s.prefix, id) }
func (s *stateStore) countsKey() string             { return s.prefix + ":counts" }
func (s *stateStore) countField(st JobState) string { return string(st) }

func (s *stateStore) put(ctx context.Context, id, jobType string, state JobState, attempt int) error {
	key := s.jobKey(id)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "type", jobType, "state", string(state), "attempt", attempt)
	pipe.Expire(ctx, key, jobStateTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// transition moves a job between states and keeps the depth counters in sync.
func (s *stateStore) transition(ctx context.Context, id string, from, to JobState, attempt int) error {
	key := s.jobKey(id)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "state", string(to), "attempt", attempt)
	pipe.Expire(ctx, key, jobStateTTL)
	if from != "" {
		pipe.HIncrBy(ctx, s.countsKey(), s.countField(from), -1)
	}
	pipe.HIncrBy(ctx, s.countsKey(), s.countField(to), 1)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *stateStore) enqueue(ctx context.Context, id, jobType string, attempt int) error {
	if err := s.put(ctx, id, jobType, JobStateWaiting, attempt); err != nil {
		return err
	}
	return s.rdb.HIncrBy(ctx, s.countsKey(), s.countField(JobStateWaiting), 1).Err()
}

// discard erases a job record whose broker publish never happened, undoing
// the counter bump from enqueue.
func (s *stateStore) discard(ctx context.Context, id string, state JobState) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.jobKey(id))
	pipe.HIncrBy(ctx, s.countsKey(), s.countField(state), -1)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *stateStore) get(ctx context.Context, id string) (*JobInfo, error) {
	vals, err := s.rdb.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}
	info := &JobInfo{ID: id, Type: vals["type"], State: JobState(vals["state"])}
	fmt.Sscanf(vals["attempt"], "%d", &info.Attempt)
	return info, nil
}

// markRemoved drops a not-yet-started job. The tombstone makes the consumer
// skip the message if it is still sitting in the broker.
func (s *stateStore) markRemoved(ctx context.Context, id string) error {
	info, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if info.State != JobStateWaiting && info.State != JobStateDelayed {
		return fmt.Errorf("queue: job %s is %s, not removable", id, info.State)
	}
	return s.transition(ctx, id, info.State, JobStateRemoved, info.Attempt)
}

func (s *stateStore) isRemoved(ctx context.Context, id string) bool {
	state, err := s.rdb.HGet(ctx, s.jobKey(id), "state").Result()
	return err == nil && JobState(state) == JobStateRemoved
}

func (s *stateStore) counts(ctx context.Context) (Counts, error) {
	vals, err := s.rdb.HGetAll(ctx, s.countsKey()).Result()
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	fmt.Sscanf(vals[string(JobStateWaiting)], "%d", &c.Waiting)
	fmt.Sscanf(vals[string(JobStateActive)], "%d", &c.Active)
	fmt.Sscanf(vals[string(JobStateCompleted)], "%d", &c.Completed)
	fmt.Sscanf(vals[string(JobStateFailed)], "%d", &c.Failed)
	return c, nil
}
