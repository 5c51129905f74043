package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryJob struct {
	job  *Job
	opts Options
}

// MemoryQueue is a channel-free, mutex-guarded Queue implementation used in
// tests and single-process deployments that still want queue semantics. It
// satisfies both the Queue and Consumer contracts.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []*memoryJob
	infos    map[string]*JobInfo
	optsByID map[string]Options
	counts   Counts
	wake     chan struct{}
	done     chan struct{}
	closed   bool
	wg       sync.WaitGroup

	concurrency int
}

// NewMemoryQueue builds an in-memory queue with the given worker concurrency.
func NewMemoryQueue(concurrency int) *MemoryQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &MemoryQueue{
		infos:       make(map[string]*JobInfo),
		optsByID:    make(map[string]Options),
		wake:        make(chan struct{}, 64),
		done:        make(chan struct{}),
		concurrency: concurrency,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobType string, payload []byte, opts Options) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", context.Canceled
	}

	id := uuid.New().String()
	j := &memoryJob{
		job:  &Job{ID: id, Type: jobType, Payload: payload, Attempt: 1},
		opts: opts,
	}
	q.insert(j)
	q.infos[id] = &JobInfo{ID: id, Type: jobType, State: JobStateWaiting, Attempt: 1}
	q.optsByID[id] = opts
	q.counts.Waiting++

	q.signal()
	return id, nil
}

func (q *MemoryQueue) Job(ctx context.Context, id string) (*JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	info, ok := q.infos[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *info
	return &cp, nil
}

func (q *MemoryQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	info, ok := q.infos[id]
	if !ok {
		return ErrJobNotFound
	}
	if info.State != JobStateWaiting && info.State != JobStateDelayed {
		return ErrJobNotFound
	}
	for i, j := range q.pending {
		if j.job.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	if info.State == JobStateWaiting {
		q.counts.Waiting--
	}
	info.State = JobStateRemoved
	return nil
}

func (q *MemoryQueue) Counts(ctx context.Context) (Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

// Start launches the worker goroutines draining the queue.
func (q *MemoryQueue) Start(ctx context.Context, handler Handler) error {
	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				j := q.pop()
				if j == nil {
					select {
					case <-ctx.Done():
						return
					case <-q.done:
						return
					case <-q.wake:
						continue
					}
				}
				q.run(ctx, j, handler)
			}
		}()
	}
	return nil
}

func (q *MemoryQueue) pop() *memoryJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	info := q.infos[j.job.ID]
	if info.State == JobStateWaiting {
		q.counts.Waiting--
	}
	info.State = JobStateActive
	q.counts.Active++
	return j
}

func (q *MemoryQueue) run(ctx context.Context, j *memoryJob, handler Handler) {
	err := handler(ctx, j.job)

	q.mu.Lock()
	defer q.mu.Unlock()
	info := q.infos[j.job.ID]
	q.counts.Active--

	if err == nil {
		info.State = JobStateCompleted
		q.counts.Completed++
		return
	}
	if j.job.Attempt >= j.opts.Attempts {
		info.State = JobStateFailed
		q.counts.Failed++
		return
	}

	info.State = JobStateDelayed
	info.Attempt = j.job.Attempt + 1
	delay := j.opts.Backoff * time.Duration(1<<(j.job.Attempt-1))
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		if cur := q.infos[j.job.ID]; cur == nil || cur.State != JobStateDelayed {
			return
		}
		j.job.Attempt++
		q.insert(j)
		q.signal()
	})
}

// insert queues a job by priority, FIFO within a level. Caller holds mu.
func (q *MemoryQueue) insert(j *memoryJob) {
	q.pending = append(q.pending, j)
	sort.SliceStable(q.pending, func(a, b int) bool {
		return q.pending[a].opts.Priority < q.pending[b].opts.Priority
	})
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
