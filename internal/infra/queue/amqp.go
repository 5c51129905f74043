package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/draftdeck/draftdeck/internal/config"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	headerJobID    = "x-job-id"
	headerJobType  = "x-job-type"
	headerAttempt  = "x-attempt"
	headerAttempts = "x-attempts"
	headerBackoff  = "x-backoff-ms"
)

// publisher is the slice of amqp.Channel the producer and the consumer's
// retry path publish through.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPQueue is the RabbitMQ-backed Queue implementation. Delivery rides on a
// durable priority queue; per-job state lives in redis (see stateStore).
type AMQPQueue struct {
	ch          *amqp.Channel
	pub         publisher
	name        string
	maxPriority int
	states      jobStates
	log         *zap.Logger
}

func declareQueue(ch *amqp.Channel, name string, maxPriority int) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-max-priority": int32(maxPriority),
	})
	return err
}

// NewAMQPQueue declares the durable task queue and returns the producer side.
func NewAMQPQueue(conn *amqp.Connection, rdb *redis.Client, cfg *config.Config, log *zap.Logger) (*AMQPQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueue(ch, cfg.Queue.Name, cfg.Queue.MaxPriority); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue.Name, err)
	}
	return &AMQPQueue{
		ch:          ch,
		pub:         ch,
		name:        cfg.Queue.Name,
		maxPriority: cfg.Queue.MaxPriority,
		states:      newStateStore(rdb, cfg.Queue.Name),
		log:         log,
	}, nil
}

func (q *AMQPQueue) publish(ctx context.Context, jobType string, payload []byte, opts Options, jobID string, attempt int) error {
	// The contract ranks priority with lower numbers first; AMQP ranks the
	// other way around.
	prio := q.maxPriority - opts.Priority
	if prio < 0 {
		prio = 0
	}
	return q.pub.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Priority:     uint8(prio),
		Body:         payload,
		Headers: amqp.Table{
			headerJobID:    jobID,
			headerJobType:  jobType,
			headerAttempt:  int32(attempt),
			headerAttempts: int32(opts.Attempts),
			headerBackoff:  int64(opts.Backoff / time.Millisecond),
		},
	})
}

func (q *AMQPQueue) Enqueue(ctx context.Context, jobType string, payload []byte, opts Options) (string, error) {
	jobID := uuid.New().String()
	if err := q.states.enqueue(ctx, jobID, jobType, 1); err != nil {
		return "", fmt.Errorf("record job state: %w", err)
	}
	if err := q.publish(ctx, jobType, payload, opts, jobID, 1); err != nil {
		// Undo the state record so the job cannot show up as forever waiting.
		if derr := q.states.discard(ctx, jobID, JobStateWaiting); derr != nil {
			q.log.Sugar().Warnw("discard job state after publish failure", "job_id", jobID, "err", derr)
		}
		return "", fmt.Errorf("publish job: %w", err)
	}
	q.log.Sugar().Debugw("job enqueued", "job_id", jobID, "job_type", jobType, "priority", opts.Priority)
	return jobID, nil
}

func (q *AMQPQueue) Job(ctx context.Context, id string) (*JobInfo, error) {
	return q.states.get(ctx, id)
}

func (q *AMQPQueue) Remove(ctx context.Context, id string) error {
	return q.states.markRemoved(ctx, id)
}

func (q *AMQPQueue) Counts(ctx context.Context) (Counts, error) {
	return q.states.counts(ctx)
}

func (q *AMQPQueue) Close() error {
	return q.ch.Close()
}

// AMQPConsumer executes queued jobs with bounded concurrency (channel Qos
// prefetch plus one goroutine per slot).
type AMQPConsumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	pub         publisher
	name        string
	maxPriority int
	concurrency int
	states      jobStates
	log         *zap.Logger

	wg     sync.WaitGroup
	closed sync.Once
	done   chan struct{}
}

// NewAMQPConsumer opens the consuming channel for the task queue.
func NewAMQPConsumer(conn *amqp.Connection, rdb *redis.Client, cfg *config.Config, log *zap.Logger) (*AMQPConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueue(ch, cfg.Queue.Name, cfg.Queue.MaxPriority); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue.Name, err)
	}
	concurrency := cfg.Queue.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQPConsumer{
		conn:        conn,
		ch:          ch,
		pub:         ch,
		name:        cfg.Queue.Name,
		maxPriority: cfg.Queue.MaxPriority,
		concurrency: concurrency,
		states:      newStateStore(rdb, cfg.Queue.Name),
		log:         log,
		done:        make(chan struct{}),
	}, nil
}

func (c *AMQPConsumer) Start(ctx context.Context, handler Handler) error {
	deliveries, err := c.ch.Consume(c.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go func(worker int) {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.done:
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.handleDelivery(ctx, d, handler)
				}
			}
		}(i)
	}
	return nil
}

func (c *AMQPConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	job := jobFromDelivery(d)
	log := c.log.Sugar().With("job_id", job.ID, "job_type", job.Type, "attempt", job.Attempt)

	// A removal tombstone means the job was cancelled before it started.
	if c.states.isRemoved(ctx, job.ID) {
		log.Infow("skipping removed job")
		_ = d.Ack(false)
		return
	}

	from := JobStateWaiting
	if job.Attempt > 1 {
		from = JobStateDelayed
	}
	if err := c.states.transition(ctx, job.ID, from, JobStateActive, job.Attempt); err != nil {
		log.Warnw("record active state", "err", err)
	}

	err := handler(ctx, job)
	if err == nil {
		if serr := c.states.transition(ctx, job.ID, JobStateActive, JobStateCompleted, job.Attempt); serr != nil {
			log.Warnw("record completed state", "err", serr)
		}
		_ = d.Ack(false)
		return
	}

	attempts := headerInt(d.Headers, headerAttempts, 1)
	if job.Attempt >= attempts {
		log.Errorw("job failed, attempts exhausted", "err", err)
		if serr := c.states.transition(ctx, job.ID, JobStateActive, JobStateFailed, job.Attempt); serr != nil {
			log.Warnw("record failed state", "err", serr)
		}
		_ = d.Ack(false)
		return
	}

	backoff := time.Duration(headerInt64(d.Headers, headerBackoff, 5000)) * time.Millisecond
	delay := backoff * time.Duration(1<<(job.Attempt-1))
	log.Warnw("job failed, scheduling retry", "err", err, "delay", delay.String())

	if serr := c.states.transition(ctx, job.ID, JobStateActive, JobStateDelayed, job.Attempt+1); serr != nil {
		log.Warnw("record delayed state", "err", serr)
	}

	// The delivery stays unacked through the backoff window: a crash here
	// makes the broker redeliver the attempt instead of dropping the retry.
	// One consumer slot is held for the duration.
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.done:
		_ = d.Nack(false, true)
		return
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[headerAttempt] = int32(job.Attempt + 1)
	perr := c.pub.PublishWithContext(ctx, "", c.name, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  d.ContentType,
		Priority:     d.Priority,
		Body:         d.Body,
		Headers:      headers,
	})
	if perr != nil {
		// Requeue the original delivery so the broker redelivers the attempt
		// rather than leaving the task stranded without a terminal state.
		log.Errorw("republish retry failed, requeueing original delivery", "err", perr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (c *AMQPConsumer) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.done)
		err = c.ch.Close()
		c.wg.Wait()
	})
	return err
}

func jobFromDelivery(d amqp.Delivery) *Job {
	return &Job{
		ID:      headerString(d.Headers, headerJobID),
		Type:    headerString(d.Headers, headerJobType),
		Payload: d.Body,
		Attempt: headerInt(d.Headers, headerAttempt, 1),
	}
}

func headerString(t amqp.Table, key string) string {
	if v, ok := t[key].(string); ok {
		return v
	}
	return ""
}

func headerInt(t amqp.Table, key string, def int) int {
	switch v := t[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return def
}

func headerInt64(t amqp.Table, key string, def int64) int64 {
	switch v := t[key].(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return def
}
