package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/draftdeck/draftdeck/internal/config"
	"github.com/draftdeck/draftdeck/internal/infra/httpclient"
	"github.com/draftdeck/draftdeck/internal/infra/queue"
	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ErrInvalidTaskType is returned by Submit for unknown task types.
var ErrInvalidTaskType = errors.New("service: invalid task type")

// WorkerClient is the slice of the AI worker client the orchestrator uses.
type WorkerClient interface {
	Request(ctx context.Context, method, path string, body, out any, timeout time.Duration) error
	BinaryRequest(ctx context.Context, path string, body any, timeout time.Duration) (*httpclient.BinaryResult, error)
	MultipartRequest(ctx context.Context, path string, fields map[string]string, fileField, fileName string, file []byte, out any, timeout time.Duration) error
	CheckHealth(ctx context.Context) httpclient.HealthStatus
}

// BlobStore is the object storage surface the execution steps need.
type BlobStore interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, string, error)
	PresignGet(ctx context.Context, key string, expire time.Duration) (string, error)
}

// CredentialResolver looks up the company-scoped credential for a model id.
type CredentialResolver interface {
	Resolve(ctx context.Context, companyID uuid.UUID, modelID string) (*model.ModelCredential, error)
}

type SubmitTaskInput struct {
	TaskType   model.TaskType
	DocumentID uuid.UUID
	CompanyID  uuid.UUID
	UserID     uuid.UUID
	Payload    map[string]any
}

type TaskService interface {
	Submit(ctx context.Context, in SubmitTaskInput) (uuid.UUID, error)
	Get(ctx context.Context, companyID, taskID uuid.UUID) (*model.Task, error)
	ListForDocument(ctx context.Context, companyID, documentID uuid.UUID, limit int) ([]model.Task, error)
	Cancel(ctx context.Context, companyID, taskID uuid.UUID) (bool, error)
	QueueStatus(ctx context.Context) (*queue.Counts, error)
	HandleJob(ctx context.Context, job *queue.Job) error
	Shutdown()
}

type taskService struct {
	tasks  repo.TaskRepo
	docs   repo.DocumentRepo
	images repo.ImageVersionRepo
	creds  CredentialResolver
	worker WorkerClient
	blob   BlobStore

	// q is nil when no broker is configured; submissions then fall back to
	// an in-process goroutine running the same pipeline.
	q        queue.Queue
	consumer queue.Consumer

	cache *TaskCache
	cfg   *config.Config
	log   *zap.Logger

	fallback sync.WaitGroup
	shutdown sync.Once
}

type TaskServiceDeps struct {
	Tasks       repo.TaskRepo
	Docs        repo.DocumentRepo
	Images      repo.ImageVersionRepo
	Credentials CredentialResolver
	Worker      WorkerClient
	Blob        BlobStore
	Queue       queue.Queue
	Consumer    queue.Consumer
	Cache       *TaskCache
	Config      *config.Config
	Log         *zap.Logger
}

func NewTaskService(d TaskServiceDeps) TaskService {
	return &taskService{
		tasks:    d.Tasks,
		docs:     d.Docs,
		images:   d.Images,
		creds:    d.Credentials,
		worker:   d.Worker,
		blob:     d.Blob,
		q:        d.Queue,
		consumer: d.Consumer,
		cache:    d.Cache,
		cfg:      d.Config,
		log:      d.Log,
	}
}

// jobPayload is the durable queue message body.
type jobPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (s *taskService) Submit(ctx context.Context, in SubmitTaskInput) (uuid.UUID, error) {
	if !in.TaskType.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidTaskType, in.TaskType)
	}

	// Ownership first: no task row exists for a document the company does
	// not own.
	if _, err := s.docs.GetOwned(ctx, in.CompanyID, in.DocumentID); err != nil {
		return uuid.Nil, err
	}

	t := &model.Task{
		ID:         uuid.New(),
		DocumentID: in.DocumentID,
		CompanyID:  in.CompanyID,
		UserID:     in.UserID,
		TaskType:   in.TaskType,
		Status:     model.TaskStatusPending,
		Payload:    datatypes.JSONMap(in.Payload),
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return uuid.Nil, fmt.Errorf("create task: %w", err)
	}

	log := s.log.Sugar().With("task_id", t.ID, "task_type", in.TaskType, "document_id", in.DocumentID)

	if s.q == nil {
		// Degraded mode: same execution pipeline, weaker delivery guarantees.
		// The caller already holds the task id; failures surface via polling.
		s.fallback.Add(1)
		go func() {
			defer s.fallback.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Errorw("fallback execution panicked", "panic", r)
				}
			}()
			if err := s.runTask(context.Background(), t.ID, true); err != nil {
				log.Errorw("fallback execution failed", "err", err)
			}
		}()
		log.Infow("task submitted via in-process fallback")
		return t.ID, nil
	}

	payload, err := sonic.Marshal(jobPayload{TaskID: t.ID})
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal job payload: %w", err)
	}

	jobID, err := s.q.Enqueue(ctx, string(in.TaskType), payload, queue.Options{
		Priority: TaskPriority(in.TaskType),
		Attempts: s.cfg.Queue.Attempts,
		Backoff:  time.Duration(s.cfg.Queue.BackoffMs) * time.Millisecond,
	})
	if err != nil {
		// The row stays behind as the audit trail for the failed submission.
		if ferr := s.tasks.MarkFailed(ctx, t.ID, fmt.Sprintf("queue submission failed: %v", err)); ferr != nil {
			log.Errorw("mark task failed after enqueue error", "err", ferr)
		}
		s.cache.Invalidate(ctx, t.ID)
		return uuid.Nil, fmt.Errorf("enqueue task: %w", err)
	}

	if err := s.tasks.SetExternalJobID(ctx, t.ID, jobID); err != nil {
		log.Errorw("record external job id", "job_id", jobID, "err", err)
	}
	log.Infow("task enqueued", "job_id", jobID, "priority", TaskPriority(in.TaskType))
	return t.ID, nil
}

func (s *taskService) Get(ctx context.Context, companyID, taskID uuid.UUID) (*model.Task, error) {
	if t, ok := s.cache.Get(ctx, taskID); ok {
		if t.CompanyID != companyID {
			return nil, repo.ErrNotFound
		}
		return t, nil
	}
	t, err := s.tasks.GetOwned(ctx, companyID, taskID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, t)
	return t, nil
}

// ListForDocument returns recent tasks for a document, newest first.
func (s *taskService) ListForDocument(ctx context.Context, companyID, documentID uuid.UUID, limit int) ([]model.Task, error) {
	if _, err := s.docs.GetOwned(ctx, companyID, documentID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.tasks.ListByDocument(ctx, companyID, documentID, limit)
}

func (s *taskService) Cancel(ctx context.Context, companyID, taskID uuid.UUID) (bool, error) {
	t, err := s.tasks.GetOwned(ctx, companyID, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if t.Terminal() {
		return false, nil
	}

	log := s.log.Sugar().With("task_id", taskID)

	// Best-effort broker removal: only jobs that have not started can be
	// pulled back, and broker flakiness never blocks the cancellation.
	if t.ExternalJobID != nil && s.q != nil {
		info, err := s.q.Job(ctx, *t.ExternalJobID)
		switch {
		case err != nil:
			log.Warnw("lookup queue job for cancel", "job_id", *t.ExternalJobID, "err", err)
		case info.State == queue.JobStateWaiting || info.State == queue.JobStateDelayed:
			if err := s.q.Remove(ctx, *t.ExternalJobID); err != nil {
				log.Warnw("remove queue job", "job_id", *t.ExternalJobID, "err", err)
			}
		}
	}

	if err := s.tasks.MarkCancelled(ctx, taskID); err != nil {
		if errors.Is(err, repo.ErrInvalidTransition) {
			// Finished in the window between the ownership read and here.
			return false, nil
		}
		return false, err
	}
	s.cache.Invalidate(ctx, taskID)
	log.Infow("task cancelled")
	return true, nil
}

func (s *taskService) QueueStatus(ctx context.Context) (*queue.Counts, error) {
	if s.q == nil {
		return nil, nil
	}
	counts, err := s.q.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

// HandleJob is the queue consumer entrypoint.
func (s *taskService) HandleJob(ctx context.Context, job *queue.Job) error {
	var p jobPayload
	if err := sonic.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	finalAttempt := job.Attempt >= s.cfg.Queue.Attempts
	return s.runTask(ctx, p.TaskID, finalAttempt)
}

// runTask drives one task through running -> completed|failed. Both the
// queue consumer and the fallback goroutine land here so the two paths
// cannot drift. finalAttempt gates the terminal failed mark: earlier queue
// attempts leave the row running for the broker's retry.
func (s *taskService) runTask(ctx context.Context, taskID uuid.UUID, finalAttempt bool) error {
	log := s.log.Sugar().With("task_id", taskID)

	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if t.Terminal() {
		log.Infow("skipping terminal task", "status", t.Status)
		return nil
	}

	if err := s.tasks.MarkRunning(ctx, taskID, datatypes.JSONMap{"step": "starting"}); err != nil {
		if errors.Is(err, repo.ErrInvalidTransition) {
			// Cancelled between the read above and the update.
			log.Infow("task no longer runnable")
			return nil
		}
		return fmt.Errorf("mark running: %w", err)
	}
	s.cache.Invalidate(ctx, taskID)
	log.Infow("task running", "task_type", t.TaskType)

	result, err := s.execute(ctx, t)
	if err != nil {
		log.Errorw("task execution failed", "task_type", t.TaskType, "err", err)
		if finalAttempt {
			if ferr := s.tasks.MarkFailed(ctx, taskID, err.Error()); ferr != nil {
				log.Errorw("mark task failed", "err", ferr)
			}
			s.cache.Invalidate(ctx, taskID)
		}
		// Re-raise so the queue's own attempt accounting observes it.
		return err
	}

	if err := s.tasks.MarkCompleted(ctx, taskID, result); err != nil {
		log.Errorw("mark task completed", "err", err)
		return err
	}
	s.cache.Invalidate(ctx, taskID)
	log.Infow("task completed", "task_type", t.TaskType)
	return nil
}

func (s *taskService) Shutdown() {
	s.shutdown.Do(func() {
		if s.consumer != nil {
			if err := s.consumer.Close(); err != nil {
				s.log.Sugar().Warnw("close queue consumer", "err", err)
			}
		}
		if s.q != nil {
			if err := s.q.Close(); err != nil {
				s.log.Sugar().Warnw("close queue", "err", err)
			}
		}
		s.fallback.Wait()
	})
}
