package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/draftdeck/draftdeck/internal/config"
	"github.com/draftdeck/draftdeck/internal/infra/httpclient"
	"github.com/draftdeck/draftdeck/internal/infra/queue"
	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// MockTaskRepo is a mock implementation of repo.TaskRepo
type MockTaskRepo struct {
	mock.Mock
}

func (m *MockTaskRepo) Create(ctx context.Context, t *model.Task) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockTaskRepo) Get(ctx context.Context, taskID uuid.UUID) (*model.Task, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Task), args.Error(1)
}

func (m *MockTaskRepo) GetOwned(ctx context.Context, companyID, taskID uuid.UUID) (*model.Task, error) {
	args := m.Called(ctx, companyID, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Task), args.Error(1)
}

func (m *MockTaskRepo) SetExternalJobID(ctx context.Context, taskID uuid.UUID, jobID string) error {
	return m.Called(ctx, taskID, jobID).Error(0)
}

func (m *MockTaskRepo) MarkRunning(ctx context.Context, taskID uuid.UUID, progress datatypes.JSONMap) error {
	return m.Called(ctx, taskID, progress).Error(0)
}

func (m *MockTaskRepo) UpdateProgress(ctx context.Context, taskID uuid.UUID, progress datatypes.JSONMap) error {
	return m.Called(ctx, taskID, progress).Error(0)
}

func (m *MockTaskRepo) MarkCompleted(ctx context.Context, taskID uuid.UUID, result datatypes.JSONMap) error {
	return m.Called(ctx, taskID, result).Error(0)
}

func (m *MockTaskRepo) MarkFailed(ctx context.Context, taskID uuid.UUID, errorMessage string) error {
	return m.Called(ctx, taskID, errorMessage).Error(0)
}

func (m *MockTaskRepo) MarkCancelled(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *MockTaskRepo) ListByDocument(ctx context.Context, companyID, documentID uuid.UUID, limit int) ([]model.Task, error) {
	args := m.Called(ctx, companyID, documentID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Task), args.Error(1)
}

// MockDocumentRepo is a mock implementation of repo.DocumentRepo
type MockDocumentRepo struct {
	mock.Mock
}

func (m *MockDocumentRepo) GetOwned(ctx context.Context, companyID, documentID uuid.UUID) (*model.Document, error) {
	args := m.Called(ctx, companyID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepo) ListPages(ctx context.Context, documentID uuid.UUID) ([]model.Page, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Page), args.Error(1)
}

func (m *MockDocumentRepo) GetOwnedPage(ctx context.Context, companyID, pageID uuid.UUID) (*model.Page, error) {
	args := m.Called(ctx, companyID, pageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Page), args.Error(1)
}

func (m *MockDocumentRepo) ReplacePages(ctx context.Context, documentID uuid.UUID, pages []model.Page) error {
	return m.Called(ctx, documentID, pages).Error(0)
}

func (m *MockDocumentRepo) UpdatePageDescription(ctx context.Context, pageID uuid.UUID, description string) error {
	return m.Called(ctx, pageID, description).Error(0)
}

// MockImageVersionRepo is a mock implementation of repo.ImageVersionRepo
type MockImageVersionRepo struct {
	mock.Mock
}

func (m *MockImageVersionRepo) AddVersion(ctx context.Context, pageID uuid.UUID, imageKey string, prompt *string) (*model.ImageVersion, error) {
	args := m.Called(ctx, pageID, imageKey, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ImageVersion), args.Error(1)
}

func (m *MockImageVersionRepo) SwitchVersion(ctx context.Context, pageID, versionID uuid.UUID) (*model.ImageVersion, error) {
	args := m.Called(ctx, pageID, versionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ImageVersion), args.Error(1)
}

func (m *MockImageVersionRepo) ListByPage(ctx context.Context, pageID uuid.UUID) ([]model.ImageVersion, error) {
	args := m.Called(ctx, pageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ImageVersion), args.Error(1)
}

func (m *MockImageVersionRepo) GetCurrent(ctx context.Context, pageID uuid.UUID) (*model.ImageVersion, error) {
	args := m.Called(ctx, pageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ImageVersion), args.Error(1)
}

// MockCredentialResolver is a mock implementation of CredentialResolver
type MockCredentialResolver struct {
	mock.Mock
}

func (m *MockCredentialResolver) Resolve(ctx context.Context, companyID uuid.UUID, modelID string) (*model.ModelCredential, error) {
	args := m.Called(ctx, companyID, modelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ModelCredential), args.Error(1)
}

// MockWorker is a mock implementation of WorkerClient
type MockWorker struct {
	mock.Mock
}

func (m *MockWorker) Request(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	return m.Called(ctx, method, path, body, out, timeout).Error(0)
}

func (m *MockWorker) BinaryRequest(ctx context.Context, path string, body any, timeout time.Duration) (*httpclient.BinaryResult, error) {
	args := m.Called(ctx, path, body, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*httpclient.BinaryResult), args.Error(1)
}

func (m *MockWorker) MultipartRequest(ctx context.Context, path string, fields map[string]string, fileField, fileName string, file []byte, out any, timeout time.Duration) error {
	return m.Called(ctx, path, fields, fileField, fileName, file, out, timeout).Error(0)
}

func (m *MockWorker) CheckHealth(ctx context.Context) httpclient.HealthStatus {
	return m.Called(ctx).Get(0).(httpclient.HealthStatus)
}

// MockBlob is a mock implementation of BlobStore
type MockBlob struct {
	mock.Mock
}

func (m *MockBlob) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, key, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockBlob) Download(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockBlob) PresignGet(ctx context.Context, key string, expire time.Duration) (string, error) {
	args := m.Called(ctx, key, expire)
	return args.String(0), args.Error(1)
}

type taskServiceMocks struct {
	tasks  *MockTaskRepo
	docs   *MockDocumentRepo
	images *MockImageVersionRepo
	creds  *MockCredentialResolver
	worker *MockWorker
	blob   *MockBlob
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Queue.Attempts = 2
	cfg.Queue.BackoffMs = 5000
	cfg.Queue.MaxPriority = 20
	cfg.Worker.TimeoutMs = 5000
	cfg.Worker.ExportTimeoutMs = 300000
	cfg.Worker.ImagePageBudget = 60000
	return cfg
}

func newTestTaskService(t *testing.T, q queue.Queue) (TaskService, *taskServiceMocks) {
	t.Helper()
	m := &taskServiceMocks{
		tasks:  &MockTaskRepo{},
		docs:   &MockDocumentRepo{},
		images: &MockImageVersionRepo{},
		creds:  &MockCredentialResolver{},
		worker: &MockWorker{},
		blob:   &MockBlob{},
	}
	svc := NewTaskService(TaskServiceDeps{
		Tasks:       m.tasks,
		Docs:        m.docs,
		Images:      m.images,
		Credentials: m.creds,
		Worker:      m.worker,
		Blob:        m.blob,
		Queue:       q,
		Cache:       NewTaskCache(nil),
		Config:      testConfig(),
		Log:         zap.NewNop(),
	})
	return svc, m
}

func ownedDocument(companyID, documentID uuid.UUID) *model.Document {
	return &model.Document{ID: documentID, CompanyID: companyID, Title: "board deck"}
}

func TestSubmitUnknownDocumentCreatesNoTask(t *testing.T) {
	svc, m := newTestTaskService(t, queue.NewMemoryQueue(1))
	companyID, documentID := uuid.New(), uuid.New()

	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(nil, repo.ErrNotFound)

	_, err := svc.Submit(context.Background(), SubmitTaskInput{
		TaskType:   model.TaskTypeOutlineGenerate,
		DocumentID: documentID,
		CompanyID:  companyID,
		UserID:     uuid.New(),
	})

	assert.ErrorIs(t, err, repo.ErrNotFound)
	m.tasks.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSubmitRejectsUnknownTaskType(t *testing.T) {
	svc, m := newTestTaskService(t, queue.NewMemoryQueue(1))

	_, err := svc.Submit(context.Background(), SubmitTaskInput{
		TaskType:   model.TaskType("make-coffee"),
		DocumentID: uuid.New(),
		CompanyID:  uuid.New(),
		UserID:     uuid.New(),
	})

	assert.ErrorIs(t, err, ErrInvalidTaskType)
	m.docs.AssertNotCalled(t, "GetOwned", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitEnqueuesWithTaskPriority(t *testing.T) {
	// not started, so the job stays waiting and can be inspected
	q := queue.NewMemoryQueue(1)
	svc, m := newTestTaskService(t, q)
	companyID, documentID := uuid.New(), uuid.New()

	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)
	m.tasks.On("Create", mock.Anything, mock.Anything).Return(nil)

	var recordedJobID string
	m.tasks.On("SetExternalJobID", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { recordedJobID = args.String(2) }).
		Return(nil)

	taskID, err := svc.Submit(context.Background(), SubmitTaskInput{
		TaskType:   model.TaskTypeImagesGenerate,
		DocumentID: documentID,
		CompanyID:  companyID,
		UserID:     uuid.New(),
	})

	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, taskID)
	assert.NotEmpty(t, recordedJobID)

	info, err := q.Job(context.Background(), recordedJobID)
	assert.NoError(t, err)
	assert.Equal(t, queue.JobStateWaiting, info.State)
	assert.Equal(t, string(model.TaskTypeImagesGenerate), info.Type)
}

type failQueue struct{}

func (failQueue) Enqueue(ctx context.Context, jobType string, payload []byte, opts queue.Options) (string, error) {
	return "", errors.New("broker down")
}
func (failQueue) Job(ctx context.Context, id string) (*queue.JobInfo, error) {
	return nil, queue.ErrJobNotFound
}
func (failQueue) Remove(ctx context.Context, id string) error { return queue.ErrJobNotFound }
func (failQueue) Counts(ctx context.Context) (queue.Counts, error) {
	return queue.Counts{}, nil
}
func (failQueue) Close() error { return nil }

func TestSubmitEnqueueFailureMarksTaskFailed(t *testing.T) {
	svc, m := newTestTaskService(t, failQueue{})
	companyID, documentID := uuid.New(), uuid.New()

	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)
	m.tasks.On("Create", mock.Anything, mock.Anything).Return(nil)

	var failureMessage string
	m.tasks.On("MarkFailed", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { failureMessage = args.String(2) }).
		Return(nil)

	_, err := svc.Submit(context.Background(), SubmitTaskInput{
		TaskType:   model.TaskTypeExportPDF,
		DocumentID: documentID,
		CompanyID:  companyID,
		UserID:     uuid.New(),
	})

	assert.ErrorContains(t, err, "broker down")
	assert.Contains(t, failureMessage, "queue submission failed")
	m.tasks.AssertCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelTerminalTaskReturnsFalse(t *testing.T) {
	svc, m := newTestTaskService(t, queue.NewMemoryQueue(1))
	companyID, taskID := uuid.New(), uuid.New()

	done := &model.Task{ID: taskID, CompanyID: companyID, Status: model.TaskStatusCompleted}
	m.tasks.On("GetOwned", mock.Anything, companyID, taskID).Return(done, nil)

	cancelled, err := svc.Cancel(context.Background(), companyID, taskID)

	assert.NoError(t, err)
	assert.False(t, cancelled)
	m.tasks.AssertNotCalled(t, "MarkCancelled", mock.Anything, mock.Anything)
}

func TestCancelWaitingTaskRemovesQueueJob(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	svc, m := newTestTaskService(t, q)
	companyID, taskID := uuid.New(), uuid.New()

	jobID, err := q.Enqueue(context.Background(), string(model.TaskTypeExportPDF), []byte(`{}`), queue.Options{Attempts: 1})
	assert.NoError(t, err)

	pending := &model.Task{ID: taskID, CompanyID: companyID, Status: model.TaskStatusPending, ExternalJobID: &jobID}
	m.tasks.On("GetOwned", mock.Anything, companyID, taskID).Return(pending, nil)
	m.tasks.On("MarkCancelled", mock.Anything, taskID).Return(nil)

	cancelled, err := svc.Cancel(context.Background(), companyID, taskID)

	assert.NoError(t, err)
	assert.True(t, cancelled)

	info, err := q.Job(context.Background(), jobID)
	assert.NoError(t, err)
	assert.Equal(t, queue.JobStateRemoved, info.State)
}

// activeJobQueue reports every job as already picked up by a consumer and
// records removal attempts.
type activeJobQueue struct {
	removeCalls int
}

func (q *activeJobQueue) Enqueue(ctx context.Context, jobType string, payload []byte, opts queue.Options) (string, error) {
	return "job-active", nil
}
func (q *activeJobQueue) Job(ctx context.Context, id string) (*queue.JobInfo, error) {
	return &queue.JobInfo{ID: id, State: queue.JobStateActive, Attempt: 1}, nil
}
func (q *activeJobQueue) Remove(ctx context.Context, id string) error {
	q.removeCalls++
	return nil
}
func (q *activeJobQueue) Counts(ctx context.Context) (queue.Counts, error) {
	return queue.Counts{}, nil
}
func (q *activeJobQueue) Close() error { return nil }

func TestCancelActiveJobSkipsRemoval(t *testing.T) {
	q := &activeJobQueue{}
	svc, m := newTestTaskService(t, q)
	companyID, taskID := uuid.New(), uuid.New()
	jobID := "job-active"

	pending := &model.Task{ID: taskID, CompanyID: companyID, Status: model.TaskStatusPending, ExternalJobID: &jobID}
	m.tasks.On("GetOwned", mock.Anything, companyID, taskID).Return(pending, nil)
	m.tasks.On("MarkCancelled", mock.Anything, taskID).Return(nil)

	cancelled, err := svc.Cancel(context.Background(), companyID, taskID)

	assert.NoError(t, err)
	assert.True(t, cancelled)
	assert.Zero(t, q.removeCalls)
	m.tasks.AssertCalled(t, "MarkCancelled", mock.Anything, taskID)
}

func TestCancelUnknownTaskReturnsFalse(t *testing.T) {
	svc, m := newTestTaskService(t, queue.NewMemoryQueue(1))
	companyID, taskID := uuid.New(), uuid.New()

	m.tasks.On("GetOwned", mock.Anything, companyID, taskID).Return(nil, repo.ErrNotFound)

	cancelled, err := svc.Cancel(context.Background(), companyID, taskID)

	assert.NoError(t, err)
	assert.False(t, cancelled)
}

func TestQueueStatusWithoutQueue(t *testing.T) {
	svc, _ := newTestTaskService(t, nil)

	counts, err := svc.QueueStatus(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, counts)
}

func handleJobPayload(t *testing.T, taskID uuid.UUID) []byte {
	t.Helper()
	raw, err := sonic.Marshal(map[string]string{"task_id": taskID.String()})
	assert.NoError(t, err)
	return raw
}

func TestHandleJobSkipsTerminalTask(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	taskID := uuid.New()

	m.tasks.On("Get", mock.Anything, taskID).
		Return(&model.Task{ID: taskID, Status: model.TaskStatusCancelled}, nil)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 1, Payload: handleJobPayload(t, taskID)})

	assert.NoError(t, err)
	m.tasks.AssertNotCalled(t, "MarkRunning", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleJobFinalAttemptMarksFailed(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID, taskID := uuid.New(), uuid.New(), uuid.New()

	task := &model.Task{
		ID: taskID, DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeOutlineGenerate, Status: model.TaskStatusPending,
	}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(nil)
	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)
	m.worker.On("Request", mock.Anything, "POST", "/generate/outline", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("worker exploded"))
	m.tasks.On("MarkFailed", mock.Anything, taskID, mock.Anything).Return(nil)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 2, Payload: handleJobPayload(t, taskID)})

	assert.ErrorContains(t, err, "worker exploded")
	m.tasks.AssertCalled(t, "MarkFailed", mock.Anything, taskID, mock.Anything)
}

func TestHandleJobEarlyAttemptLeavesTaskRunning(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID, taskID := uuid.New(), uuid.New(), uuid.New()

	task := &model.Task{
		ID: taskID, DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeOutlineGenerate, Status: model.TaskStatusPending,
	}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(nil)
	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)
	m.worker.On("Request", mock.Anything, "POST", "/generate/outline", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("worker exploded"))

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 1, Payload: handleJobPayload(t, taskID)})

	// the broker retries; the row must not be terminally failed yet
	assert.ErrorContains(t, err, "worker exploded")
	m.tasks.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleJobCancelledBetweenReadAndRun(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	taskID := uuid.New()

	task := &model.Task{ID: taskID, TaskType: model.TaskTypeExportPDF, Status: model.TaskStatusPending}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(repo.ErrInvalidTransition)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 1, Payload: handleJobPayload(t, taskID)})

	assert.NoError(t, err)
	m.worker.AssertNotCalled(t, "BinaryRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFallbackOutlineGeneration(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID := uuid.New(), uuid.New()

	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)
	m.tasks.On("Create", mock.Anything, mock.Anything).Return(nil)

	// Create runs synchronously inside Submit, so the pending row the
	// fallback goroutine reloads can be a canned equivalent.
	pending := &model.Task{
		DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeOutlineGenerate, Status: model.TaskStatusPending,
	}
	m.tasks.On("Get", mock.Anything, mock.Anything).Return(pending, nil)
	m.tasks.On("MarkRunning", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.tasks.On("MarkCompleted", mock.Anything, mock.Anything, datatypes.JSONMap{"page_count": 2}).Return(nil)

	m.worker.On("Request", mock.Anything, "POST", "/generate/outline", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			raw, _ := sonic.Marshal(map[string]any{"pages": []map[string]string{
				{"title": "Intro", "description": "opening"},
				{"title": "Roadmap", "description": "plan"},
			}})
			assert.NoError(t, sonic.Unmarshal(raw, args.Get(4)))
		}).
		Return(nil)
	m.docs.On("ReplacePages", mock.Anything, documentID, mock.MatchedBy(func(pages []model.Page) bool {
		return len(pages) == 2 && pages[0].Title == "Intro"
	})).Return(nil)

	returnedID, err := svc.Submit(context.Background(), SubmitTaskInput{
		TaskType:   model.TaskTypeOutlineGenerate,
		DocumentID: documentID,
		CompanyID:  companyID,
		UserID:     uuid.New(),
	})
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, returnedID)

	// Shutdown waits for the fallback goroutine to drain
	svc.Shutdown()

	m.tasks.AssertCalled(t, "MarkCompleted", mock.Anything, mock.Anything, datatypes.JSONMap{"page_count": 2})
	m.docs.AssertCalled(t, "ReplacePages", mock.Anything, documentID, mock.Anything)
}

func TestSingleImageGenerationStoresNewVersion(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID, taskID := uuid.New(), uuid.New(), uuid.New()
	pageID := uuid.New()

	task := &model.Task{
		ID: taskID, DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeImageGenerateSingle, Status: model.TaskStatusPending,
		Payload: datatypes.JSONMap{"page_id": pageID.String(), "prompt": "sunrise skyline"},
	}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(nil)
	m.docs.On("GetOwnedPage", mock.Anything, companyID, pageID).
		Return(&model.Page{ID: pageID, DocumentID: documentID, PageIndex: 0, Title: "Cover"}, nil)
	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)

	m.worker.On("BinaryRequest", mock.Anything, "/generate/single-image", mock.Anything, mock.Anything).
		Return(&httpclient.BinaryResult{Bytes: []byte("png-bytes"), ContentType: "image/png"}, nil)
	m.blob.On("UploadBytes", mock.Anything, mock.Anything, []byte("png-bytes"), "image/png").Return("etag", nil)

	var storedKey string
	prompt := "sunrise skyline"
	m.images.On("AddVersion", mock.Anything, pageID, mock.Anything, &prompt).
		Run(func(args mock.Arguments) { storedKey = args.String(2) }).
		Return(&model.ImageVersion{PageID: pageID, VersionNumber: 3, IsCurrent: true}, nil)

	var result datatypes.JSONMap
	m.tasks.On("MarkCompleted", mock.Anything, taskID, mock.Anything).
		Run(func(args mock.Arguments) { result = args.Get(2).(datatypes.JSONMap) }).
		Return(nil)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 2, Payload: handleJobPayload(t, taskID)})

	assert.NoError(t, err)
	assert.Equal(t, storedKey, result["image_key"])
	assert.Equal(t, 3, result["version_number"])
	assert.Contains(t, storedKey, "images/"+documentID.String())
}

func TestImageEditRequiresCurrentVersion(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID, taskID := uuid.New(), uuid.New(), uuid.New()
	pageID := uuid.New()

	task := &model.Task{
		ID: taskID, DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeImageEdit, Status: model.TaskStatusPending,
		Payload: datatypes.JSONMap{"page_id": pageID.String(), "prompt": "darker"},
	}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(nil)
	m.tasks.On("MarkFailed", mock.Anything, taskID, mock.Anything).Return(nil)
	m.docs.On("GetOwnedPage", mock.Anything, companyID, pageID).
		Return(&model.Page{ID: pageID, DocumentID: documentID}, nil)
	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)
	m.images.On("GetCurrent", mock.Anything, pageID).Return(nil, repo.ErrNotFound)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 2, Payload: handleJobPayload(t, taskID)})

	assert.ErrorContains(t, err, "no image to edit")
	m.worker.AssertNotCalled(t, "BinaryRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExportStoresFile(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID, taskID := uuid.New(), uuid.New(), uuid.New()

	task := &model.Task{
		ID: taskID, DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeExportPDF, Status: model.TaskStatusPending,
	}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(nil)
	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)
	m.docs.On("ListPages", mock.Anything, documentID).Return([]model.Page{{Title: "Cover"}}, nil)

	exportTimeout := 300000 * time.Millisecond
	m.worker.On("BinaryRequest", mock.Anything, "/export/presentation", mock.MatchedBy(func(body any) bool {
		b, ok := body.(map[string]any)
		return ok && b["format"] == "pdf"
	}), exportTimeout).
		Return(&httpclient.BinaryResult{Bytes: []byte("%PDF"), ContentType: "application/pdf", FileName: "deck.pdf"}, nil)
	m.blob.On("UploadBytes", mock.Anything, mock.Anything, []byte("%PDF"), "application/pdf").Return("etag", nil)

	var result datatypes.JSONMap
	m.tasks.On("MarkCompleted", mock.Anything, taskID, mock.Anything).
		Run(func(args mock.Arguments) { result = args.Get(2).(datatypes.JSONMap) }).
		Return(nil)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 2, Payload: handleJobPayload(t, taskID)})

	assert.NoError(t, err)
	assert.Equal(t, "deck.pdf", result["file_name"])
	assert.Contains(t, result["file_key"], "exports/"+documentID.String())
}

func TestDescriptionsProgressPerPage(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID, taskID := uuid.New(), uuid.New(), uuid.New()
	pageA, pageB := uuid.New(), uuid.New()

	task := &model.Task{
		ID: taskID, DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeDescriptionsGenerate, Status: model.TaskStatusPending,
	}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(nil)
	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)
	m.docs.On("ListPages", mock.Anything, documentID).Return([]model.Page{
		{ID: pageA, PageIndex: 0, Title: "Intro"},
		{ID: pageB, PageIndex: 1, Title: "Roadmap"},
	}, nil)

	m.worker.On("Request", mock.Anything, "POST", "/generate/descriptions", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			raw, _ := sonic.Marshal(map[string]any{"descriptions": []string{"first", "second"}})
			assert.NoError(t, sonic.Unmarshal(raw, args.Get(4)))
		}).
		Return(nil)

	m.docs.On("UpdatePageDescription", mock.Anything, pageA, "first").Return(nil)
	m.docs.On("UpdatePageDescription", mock.Anything, pageB, "second").Return(nil)

	var progressUpdates []datatypes.JSONMap
	m.tasks.On("UpdateProgress", mock.Anything, taskID, mock.Anything).
		Run(func(args mock.Arguments) { progressUpdates = append(progressUpdates, args.Get(2).(datatypes.JSONMap)) }).
		Return(nil)
	m.tasks.On("MarkCompleted", mock.Anything, taskID, datatypes.JSONMap{"page_count": 2}).Return(nil)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 2, Payload: handleJobPayload(t, taskID)})

	assert.NoError(t, err)
	assert.Equal(t, []datatypes.JSONMap{
		{"completed": 1, "total": 2},
		{"completed": 2, "total": 2},
	}, progressUpdates)
}

func TestReferenceParseStoresWorkerResult(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID, taskID := uuid.New(), uuid.New(), uuid.New()

	task := &model.Task{
		ID: taskID, DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeReferenceFileParse, Status: model.TaskStatusPending,
		Payload: datatypes.JSONMap{"file_key": "uploads/spec.docx"},
	}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(nil)
	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(ownedDocument(companyID, documentID), nil)
	m.blob.On("Download", mock.Anything, "uploads/spec.docx").
		Return([]byte("docx-bytes"), "application/vnd.openxmlformats-officedocument.wordprocessingml.document", nil)

	m.worker.On("MultipartRequest", mock.Anything, "/parse/reference-file", mock.Anything, "file", "spec.docx", []byte("docx-bytes"), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			out := args.Get(6).(*map[string]any)
			*out = map[string]any{"sections": []any{"intro", "body"}}
		}).
		Return(nil)

	var result datatypes.JSONMap
	m.tasks.On("MarkCompleted", mock.Anything, taskID, mock.Anything).
		Run(func(args mock.Arguments) { result = args.Get(2).(datatypes.JSONMap) }).
		Return(nil)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 2, Payload: handleJobPayload(t, taskID)})

	assert.NoError(t, err)
	assert.Equal(t, []any{"intro", "body"}, result["sections"])
}

func TestCredentialForwardedToWorker(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID, taskID := uuid.New(), uuid.New(), uuid.New()

	doc := ownedDocument(companyID, documentID)
	doc.Configs = datatypes.JSONMap{"model_id": "img-large"}
	task := &model.Task{
		ID: taskID, DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeOutlineGenerate, Status: model.TaskStatusPending,
	}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(nil)
	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(doc, nil)
	m.creds.On("Resolve", mock.Anything, companyID, "img-large").
		Return(&model.ModelCredential{ModelID: "img-large", Provider: "acme", APIKey: "secret"}, nil)

	m.worker.On("Request", mock.Anything, "POST", "/generate/outline", mock.MatchedBy(func(body any) bool {
		b, ok := body.(map[string]any)
		if !ok {
			return false
		}
		mb, ok := b["model"].(map[string]any)
		return ok && mb["api_key"] == "secret" && mb["provider"] == "acme"
	}), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			raw, _ := sonic.Marshal(map[string]any{"pages": []map[string]string{{"title": "One"}}})
			assert.NoError(t, sonic.Unmarshal(raw, args.Get(4)))
		}).
		Return(nil)
	m.docs.On("ReplacePages", mock.Anything, documentID, mock.Anything).Return(nil)
	m.tasks.On("MarkCompleted", mock.Anything, taskID, mock.Anything).Return(nil)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 2, Payload: handleJobPayload(t, taskID)})

	assert.NoError(t, err)
}

func TestMissingCredentialFailsTask(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID, taskID := uuid.New(), uuid.New(), uuid.New()

	doc := ownedDocument(companyID, documentID)
	doc.Configs = datatypes.JSONMap{"model_id": "img-large"}
	task := &model.Task{
		ID: taskID, DocumentID: documentID, CompanyID: companyID,
		TaskType: model.TaskTypeOutlineGenerate, Status: model.TaskStatusPending,
	}
	m.tasks.On("Get", mock.Anything, taskID).Return(task, nil)
	m.tasks.On("MarkRunning", mock.Anything, taskID, mock.Anything).Return(nil)
	m.docs.On("GetOwned", mock.Anything, companyID, documentID).Return(doc, nil)
	m.creds.On("Resolve", mock.Anything, companyID, "img-large").Return(nil, repo.ErrNotFound)
	m.tasks.On("MarkFailed", mock.Anything, taskID, mock.Anything).Return(nil)

	err := svc.HandleJob(context.Background(), &queue.Job{ID: "j1", Attempt: 2, Payload: handleJobPayload(t, taskID)})

	assert.ErrorContains(t, err, "img-large")
	m.worker.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListForDocumentClampsLimit(t *testing.T) {
	svc, m := newTestTaskService(t, nil)
	companyID, documentID := uuid.New(), uuid.New()

	m.docs.On("GetOwned", mock.Anything, companyID, documentID).
		Return(ownedDocument(companyID, documentID), nil)
	m.tasks.On("ListByDocument", mock.Anything, companyID, documentID, 20).
		Return([]model.Task{{ID: uuid.New(), DocumentID: documentID}}, nil)

	tasks, err := svc.ListForDocument(context.Background(), companyID, documentID, 500)
	assert.NoError(t, err)
	assert.Len(t, tasks, 1)
	m.tasks.AssertExpectations(t)
}

func TestListForDocumentRequiresOwnership(t *testing.T) {
	svc, m := newTestTaskService(t, nil)

	m.docs.On("GetOwned", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, repo.ErrNotFound)

	_, err := svc.ListForDocument(context.Background(), uuid.New(), uuid.New(), 20)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	m.tasks.AssertNotCalled(t, "ListByDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
