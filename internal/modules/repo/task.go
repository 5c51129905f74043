package repo

import (
	"context"
	"errors"
	"time"

	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TaskRepo interface {
	Create(ctx context.Context, t *model.Task) error
	Get(ctx context.Context, taskID uuid.UUID) (*model.Task, error)
	GetOwned(ctx context.Context, companyID, taskID uuid.UUID) (*model.Task, error)
	SetExternalJobID(ctx context.Context, taskID uuid.UUID, jobID string) error
	MarkRunning(ctx context.Context, taskID uuid.UUID, progress datatypes.JSONMap) error
	UpdateProgress(ctx context.Context, taskID uuid.UUID, progress datatypes.JSONMap) error
	MarkCompleted(ctx context.Context, taskID uuid.UUID, result datatypes.JSONMap) error
	MarkFailed(ctx context.Context, taskID uuid.UUID, errorMessage string) error
	MarkCancelled(ctx context.Context, taskID uuid.UUID) error
	ListByDocument(ctx context.Context, companyID, documentID uuid.UUID, limit int) ([]model.Task, error)
}

type taskRepo struct{ db *gorm.DB }

func NewTaskRepo(db *gorm.DB) TaskRepo {
	return &taskRepo{db: db}
}

func (r *taskRepo) Create(ctx context.Context, t *model.Task) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *taskRepo) Get(ctx context.Context, taskID uuid.UUID) (*model.Task, error) {
	var t model.Task
	err := r.db.WithContext(ctx).Where(&model.Task{ID: taskID}).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *taskRepo) GetOwned(ctx context.Context, companyID, taskID uuid.UUID) (*model.Task, error) {
	var t model.Task
	err := r.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", taskID, companyID).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &t, err
}

// SetExternalJobID attaches the queue job id; set exactly once per task.
func (r *taskRepo) SetExternalJobID(ctx context.Context, taskID uuid.UUID, jobID string) error {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND external_job_id IS NULL", taskID).
		Update("external_job_id", jobID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkRunning flips a pending task to running. A task already running (a
// queue-level retry attempt) is left running; terminal tasks are rejected.
func (r *taskRepo) MarkRunning(ctx context.Context, taskID uuid.UUID, progress datatypes.JSONMap) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status IN ('pending','running')", taskID).
		Updates(map[string]any{
			"status":     model.TaskStatusRunning,
			"started_at": &now,
			"progress":   progress,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *taskRepo) UpdateProgress(ctx context.Context, taskID uuid.UUID, progress datatypes.JSONMap) error {
	return r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = 'running'", taskID).
		Update("progress", progress).Error
}

func (r *taskRepo) MarkCompleted(ctx context.Context, taskID uuid.UUID, result datatypes.JSONMap) error {
	return r.terminal(ctx, taskID, "status = 'running'", map[string]any{
		"status": model.TaskStatusCompleted,
		"result": result,
	})
}

func (r *taskRepo) MarkFailed(ctx context.Context, taskID uuid.UUID, errorMessage string) error {
	const maxErrLen = 500
	if len(errorMessage) > maxErrLen {
		errorMessage = errorMessage[:maxErrLen]
	}
	return r.terminal(ctx, taskID, "status IN ('pending','running')", map[string]any{
		"status":        model.TaskStatusFailed,
		"error_message": errorMessage,
	})
}

func (r *taskRepo) MarkCancelled(ctx context.Context, taskID uuid.UUID) error {
	return r.terminal(ctx, taskID, "status IN ('pending','running')", map[string]any{
		"status": model.TaskStatusCancelled,
	})
}

func (r *taskRepo) terminal(ctx context.Context, taskID uuid.UUID, guard string, updates map[string]any) error {
	now := time.Now()
	updates["completed_at"] = &now
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", taskID).Where(guard).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *taskRepo) ListByDocument(ctx context.Context, companyID, documentID uuid.UUID, limit int) ([]model.Task, error) {
	var tasks []model.Task
	q := r.db.WithContext(ctx).
		Where("company_id = ? AND document_id = ?", companyID, documentID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return tasks, q.Find(&tasks).Error
}
