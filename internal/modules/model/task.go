package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TaskType is the unit of work a task drives against the AI worker.
type TaskType string

const (
	TaskTypeOutlineGenerate      TaskType = "outline-generate"
	TaskTypeOutlineRefine        TaskType = "outline-refine"
	TaskTypeDescriptionsGenerate TaskType = "descriptions-generate"
	TaskTypeDescriptionsRefine   TaskType = "descriptions-refine"
	TaskTypeImagesGenerate       TaskType = "images-generate"
	TaskTypeImageGenerateSingle  TaskType = "image-generate-single"
	TaskTypeImageEdit            TaskType = "image-edit"
	TaskTypeExportPPTX           TaskType = "export-pptx"
	TaskTypeExportPDF            TaskType = "export-pdf"
	TaskTypeExportEditablePPTX   TaskType = "export-editable-pptx"
	TaskTypeReferenceFileParse   TaskType = "reference-file-parse"
)

// AllTaskTypes lists every supported task type.
var AllTaskTypes = []TaskType{
	TaskTypeOutlineGenerate,
	TaskTypeOutlineRefine,
	TaskTypeDescriptionsGenerate,
	TaskTypeDescriptionsRefine,
	TaskTypeImagesGenerate,
	TaskTypeImageGenerateSingle,
	TaskTypeImageEdit,
	TaskTypeExportPPTX,
	TaskTypeExportPDF,
	TaskTypeExportEditablePPTX,
	TaskTypeReferenceFileParse,
}

func (t TaskType) Valid() bool {
	for _, k := range AllTaskTypes {
		if t == k {
			return true
		}
	}
	return false
}

// TaskStatus moves forward only: pending -> running -> completed|failed|cancelled.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

type Task struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	CompanyID  uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`

	TaskType TaskType   `gorm:"type:text;not null;index" json:"task_type"`
	Status   TaskStatus `gorm:"type:text;not null;default:'pending';check:status IN ('pending','running','completed','failed','cancelled');index" json:"status"`

	Progress datatypes.JSONMap `gorm:"type:jsonb" swaggertype:"object" json:"progress"`
	Result   datatypes.JSONMap `gorm:"type:jsonb" swaggertype:"object" json:"result"`
	Payload  datatypes.JSONMap `gorm:"type:jsonb" swaggertype:"object" json:"payload"`

	ErrorMessage  string  `gorm:"type:text" json:"error_message,omitempty"`
	ExternalJobID *string `gorm:"type:text;index" json:"external_job_id,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// Task <-> Document
	Document *Document `gorm:"foreignKey:DocumentID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"document"`
}

func (Task) TableName() string { return "tasks" }

// Terminal reports whether the task reached a final status.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed || t.Status == TaskStatusCancelled
}
