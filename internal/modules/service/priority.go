package service

import (
	"time"

	"github.com/draftdeck/draftdeck/internal/modules/model"
)

// Queue priority per task type; lower runs first. Interactive single-image
// work and reference parsing jump the line, bulk image generation yields to
// everything else.
const (
	priorityHigh      = 1
	priorityMedium    = 5
	priorityMediumLow = 7
	priorityLow       = 10
)

var taskPriorities = map[model.TaskType]int{
	model.TaskTypeImageGenerateSingle:  priorityHigh,
	model.TaskTypeImageEdit:            priorityHigh,
	model.TaskTypeReferenceFileParse:   priorityHigh,
	model.TaskTypeOutlineGenerate:      priorityMedium,
	model.TaskTypeOutlineRefine:        priorityMedium,
	model.TaskTypeDescriptionsGenerate: priorityMedium,
	model.TaskTypeDescriptionsRefine:   priorityMedium,
	model.TaskTypeExportPPTX:           priorityMediumLow,
	model.TaskTypeExportPDF:            priorityMediumLow,
	model.TaskTypeExportEditablePPTX:   priorityMediumLow,
	model.TaskTypeImagesGenerate:       priorityLow,
}

// TaskPriority returns the fixed queue priority for a task type.
func TaskPriority(t model.TaskType) int {
	if p, ok := taskPriorities[t]; ok {
		return p
	}
	return priorityMedium
}

// bulkImageTimeout extends the configured timeout linearly with page count so
// large generation batches are not aborted early.
func bulkImageTimeout(configured time.Duration, pageCount int, perPage time.Duration) time.Duration {
	budget := time.Duration(pageCount) * perPage
	if configured > budget {
		return configured
	}
	return budget
}
