package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/draftdeck/draftdeck/internal/modules/serializer"
	"github.com/draftdeck/draftdeck/internal/modules/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type TaskHandler struct {
	svc service.TaskService
}

func NewTaskHandler(s service.TaskService) *TaskHandler {
	return &TaskHandler{svc: s}
}

type SubmitTaskReq struct {
	Type    string         `json:"type" binding:"required" example:"outline-generate"`
	UserID  string         `json:"user_id" binding:"required" example:"123e4567-e89b-12d3-a456-426614174000"`
	Payload map[string]any `json:"payload"`
}

type SubmitTaskResp struct {
	TaskID uuid.UUID `json:"task_id"`
}

// SubmitTask godoc
//
//	@Summary		Submit task
//	@Description	Submit an asynchronous AI-generation task for a document
//	@Tags			task
//	@Accept			json
//	@Produce		json
//	@Param			document_id	path	string			true	"Document ID"	Format(uuid)
//	@Param			request		body	SubmitTaskReq	true	"Task type and payload"
//	@Security		BearerAuth
//	@Success		202	{object}	serializer.Response{data=SubmitTaskResp}
//	@Router			/documents/{document_id}/tasks [post]
func (h *TaskHandler) SubmitTask(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("document_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	req := SubmitTaskReq{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid user_id", err))
		return
	}

	company, ok := c.MustGet("company").(*model.Company)
	if !ok {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", errors.New("company not found")))
		return
	}

	taskID, err := h.svc.Submit(c.Request.Context(), service.SubmitTaskInput{
		TaskType:   model.TaskType(req.Type),
		DocumentID: documentID,
		CompanyID:  company.ID,
		UserID:     userID,
		Payload:    req.Payload,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTaskType):
			c.JSON(http.StatusBadRequest, serializer.ParamErr("unknown task type", err))
		case errors.Is(err, repo.ErrNotFound):
			c.JSON(http.StatusNotFound, serializer.NotFoundErr("document not found"))
		default:
			c.JSON(http.StatusInternalServerError, serializer.Err(http.StatusInternalServerError, "task submission failed", err))
		}
		return
	}

	c.JSON(http.StatusAccepted, serializer.Response{Data: SubmitTaskResp{TaskID: taskID}})
}

// GetTask godoc
//
//	@Summary		Get task
//	@Description	Get a task's status, progress and result
//	@Tags			task
//	@Accept			json
//	@Produce		json
//	@Param			task_id	path	string	true	"Task ID"	Format(uuid)
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=model.Task}
//	@Router			/tasks/{task_id} [get]
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	company, ok := c.MustGet("company").(*model.Company)
	if !ok {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", errors.New("company not found")))
		return
	}

	task, err := h.svc.Get(c.Request.Context(), company.ID, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, serializer.NotFoundErr("task not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: task})
}

// ListDocumentTasks godoc
//
//	@Summary		List document tasks
//	@Description	Recent tasks for a document, newest first
//	@Tags			task
//	@Accept			json
//	@Produce		json
//	@Param			document_id	path	string	true	"Document ID"	Format(uuid)
//	@Param			limit		query	int		false	"Max rows (default 20)"
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=[]model.Task}
//	@Router			/documents/{document_id}/tasks [get]
func (h *TaskHandler) ListDocumentTasks(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("document_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	company, ok := c.MustGet("company").(*model.Company)
	if !ok {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", errors.New("company not found")))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	tasks, err := h.svc.ListForDocument(c.Request.Context(), company.ID, documentID, limit)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, serializer.NotFoundErr("document not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: tasks})
}

type CancelTaskResp struct {
	Cancelled bool `json:"cancelled"`
}

// CancelTask godoc
//
//	@Summary		Cancel task
//	@Description	Cancel a pending or running task. Finished tasks report cancelled=false.
//	@Tags			task
//	@Accept			json
//	@Produce		json
//	@Param			task_id	path	string	true	"Task ID"	Format(uuid)
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=CancelTaskResp}
//	@Router			/tasks/{task_id}/cancel [post]
func (h *TaskHandler) CancelTask(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	company, ok := c.MustGet("company").(*model.Company)
	if !ok {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", errors.New("company not found")))
		return
	}

	cancelled, err := h.svc.Cancel(c.Request.Context(), company.ID, taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: CancelTaskResp{Cancelled: cancelled}})
}

// QueueStatus godoc
//
//	@Summary		Queue status
//	@Description	Snapshot of queue job counts. Empty when no queue is configured.
//	@Tags			task
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=queue.Counts}
//	@Router			/tasks/queue/status [get]
func (h *TaskHandler) QueueStatus(c *gin.Context) {
	counts, err := h.svc.QueueStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, serializer.Err(http.StatusInternalServerError, "queue status unavailable", err))
		return
	}
	if counts == nil {
		c.JSON(http.StatusOK, serializer.Response{Msg: "queue disabled"})
		return
	}
	c.JSON(http.StatusOK, serializer.Response{Data: counts})
}
