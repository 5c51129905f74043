package handler

import (
	"net/http"

	"github.com/draftdeck/draftdeck/internal/infra/httpclient"
	"github.com/draftdeck/draftdeck/internal/modules/serializer"
	"github.com/draftdeck/draftdeck/internal/modules/service"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	worker service.WorkerClient
}

func NewHealthHandler(worker service.WorkerClient) *HealthHandler {
	return &HealthHandler{worker: worker}
}

type HealthResp struct {
	Status string                  `json:"status"`
	Worker httpclient.HealthStatus `json:"worker"`
}

// Health godoc
//
//	@Summary		Health check
//	@Description	Service liveness plus the AI worker's reachability. Always 200;
//	@Description	an unhealthy worker shows up in the body, not the status code.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	serializer.Response{data=HealthResp}
//	@Router			/health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResp{Status: "ok"}
	if h.worker != nil {
		resp.Worker = h.worker.CheckHealth(c.Request.Context())
	}
	c.JSON(http.StatusOK, serializer.Response{Data: resp, Msg: "ok"})
}
