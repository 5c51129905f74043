package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "github.com/draftdeck/draftdeck/docs"
	"github.com/draftdeck/draftdeck/internal/config"
	"github.com/draftdeck/draftdeck/internal/middleware"
	"github.com/draftdeck/draftdeck/internal/modules/handler"
	"github.com/draftdeck/draftdeck/internal/modules/serializer"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type RouterDeps struct {
	Config          *config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	TaskHandler     *handler.TaskHandler
	PageHandler     *handler.PageHandler
	DocumentHandler *handler.DocumentHandler
	HealthHandler   *handler.HealthHandler
}

func NewRouter(d RouterDeps) *gin.Engine {
	// Initialize logger for serializer package
	serializer.SetLogger(d.Log)

	r := gin.New()
	r.Use(gin.Recovery())

	// Add OpenTelemetry middleware if enabled (using configuration system)
	if d.Config.Telemetry.Enabled && d.Config.Telemetry.OtlpEndpoint != "" {
		r.Use(middleware.OtelTracing(d.Config.App.Name))
		// Add trace ID to response header
		r.Use(middleware.TraceID())
	}

	r.Use(middleware.ZapLogger(d.Log))

	// health, outside auth so load balancers can reach it
	r.GET("/health", d.HealthHandler.Health)

	// swagger
	r.GET("/swagger", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	{
		v1.Use(middleware.CompanyAuth(d.Config, d.DB))

		// ping endpoint
		v1.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, serializer.Response{Msg: "pong"}) })

		documents := v1.Group("/documents")
		{
			documents.POST("/:document_id/tasks", d.TaskHandler.SubmitTask)
			documents.GET("/:document_id/tasks", d.TaskHandler.ListDocumentTasks)
			documents.POST("/:document_id/reference-files", d.DocumentHandler.UploadReferenceFile)
		}

		tasks := v1.Group("/tasks")
		{
			tasks.GET("/queue/status", d.TaskHandler.QueueStatus)
			tasks.GET("/:task_id", d.TaskHandler.GetTask)
			tasks.POST("/:task_id/cancel", d.TaskHandler.CancelTask)
		}

		pages := v1.Group("/pages")
		{
			pages.GET("/:page_id/image-versions", d.PageHandler.ListImageVersions)
			pages.PUT("/:page_id/image-versions/:version_id/current", d.PageHandler.SwitchImageVersion)
		}
	}
	return r
}
