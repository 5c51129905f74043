package main

//	@title			Draftdeck API
//	@version		1.0
//	@description	API for Draftdeck.
//	@schemes		http https
//	@BasePath		/api/v1

//  Bearer at Company level
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Company API key (e.g., "Bearer sk-dd-xxxx")

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/draftdeck/draftdeck/internal/bootstrap"
	"github.com/draftdeck/draftdeck/internal/config"
	"github.com/draftdeck/draftdeck/internal/infra/queue"
	"github.com/draftdeck/draftdeck/internal/modules/handler"
	"github.com/draftdeck/draftdeck/internal/modules/service"
	"github.com/draftdeck/draftdeck/internal/router"
	"github.com/draftdeck/draftdeck/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/samber/do"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// build dependency injection container
	inj := bootstrap.BuildContainer()

	cfg := do.MustInvoke[*config.Config](inj)
	log := do.MustInvoke[*zap.Logger](inj)
	db := do.MustInvoke[*gorm.DB](inj)

	// Setup OpenTelemetry tracing (using configuration system)
	tp, err := telemetry.SetupTracing(cfg)
	if err != nil {
		log.Sugar().Warnw("failed to setup tracing, continuing without tracing", "err", err)
	} else if tp != nil {
		log.Sugar().Infow("OpenTelemetry tracing enabled", "endpoint", cfg.Telemetry.OtlpEndpoint)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(ctx); err != nil {
				log.Sugar().Errorw("failed to shutdown tracer", "err", err)
			}
		}()
	}

	// init gin
	gin.SetMode(cfg.App.Env)

	taskService := do.MustInvoke[service.TaskService](inj)

	// start the queue consumer feeding task execution
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if consumer := do.MustInvoke[queue.Consumer](inj); consumer != nil {
		if err := consumer.Start(consumerCtx, taskService.HandleJob); err != nil {
			log.Sugar().Fatalw("failed to start queue consumer", "err", err)
		}
		log.Sugar().Infow("queue consumer started", "queue", cfg.Queue.Name, "concurrency", cfg.Queue.Concurrency)
	} else {
		log.Sugar().Warnw("queue disabled, tasks run in-process")
	}

	engine := router.NewRouter(router.RouterDeps{
		Config:          cfg,
		DB:              db,
		Log:             log,
		TaskHandler:     do.MustInvoke[*handler.TaskHandler](inj),
		PageHandler:     do.MustInvoke[*handler.PageHandler](inj),
		DocumentHandler: do.MustInvoke[*handler.DocumentHandler](inj),
		HealthHandler:   do.MustInvoke[*handler.HealthHandler](inj),
	})

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		log.Sugar().Infow("starting http server", "addr", addr)
		log.Sugar().Infow("swagger url", "url", addr+"/swagger/index.html")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Sugar().Fatalw("listen error", "err", err)
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Sugar().Errorw("server shutdown", "err", err)
	}

	stopConsumer()
	taskService.Shutdown()
	log.Sugar().Info("server exited")
}
