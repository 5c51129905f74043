package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/draftdeck/draftdeck/internal/config"
	"github.com/draftdeck/draftdeck/internal/infra/blob"
	"github.com/draftdeck/draftdeck/internal/infra/cache"
	"github.com/draftdeck/draftdeck/internal/infra/db"
	"github.com/draftdeck/draftdeck/internal/infra/httpclient"
	"github.com/draftdeck/draftdeck/internal/infra/logger"
	"github.com/draftdeck/draftdeck/internal/infra/queue"
	"github.com/draftdeck/draftdeck/internal/modules/handler"
	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/repo"
	"github.com/draftdeck/draftdeck/internal/modules/service"
	"github.com/draftdeck/draftdeck/internal/pkg/utils"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func BuildContainer() *do.Injector {
	inj := do.New()

	// config
	do.Provide(inj, func(i *do.Injector) (*config.Config, error) {
		return config.Load()
	})

	// logger
	do.Provide(inj, func(i *do.Injector) (*zap.Logger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return logger.New(cfg.Log.Level)
	})

	// DB
	do.Provide(inj, func(i *do.Injector) (*gorm.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		d, err := db.New(cfg)
		if err != nil {
			return nil, err
		}
		// [optional] auto migrate
		if cfg.Database.AutoMigrate {
			_ = d.AutoMigrate(
				&model.Company{},
				&model.Document{},
				&model.Page{},
				&model.Task{},
				&model.ImageVersion{},
				&model.ModelCredential{},
			)
			if err := seedDefaultCompany(d, cfg, do.MustInvoke[*zap.Logger](i)); err != nil {
				return nil, err
			}
		}
		return d, nil
	})

	// Redis
	do.Provide(inj, func(i *do.Injector) (*redis.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		rdb := cache.New(cfg)
		return rdb, nil
	})

	// RabbitMQ Connection
	do.Provide(inj, func(i *do.Injector) (*amqp.Connection, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.Queue.Enabled {
			return nil, errors.New("queue disabled")
		}
		return amqp.Dial(cfg.RabbitMQ.URL)
	})

	// S3
	do.Provide(inj, func(i *do.Injector) (*blob.S3Deps, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return blob.NewS3(context.Background(), cfg)
	})
	// get presign expire duration
	do.Provide(inj, func(i *do.Injector) (func() time.Duration, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return func() time.Duration {
			if cfg.S3.PresignExpireSec <= 0 {
				return 15 * time.Minute
			}
			return time.Duration(cfg.S3.PresignExpireSec) * time.Second
		}, nil
	})

	// AI worker client
	do.Provide(inj, func(i *do.Injector) (*httpclient.WorkerClient, error) {
		return httpclient.NewWorkerClient(
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	// Queue + consumer, nil providers when the broker is disabled
	do.Provide(inj, func(i *do.Injector) (queue.Queue, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.Queue.Enabled {
			return nil, nil
		}
		return queue.NewAMQPQueue(
			do.MustInvoke[*amqp.Connection](i),
			do.MustInvoke[*redis.Client](i),
			cfg,
			do.MustInvoke[*zap.Logger](i),
		)
	})
	do.Provide(inj, func(i *do.Injector) (queue.Consumer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.Queue.Enabled {
			return nil, nil
		}
		return queue.NewAMQPConsumer(
			do.MustInvoke[*amqp.Connection](i),
			do.MustInvoke[*redis.Client](i),
			cfg,
			do.MustInvoke[*zap.Logger](i),
		)
	})

	// Repo
	do.Provide(inj, func(i *do.Injector) (repo.TaskRepo, error) {
		return repo.NewTaskRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.DocumentRepo, error) {
		return repo.NewDocumentRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.ImageVersionRepo, error) {
		return repo.NewImageVersionRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.CredentialRepo, error) {
		return repo.NewCredentialRepo(do.MustInvoke[*gorm.DB](i)), nil
	})

	// Service
	do.Provide(inj, func(i *do.Injector) (*service.TaskCache, error) {
		return service.NewTaskCache(do.MustInvoke[*redis.Client](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.TaskService, error) {
		return service.NewTaskService(service.TaskServiceDeps{
			Tasks:       do.MustInvoke[repo.TaskRepo](i),
			Docs:        do.MustInvoke[repo.DocumentRepo](i),
			Images:      do.MustInvoke[repo.ImageVersionRepo](i),
			Credentials: do.MustInvoke[repo.CredentialRepo](i),
			Worker:      do.MustInvoke[*httpclient.WorkerClient](i),
			Blob:        do.MustInvoke[*blob.S3Deps](i),
			Queue:       do.MustInvoke[queue.Queue](i),
			Consumer:    do.MustInvoke[queue.Consumer](i),
			Cache:       do.MustInvoke[*service.TaskCache](i),
			Config:      do.MustInvoke[*config.Config](i),
			Log:         do.MustInvoke[*zap.Logger](i),
		}), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.DocumentService, error) {
		return service.NewDocumentService(
			do.MustInvoke[repo.DocumentRepo](i),
			do.MustInvoke[*blob.S3Deps](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.PageService, error) {
		return service.NewPageService(
			do.MustInvoke[repo.DocumentRepo](i),
			do.MustInvoke[repo.ImageVersionRepo](i),
			do.MustInvoke[*blob.S3Deps](i),
			do.MustInvoke[func() time.Duration](i),
		), nil
	})

	// Handler
	do.Provide(inj, func(i *do.Injector) (*handler.TaskHandler, error) {
		return handler.NewTaskHandler(do.MustInvoke[service.TaskService](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.PageHandler, error) {
		return handler.NewPageHandler(do.MustInvoke[service.PageService](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.DocumentHandler, error) {
		return handler.NewDocumentHandler(do.MustInvoke[service.DocumentService](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.HealthHandler, error) {
		return handler.NewHealthHandler(do.MustInvoke[*httpclient.WorkerClient](i)), nil
	})

	return inj
}

// seedDefaultCompany creates a first company when the table is empty so a
// fresh deployment has a usable API key. The key comes from config, or is
// generated and logged once when config leaves it blank.
func seedDefaultCompany(d *gorm.DB, cfg *config.Config, log *zap.Logger) error {
	var n int64
	if err := d.Model(&model.Company{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	key := cfg.Root.CompanyBearerTokenPrefix + cfg.Root.ApiBearerToken
	if cfg.Root.ApiBearerToken == "" {
		generated, err := utils.GenerateKey(cfg.Root.CompanyBearerTokenPrefix)
		if err != nil {
			return err
		}
		key = generated
	}

	if err := d.Create(&model.Company{Name: "default", APIKey: key}).Error; err != nil {
		return err
	}
	log.Sugar().Infow("seeded default company", "api_key", key)
	return nil
}
