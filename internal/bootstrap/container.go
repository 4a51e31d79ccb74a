package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/memodb-io/deploy-platform/internal/config"
	"github.com/memodb-io/deploy-platform/internal/infra/blob"
	"github.com/memodb-io/deploy-platform/internal/infra/cache"
	"github.com/memodb-io/deploy-platform/internal/infra/db"
	"github.com/memodb-io/deploy-platform/internal/infra/httpclient"
	"github.com/memodb-io/deploy-platform/internal/infra/logger"
	"github.com/memodb-io/deploy-platform/internal/infra/queue"
	"github.com/memodb-io/deploy-platform/internal/modules/handler"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"github.com/memodb-io/deploy-platform/internal/modules/repo"
	"github.com/memodb-io/deploy-platform/internal/modules/service"
	"github.com/memodb-io/deploy-platform/internal/pkg/utils/secrets"
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
			if err := d.AutoMigrate(
				&model.Site{},
				&model.Domain{},
				&model.Deployment{},
				&model.SiteDatabase{},
			); err != nil {
				return nil, err
			}
		}
		return d, nil
	})

	// Redis, optional. nil when no address is configured.
	do.Provide(inj, func(i *do.Injector) (*redis.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return cache.New(cfg), nil
	})

	// hostname resolution cache
	do.Provide(inj, func(i *do.Injector) (cache.Cache, error) {
		if rdb := do.MustInvoke[*redis.Client](i); rdb != nil {
			return cache.NewRedisCache(rdb, "deploy:"), nil
		}
		return cache.NewMemoryCache(), nil
	})

	// RabbitMQ, optional. Deploy events are skipped without a broker.
	do.Provide(inj, func(i *do.Injector) (service.EventPublisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.RabbitMQ.URL == "" {
			return nil, nil
		}
		conn, err := amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return nil, err
		}
		pub, err := queue.NewPublisher(conn, cfg.RabbitMQ.Exchange, do.MustInvoke[*zap.Logger](i))
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return pub, nil
	})

	// S3
	do.Provide(inj, func(i *do.Injector) (*blob.S3Deps, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return blob.NewS3(context.Background(), cfg)
	})

	// secret codec, a bad key stops startup
	do.Provide(inj, func(i *do.Injector) (*secrets.Codec, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return secrets.NewCodec(cfg.Deploy.EncryptionKey)
	})

	// external HTTP clients
	do.Provide(inj, func(i *do.Injector) (*httpclient.TursoClient, error) {
		return httpclient.NewTursoClient(do.MustInvoke[*config.Config](i), do.MustInvoke[*zap.Logger](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*httpclient.PipelineClient, error) {
		return httpclient.NewPipelineClient(do.MustInvoke[*config.Config](i), do.MustInvoke[*zap.Logger](i)), nil
	})

	// Repo
	do.Provide(inj, func(i *do.Injector) (repo.SiteRepo, error) {
		return repo.NewSiteRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.DomainRepo, error) {
		return repo.NewDomainRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.DeploymentRepo, error) {
		return repo.NewDeploymentRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.SiteDatabaseRepo, error) {
		return repo.NewSiteDatabaseRepo(do.MustInvoke[*gorm.DB](i)), nil
	})

	// Service
	do.Provide(inj, func(i *do.Injector) (service.ResolverService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewResolverService(
			do.MustInvoke[repo.SiteRepo](i),
			do.MustInvoke[repo.DomainRepo](i),
			do.MustInvoke[repo.DeploymentRepo](i),
			do.MustInvoke[cache.Cache](i),
			time.Duration(cfg.Runtime.ResolveCacheTTLSec)*time.Second,
			cfg.Deploy.PlatformDomain,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.SiteService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewSiteService(
			do.MustInvoke[repo.SiteRepo](i),
			do.MustInvoke[repo.DomainRepo](i),
			do.MustInvoke[repo.DeploymentRepo](i),
			do.MustInvoke[service.ResolverService](i),
			cfg.Deploy.PlatformDomain,
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.DeploymentService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewDeploymentService(
			do.MustInvoke[service.SiteService](i),
			do.MustInvoke[service.ResolverService](i),
			do.MustInvoke[repo.DeploymentRepo](i),
			do.MustInvoke[repo.DomainRepo](i),
			do.MustInvoke[repo.SiteDatabaseRepo](i),
			do.MustInvoke[*blob.S3Deps](i),
			do.MustInvoke[service.EventPublisher](i),
			service.DeploymentConfig{
				SitesPrefix:      cfg.Deploy.SitesPrefix,
				ManifestPrefix:   cfg.Deploy.ManifestPrefix,
				PublicAPIBaseURL: cfg.Deploy.PublicAPIBaseURL,
			},
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.DatabaseService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewDatabaseService(
			do.MustInvoke[service.SiteService](i),
			do.MustInvoke[repo.SiteDatabaseRepo](i),
			do.MustInvoke[*httpclient.TursoClient](i),
			do.MustInvoke[*secrets.Codec](i),
			service.DatabaseConfig{OrgSlug: cfg.Turso.OrgSlug, Group: cfg.Turso.Group},
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.RuntimeService, error) {
		return service.NewRuntimeService(
			do.MustInvoke[service.ResolverService](i),
			do.MustInvoke[service.DatabaseService](i),
			do.MustInvoke[*httpclient.PipelineClient](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.PreflightService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		gdb := do.MustInvoke[*gorm.DB](i)
		s3 := do.MustInvoke[*blob.S3Deps](i)
		turso := do.MustInvoke[*httpclient.TursoClient](i)

		return service.NewPreflightService(
			func(ctx context.Context) error {
				sqlDB, err := gdb.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			s3.HeadBucket,
			func(ctx context.Context) error {
				if cfg.Turso.APIToken == "" {
					return errors.New("turso api token not configured")
				}
				return turso.Ping(ctx)
			},
			cfg.MissingEnv,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	// Handler
	do.Provide(inj, func(i *do.Injector) (*handler.SiteHandler, error) {
		return handler.NewSiteHandler(do.MustInvoke[service.SiteService](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.DeploymentHandler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return handler.NewDeploymentHandler(do.MustInvoke[service.DeploymentService](i), cfg.Deploy.MaxUploadBytes), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.DatabaseHandler, error) {
		return handler.NewDatabaseHandler(do.MustInvoke[service.DatabaseService](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.RuntimeHandler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return handler.NewRuntimeHandler(do.MustInvoke[service.RuntimeService](i), cfg.Runtime.MaxBodyBytes), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.PreflightHandler, error) {
		return handler.NewPreflightHandler(do.MustInvoke[service.PreflightService](i)), nil
	})

	return inj
}
