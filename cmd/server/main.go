package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/memodb-io/deploy-platform/internal/bootstrap"
	"github.com/memodb-io/deploy-platform/internal/config"
	"github.com/memodb-io/deploy-platform/internal/infra/cache"
	dbpkg "github.com/memodb-io/deploy-platform/internal/infra/db"
	"github.com/memodb-io/deploy-platform/internal/modules/handler"
	"github.com/memodb-io/deploy-platform/internal/pkg/utils/secrets"
	"github.com/memodb-io/deploy-platform/internal/router"
	"github.com/memodb-io/deploy-platform/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// build dependency injection container
	inj := bootstrap.BuildContainer()

	cfg := do.MustInvoke[*config.Config](inj)
	log := do.MustInvoke[*zap.Logger](inj)

	// Refuse to start with a missing or malformed encryption key.
	if _, err := do.Invoke[*secrets.Codec](inj); err != nil {
		log.Sugar().Fatalw("invalid deploy encryption key", "err", err)
	}

	db := do.MustInvoke[*gorm.DB](inj)
	rdb := do.MustInvoke[*redis.Client](inj)

	if missing := cfg.MissingEnv(); len(missing) > 0 {
		log.Sugar().Warnw("deploy settings missing, preflight will fail", "missing_env", missing)
	}

	// Setup OpenTelemetry tracing (using configuration system)
	tp, shutdownTracing, err := telemetry.SetupTracing(cfg)
	if err != nil {
		log.Sugar().Warnw("failed to setup tracing, continuing without tracing", "err", err)
	} else if tp != nil {
		log.Sugar().Infow("OpenTelemetry tracing enabled", "endpoint", cfg.Telemetry.OtlpEndpoint, "version", cfg.App.Version)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Sugar().Errorw("failed to shutdown tracer", "err", err)
			}
		}()

		// Register GORM OpenTelemetry plugin after tracer provider is set
		if err := dbpkg.RegisterOpenTelemetryPlugin(db); err != nil {
			log.Sugar().Warnw("failed to register GORM OpenTelemetry plugin, continuing without database tracing", "err", err)
		} else {
			log.Sugar().Info("GORM OpenTelemetry plugin registered")
		}

		// Register Redis OpenTelemetry plugin after tracer provider is set
		if err := cache.RegisterOpenTelemetryPlugin(rdb); err != nil {
			log.Sugar().Warnw("failed to register Redis OpenTelemetry plugin, continuing without Redis tracing", "err", err)
		} else if rdb != nil {
			log.Sugar().Info("Redis OpenTelemetry plugin registered")
		}
	}

	// init gin
	gin.SetMode(cfg.App.Env)

	engine := router.NewRouter(router.RouterDeps{
		Config:            cfg,
		Log:               log,
		SiteHandler:       do.MustInvoke[*handler.SiteHandler](inj),
		DeploymentHandler: do.MustInvoke[*handler.DeploymentHandler](inj),
		DatabaseHandler:   do.MustInvoke[*handler.DatabaseHandler](inj),
		RuntimeHandler:    do.MustInvoke[*handler.RuntimeHandler](inj),
		PreflightHandler:  do.MustInvoke[*handler.PreflightHandler](inj),
	})

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		log.Sugar().Infow("starting http server", "addr", addr, "platform_domain", cfg.Deploy.PlatformDomain)
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
	if err := inj.Shutdown(); err != nil {
		log.Sugar().Warnw("container shutdown", "err", err)
	}
	log.Sugar().Info("server exited")
}
