package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/memodb-io/deploy-platform/internal/config"
	"github.com/memodb-io/deploy-platform/internal/middleware"
	"github.com/memodb-io/deploy-platform/internal/modules/handler"
	"github.com/memodb-io/deploy-platform/internal/modules/serializer"
)

type RouterDeps struct {
	Config            *config.Config
	Log               *zap.Logger
	SiteHandler       *handler.SiteHandler
	DeploymentHandler *handler.DeploymentHandler
	DatabaseHandler   *handler.DatabaseHandler
	RuntimeHandler    *handler.RuntimeHandler
	PreflightHandler  *handler.PreflightHandler
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

	// health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, serializer.OK(gin.H{"msg": "ok"})) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	deploy := r.Group("/deploy")
	{
		deploy.GET("/preflight", d.PreflightHandler.Preflight)

		// Tenant pages call the runtime endpoint cross origin, anonymously or
		// with a bearer token. Cookies are never honoured.
		runtime := deploy.Group("/runtime")
		{
			runtime.Use(cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     []string{"POST", "OPTIONS"},
				AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
				ExposeHeaders:    []string{"Content-Length"},
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}))
			runtime.OPTIONS("/query", func(c *gin.Context) { c.Status(http.StatusNoContent) })
			runtime.POST("/query", middleware.OptionalUserAuth(d.Config), d.RuntimeHandler.Query)
		}

		authed := deploy.Group("")
		{
			authed.Use(middleware.UserAuth(d.Config))

			authed.GET("/projects", d.SiteHandler.ListProjects)
			authed.POST("/site/init", d.SiteHandler.InitSite)
			authed.POST("/assign-subdomain", d.SiteHandler.AssignSubdomain)

			authed.POST("/upload-site", d.DeploymentHandler.UploadSite)
			authed.POST("/activate", d.DeploymentHandler.Activate)

			authed.GET("/databases", d.DatabaseHandler.ListDatabases)
			authed.POST("/provision-database", d.DatabaseHandler.Provision)
			authed.POST("/get-db-credentials", d.DatabaseHandler.GetCredentials)
		}
	}
	return r
}
