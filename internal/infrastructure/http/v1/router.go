// Package v1 wires the HTTP API of the analytical view runtime.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"analytica/internal/domain/dispatch"
	"analytica/internal/infrastructure/http/v1/handlers"
	"analytica/internal/infrastructure/http/v1/middleware"
	"analytica/internal/infrastructure/storage/postgres"
	"analytica/pkg/logger"
)

// RouterConfig carries the dependencies of the HTTP layer.
type RouterConfig struct {
	Pool       *pgxpool.Pool
	Logger     *logger.Logger
	Dispatcher *dispatch.Service
	Registrar  *postgres.Registrar
	Debug      bool
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Recovery sits innermost so its recovered error still reaches the error
	// handler's rendering pass.
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler(cfg.Logger))
	router.Use(middleware.Recovery(cfg.Logger))

	health := handlers.NewHealthHandler(cfg.Pool)
	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)

	reports := handlers.NewReportsHandler(cfg.Dispatcher)
	metadata := handlers.NewMetadataHandler(cfg.Registrar)

	api := router.Group("/api/v1")
	{
		api.GET("/reports", metadata.List)
		api.GET("/reports/:entity", metadata.Get)

		api.POST("/reports/:entity/search", reports.Search)
		api.POST("/reports/:entity/read", reports.Read)
		api.POST("/reports/:entity/group", reports.Group)
		api.POST("/reports/:entity/count", reports.Count)

		api.POST("/reports/:entity", reports.Create)
		api.PUT("/reports/:entity", reports.Update)
		api.DELETE("/reports/:entity", reports.Delete)
	}

	return router
}
