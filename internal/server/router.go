package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/geoatlas-backend/internal/handlers"
	"github.com/yungbote/geoatlas-backend/internal/middleware"
	"github.com/yungbote/geoatlas-backend/internal/platform/envutil"
)

type RouterConfig struct {
	AssetHandler *handlers.AssetHandler
	MapHandler   *handlers.MapHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := strings.Split(envutil.Str("CORS_ALLOW_ORIGINS", "http://localhost:3000"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Owner-ID"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(middleware.RequireOwner())

	// Assets
	api.POST("/assets", cfg.AssetHandler.RegisterUpload)
	api.POST("/assets/:id/publish", cfg.AssetHandler.Publish)
	api.GET("/assets/:id/status", cfg.AssetHandler.Status)
	api.POST("/assets/:id/reset", cfg.AssetHandler.Reset)
	api.DELETE("/assets/:id", cfg.AssetHandler.Delete)

	// Maps
	api.POST("/maps", cfg.MapHandler.Create)
	api.GET("/maps", cfg.MapHandler.List)
	api.GET("/maps/:id", cfg.MapHandler.Get)
	api.GET("/maps/:id/center", cfg.MapHandler.Center)
	api.DELETE("/maps/:id", cfg.MapHandler.Delete)
	api.POST("/maps/:id/layers", cfg.MapHandler.AddLayer)
	api.PUT("/maps/:id/layers/order", cfg.MapHandler.ReorderLayers)
	api.DELETE("/maps/:id/layers/:layerId", cfg.MapHandler.RemoveLayer)
	api.PATCH("/maps/:id/layers/:layerId/visibility", cfg.MapHandler.SetLayerVisibility)
	api.PATCH("/maps/:id/layers/:layerId/opacity", cfg.MapHandler.SetLayerOpacity)

	return router
}
