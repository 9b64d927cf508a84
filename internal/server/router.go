// Package server assembles the gin router for the device pull endpoint
// and the configuration/management API.
package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/inksight/inksight-backend/internal/handlers"
	"github.com/inksight/inksight-backend/internal/middleware"
)

type RouterConfig struct {
	DisplayHandler *handlers.DisplayHandler
	ModesHandler   *handlers.ModesHandler
	ConfigHandler  *handlers.ConfigHandler
	DeviceHandler  *handlers.DeviceHandler
	StatsHandler   *handlers.StatsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck)

		// Device pull + previews
		api.GET("/display", cfg.DisplayHandler.Display)
		api.GET("/render", cfg.DisplayHandler.Display)
		api.GET("/preview", cfg.DisplayHandler.Preview)
		api.GET("/widget/:mac", cfg.DisplayHandler.Widget)

		// Mode catalog
		api.GET("/modes", cfg.ModesHandler.List)
		api.POST("/modes/custom", cfg.ModesHandler.Create)
		api.POST("/modes/custom/preview", cfg.ModesHandler.Preview)
		api.GET("/modes/custom/:mode_id", cfg.ModesHandler.GetCustom)
		api.DELETE("/modes/custom/:mode_id", cfg.ModesHandler.DeleteCustom)

		// Device configuration
		api.POST("/config", cfg.ConfigHandler.Save)
		api.GET("/config", cfg.ConfigHandler.List)
		api.GET("/config/:mac", cfg.ConfigHandler.Get)

		// Device runtime
		api.POST("/device/:mac/refresh", cfg.DeviceHandler.TriggerRefresh)
		api.GET("/device/:mac/state", cfg.DeviceHandler.State)
		api.POST("/device/:mac/switch", cfg.DeviceHandler.SwitchMode)
		api.POST("/device/:mac/favorite", cfg.DeviceHandler.Favorite)
		api.GET("/device/:mac/favorites", cfg.DeviceHandler.Favorites)
		api.GET("/device/:mac/history", cfg.DeviceHandler.History)
		api.POST("/device/:mac/habit/check", cfg.DeviceHandler.HabitCheck)
		api.GET("/device/:mac/habit/status", cfg.DeviceHandler.HabitStatus)

		// Stats
		api.GET("/stats/:mac", cfg.StatsHandler.Device)
	}

	return router
}
