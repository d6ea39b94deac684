package api

import (
	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/handlers"
)

func registerDeviceRoutes(api *gin.RouterGroup, handler *handlers.DeviceHandler) {
	devices := api.Group("/devices")
	{
		devices.GET("", handler.List)
		devices.POST("", handler.Create)
		devices.GET("/:id", handler.Get)
		devices.PATCH("/:id", handler.Rename)
		devices.DELETE("/:id", handler.Delete)
		devices.POST("/:id/lock", handler.Lock)
		devices.POST("/:id/mark-supervised", handler.MarkSupervised)
		devices.POST("/:id/profile-installed", handler.MarkProfileInstalled)
	}
}
