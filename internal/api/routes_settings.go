package api

import (
	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/handlers"
)

func registerSettingsRoutes(api *gin.RouterGroup, handler *handlers.SettingsHandler) {
	api.GET("/settings/blocking", handler.GetUser)
	api.PUT("/settings/blocking", handler.UpdateUser)

	api.GET("/devices/:id/blocking", handler.GetDevice)
	api.PUT("/devices/:id/blocking", handler.UpdateDevice)
}
