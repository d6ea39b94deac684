package api

import (
	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/handlers"
)

func registerProfileRoutes(api *gin.RouterGroup, handler *handlers.ProfileHandler) {
	api.GET("/profile/:id", handler.Download)
}
