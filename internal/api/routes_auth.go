package api

import (
	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/handlers"
)

func registerAuthRoutes(public, protected *gin.RouterGroup, handler *handlers.AuthHandler) {
	auth := public.Group("/auth")
	{
		auth.POST("/sign-up", handler.SignUp)
		auth.POST("/login", handler.Login)
	}

	protected.GET("/me", handler.Me)
}

func registerAccountRoutes(api *gin.RouterGroup, handler *handlers.AccountHandler) {
	account := api.Group("/account")
	{
		account.POST("/password", handler.ChangePassword)
		account.POST("/email", handler.ChangeEmail)
	}
}
