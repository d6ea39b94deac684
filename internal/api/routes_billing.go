package api

import (
	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/handlers"
)

// The webhook is authenticated by its signature header, not a bearer token.
func registerBillingRoutes(public, protected *gin.RouterGroup, handler *handlers.BillingHandler) {
	public.POST("/billing/webhook", handler.Webhook)
	protected.POST("/billing/refresh", handler.Refresh)
}
