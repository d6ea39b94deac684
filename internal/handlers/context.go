package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/middleware"
	"github.com/altrii/altrii/internal/services"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// actorFromContext returns the identity established by middleware.Auth. Services reject
// an empty actor with Unauthorized.
func actorFromContext(c *gin.Context) services.Actor {
	return services.Actor{UserID: c.GetString(middleware.CtxUserIDKey)}
}
