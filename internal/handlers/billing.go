package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/billing"
	appErrors "github.com/altrii/altrii/pkg/errors"
	"github.com/altrii/altrii/pkg/response"
)

// maxWebhookBytes bounds webhook bodies; provider events are far smaller.
const maxWebhookBytes = 64 << 10

// BillingHandler receives provider webhooks and serves on-demand plan refreshes. A nil
// sync disables both endpoints.
type BillingHandler struct {
	sync *billing.StripeSync
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(sync *billing.StripeSync) *BillingHandler {
	return &BillingHandler{sync: sync}
}

// POST /api/billing/refresh
func (h *BillingHandler) Refresh(c *gin.Context) {
	if h.sync == nil {
		response.Error(c, appErrors.ErrUpstreamUnavailable.WithMessage("billing provider is not configured"))
		return
	}
	actor := actorFromContext(c)
	if actor.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.sync.Refresh(requestContext(c), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"plan":        user.Plan,
		"plan_status": user.PlanStatus,
	})
}

// POST /api/billing/webhook
func (h *BillingHandler) Webhook(c *gin.Context) {
	if h.sync == nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("unable to read webhook body"))
		return
	}

	applied, err := h.sync.HandleWebhook(requestContext(c), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"received": true, "applied": applied})
}
