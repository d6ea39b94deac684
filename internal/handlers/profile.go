package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/services"
	"github.com/altrii/altrii/pkg/response"
)

// ProfileHandler serves configuration profile downloads.
type ProfileHandler struct {
	profiles *services.ProfileService
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// GET /api/profile/:id
func (h *ProfileHandler) Download(c *gin.Context) {
	rendered, err := h.profiles.Render(requestContext(c), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("X-Profile-Signed", strconv.FormatBool(rendered.Signed))
	response.Attachment(c, rendered.ContentType, rendered.Filename, rendered.Body)
}
