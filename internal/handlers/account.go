package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/services"
	"github.com/altrii/altrii/pkg/response"
)

// AccountHandler exposes credential changes for the current user.
type AccountHandler struct {
	users *services.UserService
}

// NewAccountHandler configures an account handler.
func NewAccountHandler(users *services.UserService) *AccountHandler {
	return &AccountHandler{users: users}
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

type emailChangeRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// POST /api/account/password
func (h *AccountHandler) ChangePassword(c *gin.Context) {
	var req passwordChangeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.users.ChangePassword(requestContext(c), actorFromContext(c), req.CurrentPassword, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// POST /api/account/email
func (h *AccountHandler) ChangeEmail(c *gin.Context) {
	var req emailChangeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.ChangeEmail(requestContext(c), actorFromContext(c), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, user)
}
