package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/services"
	"github.com/altrii/altrii/pkg/response"
)

// SettingsHandler serves account-level and per-device blocking settings.
type SettingsHandler struct {
	settings *services.SettingsService
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(settings *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// Account-level updates fall back to the sign-up defaults for omitted fields.
type userSettingsRequest struct {
	Adult                *bool    `json:"adult"`
	Social               *bool    `json:"social"`
	Gambling             *bool    `json:"gambling"`
	CustomAllowedDomains []string `json:"customAllowedDomains" validate:"max=500,dive,domain"`
}

func (r userSettingsRequest) settings() blocking.Settings {
	s := blocking.DefaultSettings()
	if r.Adult != nil {
		s.Adult = *r.Adult
	}
	if r.Social != nil {
		s.Social = *r.Social
	}
	if r.Gambling != nil {
		s.Gambling = *r.Gambling
	}
	if r.CustomAllowedDomains != nil {
		s.CustomAllowedDomains = r.CustomAllowedDomains
	}
	return s
}

// Device updates must state every field.
type deviceSettingsRequest struct {
	Adult                *bool    `json:"adult" validate:"required"`
	Social               *bool    `json:"social" validate:"required"`
	Gambling             *bool    `json:"gambling" validate:"required"`
	CustomAllowedDomains []string `json:"customAllowedDomains" validate:"required,max=500,dive,domain"`
}

func (r deviceSettingsRequest) settings() blocking.Settings {
	return blocking.Settings{
		Adult:                *r.Adult,
		Social:               *r.Social,
		Gambling:             *r.Gambling,
		CustomAllowedDomains: r.CustomAllowedDomains,
	}
}

// GET /api/settings/blocking
func (h *SettingsHandler) GetUser(c *gin.Context) {
	settings, err := h.settings.GetUserSettings(requestContext(c), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// PUT /api/settings/blocking
func (h *SettingsHandler) UpdateUser(c *gin.Context) {
	var req userSettingsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	settings, err := h.settings.UpdateUserSettings(requestContext(c), actorFromContext(c), req.settings())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// GET /api/devices/:id/blocking
func (h *SettingsHandler) GetDevice(c *gin.Context) {
	settings, err := h.settings.GetDeviceSettings(requestContext(c), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// PUT /api/devices/:id/blocking
func (h *SettingsHandler) UpdateDevice(c *gin.Context) {
	var req deviceSettingsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	settings, err := h.settings.UpdateDeviceSettings(requestContext(c), actorFromContext(c), c.Param("id"), req.settings())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}
