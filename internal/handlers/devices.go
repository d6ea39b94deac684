package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/altrii/altrii/internal/services"
	appErrors "github.com/altrii/altrii/pkg/errors"
	"github.com/altrii/altrii/pkg/response"
)

// DeviceHandler exposes device registration, locking and supervision endpoints.
type DeviceHandler struct {
	devices *services.DeviceService
}

// NewDeviceHandler constructs a DeviceHandler.
func NewDeviceHandler(devices *services.DeviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

type createDeviceRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=64"`
	Platform string `json:"platform" validate:"omitempty,oneof=ios ipados"`
}

type renameDeviceRequest struct {
	Name string `json:"name" validate:"required,min=2,max=64"`
}

// LockDuration is the lock request body. Exactly one unit must be given; every unit is
// converted to minutes and checked against the same ceiling.
type LockDuration struct {
	Minutes *int `json:"minutes"`
	Hours   *int `json:"hours"`
	Days    *int `json:"days"`
}

// ToMinutes converts the requested duration, rejecting ambiguous or non-positive input.
// Values beyond maxMinutes are reported as LimitExceeded without risking overflow.
func (d LockDuration) ToMinutes(maxMinutes int) (int, error) {
	var (
		value  int
		factor int
		field  string
		given  int
	)
	if d.Minutes != nil {
		value, factor, field = *d.Minutes, 1, "minutes"
		given++
	}
	if d.Hours != nil {
		value, factor, field = *d.Hours, 60, "hours"
		given++
	}
	if d.Days != nil {
		value, factor, field = *d.Days, 24*60, "days"
		given++
	}

	switch {
	case given == 0:
		return 0, appErrors.NewValidation(map[string]string{"minutes": "one of minutes, hours or days is required"})
	case given > 1:
		return 0, appErrors.NewValidation(map[string]string{field: "only one of minutes, hours or days may be given"})
	case value <= 0:
		return 0, appErrors.NewValidation(map[string]string{field: "must be a positive whole number"})
	case value > maxMinutes/factor:
		return 0, appErrors.ErrLimitExceeded.
			WithMessage(fmt.Sprintf("lock duration cannot exceed %d minutes", maxMinutes)).
			WithDetail("max_minutes", maxMinutes)
	}
	return value * factor, nil
}

// GET /api/devices
func (h *DeviceHandler) List(c *gin.Context) {
	devices, err := h.devices.List(requestContext(c), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, devices)
}

// POST /api/devices
func (h *DeviceHandler) Create(c *gin.Context) {
	var req createDeviceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	device, err := h.devices.Create(requestContext(c), actorFromContext(c), services.CreateDeviceInput{
		Name:     req.Name,
		Platform: req.Platform,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, device)
}

// GET /api/devices/:id
func (h *DeviceHandler) Get(c *gin.Context) {
	device, err := h.devices.Get(requestContext(c), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, device)
}

// PATCH /api/devices/:id
func (h *DeviceHandler) Rename(c *gin.Context) {
	var req renameDeviceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	device, err := h.devices.Rename(requestContext(c), actorFromContext(c), c.Param("id"), req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, device)
}

// DELETE /api/devices/:id
func (h *DeviceHandler) Delete(c *gin.Context) {
	if err := h.devices.Delete(requestContext(c), actorFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/devices/:id/lock
func (h *DeviceHandler) Lock(c *gin.Context) {
	var req LockDuration
	if !bindAndValidate(c, &req) {
		return
	}

	minutes, err := req.ToMinutes(h.devices.MaxLockMinutes())
	if err != nil {
		response.Error(c, err)
		return
	}

	device, err := h.devices.RequestLock(requestContext(c), actorFromContext(c), c.Param("id"), minutes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, device)
}

// POST /api/devices/:id/mark-supervised
func (h *DeviceHandler) MarkSupervised(c *gin.Context) {
	device, err := h.devices.MarkSupervised(requestContext(c), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, device)
}

// POST /api/devices/:id/profile-installed
func (h *DeviceHandler) MarkProfileInstalled(c *gin.Context) {
	device, err := h.devices.MarkProfileInstalled(requestContext(c), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, device)
}
