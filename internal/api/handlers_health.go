// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version   string
	dashboard Dashboard
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, dashboard Dashboard) HealthHandler {
	return &HealthHandlerImpl{
		version:   version,
		dashboard: dashboard,
	}
}

// HandleHealth returns server health status along with the alarm state
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.dashboard != nil {
		v := h.dashboard.View()
		resp["isAlarm"] = v.IsAlarm
		resp["countdown"] = v.Countdown
		if v.LastRefresh != nil {
			resp["lastRefresh"] = v.LastRefresh
		}
	}
	return c.JSON(http.StatusOK, resp)
}
