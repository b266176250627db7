package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/lsst-camera-dev/recent-images/internal/history"
	"github.com/lsst-camera-dev/recent-images/internal/widget"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// MIMEApplicationMsgpack is the content type of msgpack responses
const MIMEApplicationMsgpack = "application/msgpack"

// maxHistoryLimit caps the limit query parameter
const maxHistoryLimit = 1000

// Handler handles API requests.
type Handler struct {
	dashboard Dashboard
	history   HistoryReader
	logger    *zap.Logger
}

// NewHandler creates a new API handler. hist may be nil when history is
// disabled.
func NewHandler(dashboard Dashboard, hist HistoryReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dashboard: dashboard,
		history:   hist,
		logger:    logger.Named("api"),
	}
}

// HandleGetView returns the current dashboard view.
func (h *Handler) HandleGetView(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dashboard.View())
}

// HandleGetViewMsgpack returns the current dashboard view encoded as msgpack.
func (h *Handler) HandleGetViewMsgpack(c echo.Context) error {
	data, err := msgpack.Marshal(h.dashboard.View())
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type alarmSecondsRequest struct {
	Seconds *int `json:"seconds"`
}

type rowsRequest struct {
	Rows *int `json:"rows"`
}

type filterRequest struct {
	Filter *string `json:"filter"`
}

// HandleSetPlayClick toggles the new-image click.
func (h *Handler) HandleSetPlayClick(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Enabled == nil {
		return NewValidationError("enabled", "required")
	}
	return h.respond(c, "play_click", func() (widget.View, error) {
		return h.dashboard.SetPlayClick(c.Request().Context(), *req.Enabled)
	})
}

// HandleSetPlayAlarm toggles the alarm sound.
func (h *Handler) HandleSetPlayAlarm(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Enabled == nil {
		return NewValidationError("enabled", "required")
	}
	return h.respond(c, "play_alarm", func() (widget.View, error) {
		return h.dashboard.SetPlayAlarm(c.Request().Context(), *req.Enabled)
	})
}

// HandleSetAlarmSeconds edits the alarm threshold. 0 disables the alarm.
func (h *Handler) HandleSetAlarmSeconds(c echo.Context) error {
	var req alarmSecondsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Seconds == nil {
		return NewValidationError("seconds", "required")
	}
	if *req.Seconds < 0 {
		return NewValidationError("seconds", "must not be negative")
	}
	return h.respond(c, "alarm_seconds", func() (widget.View, error) {
		return h.dashboard.SetAlarmSeconds(c.Request().Context(), *req.Seconds)
	})
}

// HandleSilence stops the alarm sound.
func (h *Handler) HandleSilence(c echo.Context) error {
	return h.respond(c, "silence", func() (widget.View, error) {
		return h.dashboard.Silence(c.Request().Context())
	})
}

// HandleSetRows changes the number of images shown.
func (h *Handler) HandleSetRows(c echo.Context) error {
	var req rowsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Rows == nil {
		return NewValidationError("rows", "required")
	}
	if *req.Rows < 1 {
		return NewValidationError("rows", "must be at least 1")
	}
	return h.respond(c, "rows", func() (widget.View, error) {
		return h.dashboard.SetRows(c.Request().Context(), *req.Rows)
	})
}

// HandleSetFilter changes the filter expression. An empty filter shows all
// images.
func (h *Handler) HandleSetFilter(c echo.Context) error {
	var req filterRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Filter == nil {
		return NewValidationError("filter", "required")
	}
	return h.respond(c, "filter", func() (widget.View, error) {
		return h.dashboard.SetFilter(c.Request().Context(), *req.Filter)
	})
}

func (h *Handler) respond(c echo.Context, control string, apply func() (widget.View, error)) error {
	view, err := apply()
	if err != nil {
		h.logger.Warn("control failed", zap.String("control", control), zap.Error(err))
		return commandError(err)
	}
	h.logger.Debug("control applied", zap.String("control", control))
	return c.JSON(http.StatusOK, view)
}

// HandleGetArrivals returns the most recently seen images.
func (h *Handler) HandleGetArrivals(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("history is disabled")
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	arrivals, err := h.history.Arrivals(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to query arrivals", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"arrivals": arrivals,
		"limit":    limit,
	})
}

// HandleGetAlarms returns the latest alarm transitions.
func (h *Handler) HandleGetAlarms(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("history is disabled")
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	events, err := h.history.Alarms(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to query alarm events", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alarms": events,
		"limit":  limit,
	})
}

func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return history.DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, NewBadRequestError("invalid limit", err)
	}
	if limit < 1 || limit > maxHistoryLimit {
		return 0, NewValidationError("limit", "must be between 1 and "+strconv.Itoa(maxHistoryLimit))
	}
	return limit, nil
}
