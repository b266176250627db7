// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/lsst-camera-dev/recent-images/internal/history"
	"github.com/lsst-camera-dev/recent-images/internal/widget"
)

// ViewHandler serves the rendered dashboard view
type ViewHandler interface {
	HandleGetView(c echo.Context) error
	HandleGetViewMsgpack(c echo.Context) error
}

// ControlHandler handles the user controls
type ControlHandler interface {
	HandleSetPlayClick(c echo.Context) error
	HandleSetPlayAlarm(c echo.Context) error
	HandleSetAlarmSeconds(c echo.Context) error
	HandleSilence(c echo.Context) error
	HandleSetRows(c echo.Context) error
	HandleSetFilter(c echo.Context) error
}

// HistoryHandler serves the arrival and alarm history
type HistoryHandler interface {
	HandleGetArrivals(c echo.Context) error
	HandleGetAlarms(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// Dashboard defines the widget operations the handlers use.
// This allows mocking in tests
type Dashboard interface {
	View() widget.View
	SetPlayClick(ctx context.Context, enabled bool) (widget.View, error)
	SetPlayAlarm(ctx context.Context, enabled bool) (widget.View, error)
	SetAlarmSeconds(ctx context.Context, seconds int) (widget.View, error)
	Silence(ctx context.Context) (widget.View, error)
	SetRows(ctx context.Context, rows int) (widget.View, error)
	SetFilter(ctx context.Context, filter string) (widget.View, error)
}

// HistoryReader defines the history queries the handlers use
type HistoryReader interface {
	Arrivals(ctx context.Context, limit int) ([]history.Arrival, error)
	Alarms(ctx context.Context, limit int) ([]history.AlarmEvent, error)
}
