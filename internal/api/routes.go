// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Dashboard Dashboard
	// History may be nil when history is disabled
	History  HistoryReader
	Hub      *Hub
	Gatherer prometheus.Gatherer
	// Sounds maps a sound name to the audio file served at /sound/<name>
	Sounds  map[string]string
	Version string
	Logger  *zap.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	View    ViewHandler
	Control ControlHandler
	History HistoryHandler
	Health  HealthHandler
	Hub     *Hub
	Metrics http.Handler
	Sounds  map[string]string
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	h := NewHandler(deps.Dashboard, deps.History, deps.Logger)
	handlers := &Handlers{
		View:    h,
		Control: h,
		History: h,
		Health:  NewHealthHandler(deps.Version, deps.Dashboard),
		Hub:     deps.Hub,
		Sounds:  deps.Sounds,
	}
	if deps.Gatherer != nil {
		handlers.Metrics = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.HTTPErrorOnError,
		})
	}
	return handlers
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Rendered view
	apiGroup.GET("/view", handlers.View.HandleGetView)
	apiGroup.GET("/view/msgpack", handlers.View.HandleGetViewMsgpack)

	// User controls
	controlGroup := apiGroup.Group("/controls")
	controlGroup.PUT("/play-click", handlers.Control.HandleSetPlayClick)
	controlGroup.PUT("/play-alarm", handlers.Control.HandleSetPlayAlarm)
	controlGroup.PUT("/alarm-seconds", handlers.Control.HandleSetAlarmSeconds)
	controlGroup.POST("/silence", handlers.Control.HandleSilence)

	// Query configuration
	configGroup := apiGroup.Group("/config")
	configGroup.PUT("/rows", handlers.Control.HandleSetRows)
	configGroup.PUT("/filter", handlers.Control.HandleSetFilter)

	// History
	historyGroup := apiGroup.Group("/history")
	historyGroup.GET("/arrivals", handlers.History.HandleGetArrivals)
	historyGroup.GET("/alarms", handlers.History.HandleGetAlarms)

	// WebSocket endpoint
	if handlers.Hub != nil {
		apiGroup.GET("/ws", handlers.Hub.HandleWebSocket)
	}

	if handlers.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.Metrics))
	}

	for name, file := range handlers.Sounds {
		e.File("/sound/"+name, file)
	}
}

// MiddlewareConfig selects the optional middleware
type MiddlewareConfig struct {
	Logger         *zap.Logger
	RequestLogging bool
	EnableCORS     bool
	AllowOrigins   []string
	RequestTimeout time.Duration
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	if cfg.RequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return path == "/api/health" || path == "/metrics"
			},
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				fields := []zap.Field{
					zap.String("method", v.Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Duration("latency", v.Latency),
				}
				if v.Error != nil {
					logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
					return nil
				}
				logger.Info("request", fields...)
				return nil
			},
		}))
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: cfg.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				return strings.HasSuffix(c.Request().URL.Path, "/ws")
			},
			ErrorMessage: "Request timeout",
		}))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
