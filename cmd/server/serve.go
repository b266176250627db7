package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lsst-camera-dev/recent-images/internal/api"
	"github.com/lsst-camera-dev/recent-images/internal/config"
	"github.com/lsst-camera-dev/recent-images/internal/history"
	"github.com/lsst-camera-dev/recent-images/internal/logging"
	"github.com/lsst-camera-dev/recent-images/internal/metrics"
	"github.com/lsst-camera-dev/recent-images/internal/notify"
	"github.com/lsst-camera-dev/recent-images/internal/refresh"
	"github.com/lsst-camera-dev/recent-images/internal/sound"
	"github.com/lsst-camera-dev/recent-images/internal/web"
	"github.com/lsst-camera-dev/recent-images/internal/widget"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, configPath, logLevel string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Advanced.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Advanced.LogLevel, cfg.Advanced.LogFormat, "recent-images")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	urls, err := cfg.URLs()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Interfaces stay nil when history is disabled
	var (
		recorder widget.Recorder
		reader   api.HistoryReader
	)
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()
		recorder, reader = store, store
	}

	fetcher, err := refresh.NewClient(refresh.Config{
		RestURL:    urls.Rest,
		HTTPClient: &http.Client{},
		Timeout:    time.Duration(cfg.Advanced.RefreshTimeoutSeconds) * time.Second,
		UserAgent:  "recent-images/" + Version,
	})
	if err != nil {
		return err
	}

	hub := api.NewHub(logger)
	defer hub.Close()

	w, err := widget.New(widget.Options{
		Settings: widget.Settings{
			Rows:          cfg.Widget.Rows,
			Filter:        cfg.Widget.Filter,
			AlarmSeconds:  cfg.Widget.AlarmSeconds,
			PlayClick:     cfg.Widget.PlayClick,
			PlayAlarm:     cfg.Widget.PlayAlarm,
			HiddenColumns: cfg.Widget.HiddenColumns,
			DefaultRaft:   cfg.Widget.DefaultRaft,
		},
		URLs:       urls,
		Fetcher:    fetcher,
		Source:     notify.NewSSESource(urls.EventSource.String(), &http.Client{}),
		Click:      sound.NewBroadcast(sound.Click, false, hub),
		Alarm:      sound.NewBroadcast(sound.Alarm, true, hub),
		History:    recorder,
		Metrics:    m,
		Logger:     logger,
		RetryDelay: time.Duration(cfg.Advanced.PushRetrySeconds) * time.Second,
		Observer:   hub.BroadcastView,
	})
	if err != nil {
		return err
	}
	hub.Attach(w)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		Logger:         logger,
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   splitOrigins(cfg.Server.AllowOrigins),
		RequestTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Dashboard: w,
		History:   reader,
		Hub:       hub,
		Gatherer:  registry,
		Sounds: map[string]string{
			sound.Click: filepath.Join(cfg.Sound.Directory, cfg.Sound.ClickFile),
			sound.Alarm: filepath.Join(cfg.Sound.Directory, cfg.Sound.AlarmFile),
		},
		Version: Version,
		Logger:  logger,
	}))

	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn("failed to register dashboard page", zap.Error(err))
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	logger.Info("starting recent images server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("config", configPath),
		zap.String("listen", cfg.GetServerAddr()),
		zap.String("base_url", urls.Base.String()),
		zap.Bool("history", cfg.History.Enabled))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	widgetDone := make(chan error, 1)
	go func() { widgetDone <- w.Run(ctx) }()

	serverDone := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serverDone:
		logger.Error("server stopped", zap.Error(runErr))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	hub.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	cancel()
	if err := <-widgetDone; err != nil {
		logger.Warn("widget stopped with error", zap.Error(err))
	}
	return runErr
}

func splitOrigins(s string) []string {
	var origins []string
	for _, origin := range strings.Split(s, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
