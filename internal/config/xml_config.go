// Package config provides XML-based configuration management for the monitor.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"RecentImages" yaml:"-"`

	// Server configuration
	Server ServerConfig `xml:"Server" yaml:"server"`

	// Widget configuration
	Widget WidgetConfig `xml:"Widget" yaml:"widget"`

	// Sound resources
	Sound SoundConfig `xml:"Sound" yaml:"sound"`

	// History storage
	History HistoryConfig `xml:"History" yaml:"history"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" yaml:"port"`
	BindAddress  string `xml:"BindAddress" yaml:"bindAddress"`
	EnableCORS   bool   `xml:"EnableCORS" yaml:"enableCors"`
	AllowOrigins string `xml:"AllowOrigins" yaml:"allowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" yaml:"readTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" yaml:"writeTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" yaml:"idleTimeoutSeconds"`
}

// WidgetConfig contains the dashboard's initial settings
type WidgetConfig struct {
	BaseURL string `xml:"BaseURL" yaml:"baseUrl"`
	// Site is an optional path segment inserted after BaseURL.
	Site          string   `xml:"Site" yaml:"site"`
	Rows          int      `xml:"Rows" yaml:"rows"`
	Filter        string   `xml:"Filter" yaml:"filter"`
	HiddenColumns []string `xml:"HiddenColumns>Column" yaml:"hiddenColumns"`
	DefaultRaft   string   `xml:"DefaultRaft" yaml:"defaultRaft"`
	PlayClick     bool     `xml:"PlayClick" yaml:"playClick"`
	PlayAlarm     bool     `xml:"PlayAlarm" yaml:"playAlarm"`
	AlarmSeconds  int      `xml:"AlarmSeconds" yaml:"alarmSeconds"`
}

// SoundConfig locates the audio files served to dashboards
type SoundConfig struct {
	Directory string `xml:"Directory" yaml:"directory"`
	ClickFile string `xml:"ClickFile" yaml:"clickFile"`
	AlarmFile string `xml:"AlarmFile" yaml:"alarmFile"`
}

// HistoryConfig contains arrival/alarm history settings
type HistoryConfig struct {
	Enabled bool `xml:"Enabled" yaml:"enabled"`
	// Path of the DuckDB file. Empty keeps history in memory.
	Path string `xml:"Path" yaml:"path"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel              string `xml:"LogLevel" yaml:"logLevel"`
	LogFormat             string `xml:"LogFormat" yaml:"logFormat"`
	EnableRequestLogging  bool   `xml:"EnableRequestLogging" yaml:"enableRequestLogging"`
	PushRetrySeconds      int    `xml:"PushRetrySeconds" yaml:"pushRetrySeconds"`
	RefreshTimeoutSeconds int    `xml:"RefreshTimeoutSeconds" yaml:"refreshTimeoutSeconds"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
		},
		Widget: WidgetConfig{
			BaseURL:      "http://ccs.lsst.org/FITSInfo/",
			Rows:         20,
			DefaultRaft:  "R22",
			PlayClick:    true,
			PlayAlarm:    false,
			AlarmSeconds: 60,
		},
		Sound: SoundConfig{
			Directory: "./sound",
			ClickFile: "camera-shutter-click-03.mp3",
			AlarmFile: "alarm-fast-a1.mp3",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./data/history.duckdb",
		},
		Advanced: AdvancedConfig{
			LogLevel:              "info",
			LogFormat:             "console",
			EnableRequestLogging:  false,
			PushRetrySeconds:      5,
			RefreshTimeoutSeconds: 30,
		},
	}
}

// LoadConfig loads configuration from an XML or YAML file. A missing file is
// created with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so omitted elements keep their default values
	config := DefaultConfig()
	if isYAML(configPath) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = xml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration, as YAML when the path ends in .yaml or .yml
// and as XML otherwise
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isYAML(configPath) {
		output, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		content = append([]byte("# Recent Images Monitor configuration\n"), output...)
	} else {
		output, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- Recent Images Monitor Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, output...)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports settings the monitor cannot start with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Widget.Rows < 1 {
		errs = append(errs, fmt.Errorf("rows must be at least 1, got %d", c.Widget.Rows))
	}
	if c.Widget.AlarmSeconds < 0 {
		errs = append(errs, fmt.Errorf("alarm seconds must not be negative, got %d", c.Widget.AlarmSeconds))
	}
	if _, err := c.URLs(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if base := os.Getenv("RECENT_IMAGES_BASE_URL"); base != "" {
		c.Widget.BaseURL = base
	}
	if site := os.Getenv("RECENT_IMAGES_SITE"); site != "" {
		c.Widget.Site = site
	}
	if filter := os.Getenv("RECENT_IMAGES_FILTER"); filter != "" {
		c.Widget.Filter = filter
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if c.Sound.Directory != "" && !filepath.IsAbs(c.Sound.Directory) {
		c.Sound.Directory = filepath.Join(configDir, c.Sound.Directory)
	}
	if c.History.Path != "" && !filepath.IsAbs(c.History.Path) {
		c.History.Path = filepath.Join(configDir, c.History.Path)
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates the directory holding the history database
func (c *AppConfig) EnsureDirectories() error {
	if !c.History.Enabled || c.History.Path == "" {
		return nil
	}
	dir := filepath.Dir(c.History.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// URLs are the service endpoints derived from the base URL and site.
type URLs struct {
	Base        *url.URL
	Rest        *url.URL
	EventSource *url.URL
	View        *url.URL
}

// URLs derives the service endpoints. The base is BaseURL, followed by
// Site + "/" when a site is set.
func (c *AppConfig) URLs() (URLs, error) {
	raw := strings.TrimSpace(c.Widget.BaseURL)
	if raw == "" {
		return URLs{}, errors.New("base URL is required")
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	if site := strings.Trim(c.Widget.Site, "/ "); site != "" {
		raw += site + "/"
	}

	base, err := url.Parse(raw)
	if err != nil {
		return URLs{}, fmt.Errorf("invalid base URL %q: %w", c.Widget.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return URLs{}, fmt.Errorf("base URL %q must be absolute", c.Widget.BaseURL)
	}

	rest := base.ResolveReference(&url.URL{Path: "rest/"})
	return URLs{
		Base:        base,
		Rest:        rest,
		EventSource: rest.ResolveReference(&url.URL{Path: "notify"}),
		View:        base.ResolveReference(&url.URL{Path: "view.html"}),
	}, nil
}
