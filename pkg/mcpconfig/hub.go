package mcpconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

// HubFileName is the default hub configuration file name.
const HubFileName = "mcp-router.yaml"

// HubConfig configures the router process.
type HubConfig struct {
	DataDir  string        `yaml:"dataDir"`
	Gateway  GatewayConfig `yaml:"gateway"`
	Log      LogConfig     `yaml:"log"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Backoff  BackoffConfig `yaml:"backoff"`
	Restart  RestartConfig `yaml:"restart"`
}

// GatewayConfig configures the HTTP command surface.
type GatewayConfig struct {
	Addr           string   `yaml:"addr"`
	Path           string   `yaml:"path"`
	APIPath        string   `yaml:"apiPath"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// TimeoutConfig bounds handshakes and tool round trips.
type TimeoutConfig struct {
	Connect  time.Duration `yaml:"connect"`
	ToolCall time.Duration `yaml:"toolCall"`
}

// BackoffConfig shapes restart delays.
type BackoffConfig struct {
	Base       time.Duration `yaml:"base"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// RestartConfig caps restart attempts.
type RestartConfig struct {
	StartupAttempts int `yaml:"startupAttempts"`
	MaxRestarts     int `yaml:"maxRestarts"`
}

// DefaultDataDir returns ~/.mcp-router, or a relative directory when the
// home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".mcp-router"
	}
	return filepath.Join(home, ".mcp-router")
}

// LoadHubConfig reads the YAML file at path. An empty path or a missing file
// yields the defaults.
func LoadHubConfig(path string) (*HubConfig, error) {
	var cfg HubConfig
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *HubConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}

	if cfg.Gateway.Addr == "" {
		cfg.Gateway.Addr = "127.0.0.1:8848"
	}
	if cfg.Gateway.Path == "" {
		cfg.Gateway.Path = "/mcp"
	}
	if cfg.Gateway.APIPath == "" {
		cfg.Gateway.APIPath = "/api"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Timeouts.Connect == 0 {
		cfg.Timeouts.Connect = 30 * time.Second
	}
	if cfg.Timeouts.ToolCall == 0 {
		cfg.Timeouts.ToolCall = mcpmgr.DefaultToolCallTimeout
	}

	if cfg.Backoff.Base == 0 {
		cfg.Backoff.Base = mcpmgr.DefaultBaseDelay
	}
	if cfg.Backoff.Max == 0 {
		cfg.Backoff.Max = mcpmgr.DefaultMaxDelay
	}
	if cfg.Backoff.Multiplier == 0 {
		cfg.Backoff.Multiplier = mcpmgr.DefaultMultiplier
	}

	if cfg.Restart.StartupAttempts == 0 {
		cfg.Restart.StartupAttempts = mcpmgr.DefaultStartupAttempts
	}
	if cfg.Restart.MaxRestarts == 0 {
		cfg.Restart.MaxRestarts = mcpmgr.DefaultMaxRestarts
	}
}

// SlogLevel maps log.level onto a slog level. Unknown names mean info.
func (c *HubConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ServerDocumentPath returns the mcp_config.json path under the data dir.
func (c *HubConfig) ServerDocumentPath() string { return PathIn(c.DataDir) }

// ManagerOptions converts the hub config into manager options.
func (c *HubConfig) ManagerOptions(logger *slog.Logger) *mcpmgr.ManagerOptions {
	return &mcpmgr.ManagerOptions{
		DefaultClientName: "mcp-router",
		ConnectTimeout:    c.Timeouts.Connect,
		ToolCallTimeout:   c.Timeouts.ToolCall,
		Backoff: mcpmgr.Backoff{
			Base:       c.Backoff.Base,
			Max:        c.Backoff.Max,
			Multiplier: c.Backoff.Multiplier,
		},
		StartupAttempts: c.Restart.StartupAttempts,
		MaxRestarts:     c.Restart.MaxRestarts,
		Logger:          logger,
	}
}
