package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-tool-router-go/pkg/settings"
)

var (
	configPath string
	dataDir    string
	logLevel   string

	hubConfig *mcpconfig.HubConfig
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mcp-router",
	Short: "Manage MCP server connections and route tool calls",
	Long: `mcp-router keeps a set of MCP servers connected, restarts them with backoff when
they fail, and dispatches tool calls by bare tool name to whichever server owns the tool.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadHubConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "hub config file (default <data-dir>/"+mcpconfig.HubFileName+")")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding mcp_config.json and store.json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func loadHubConfig(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		dir := dataDir
		if dir == "" {
			dir = mcpconfig.DefaultDataDir()
		}
		path = filepath.Join(dir, mcpconfig.HubFileName)
	}
	cfg, err := mcpconfig.LoadHubConfig(path)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	hubConfig = cfg

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return nil
}

// newManager builds a manager from the hub config and starts every active
// server in the server document, plus the built-in server when credentials
// are saved. Start failures are logged; background retries continue.
func newManager(ctx context.Context) (*mcpmgr.Manager, *settings.FileStore, error) {
	store, err := settings.OpenDir(hubConfig.DataDir)
	if err != nil {
		return nil, nil, err
	}
	doc, err := mcpconfig.Load(hubConfig.ServerDocumentPath())
	if err != nil {
		return nil, nil, err
	}

	manager := mcpmgr.NewManager(nil, hubConfig.ManagerOptions(logger))
	if err := manager.StartBuiltinServer(ctx, store); err != nil {
		logger.Info("built-in server not started", "error", err)
	}
	if _, err := mcpconfig.Reconcile(ctx, manager, doc, logger, mcpmgr.DefaultBuiltinServer); err != nil {
		logger.Warn("some servers failed to start", "error", err)
	}
	return manager, store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
