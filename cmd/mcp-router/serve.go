package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/spf13/cobra"

	mcpgateway "github.com/vikashloomba/mcp-tool-router-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

var (
	serveAddr  string
	serveToken string
	noWatch    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the router and serve the MCP endpoint and command API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides gateway.addr)")
	serveCmd.Flags().StringVar(&serveToken, "token", os.Getenv("MCP_ROUTER_TOKEN"), "require this bearer token on every request")
	serveCmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload mcp_config.json when it changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, _, err := newManager(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	gatewayOpts := &mcpgateway.Options{
		Addr:           hubConfig.Gateway.Addr,
		Path:           hubConfig.Gateway.Path,
		APIPath:        hubConfig.Gateway.APIPath,
		AllowedOrigins: hubConfig.Gateway.AllowedOrigins,
		ConfigPath:     hubConfig.ServerDocumentPath(),
		KeepServers:    []string{mcpmgr.DefaultBuiltinServer},
		Logger:         logger,
	}
	if serveAddr != "" {
		gatewayOpts.Addr = serveAddr
	}
	if serveToken != "" {
		gatewayOpts.TokenVerifier = staticTokenVerifier(serveToken)
	}

	gateway, err := mcpgateway.NewGateway(manager, gatewayOpts)
	if err != nil {
		return err
	}
	defer gateway.Close()

	if !noWatch {
		watcher := mcpconfig.NewWatcher(hubConfig.ServerDocumentPath(), func(doc *mcpconfig.Document) {
			if _, err := mcpconfig.Reconcile(ctx, manager, doc, logger, mcpmgr.DefaultBuiltinServer); err != nil {
				logger.Warn("reconcile after config change", "error", err)
			}
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	gwOptions := gateway.Options()
	logger.Info("gateway serving", "addr", gwOptions.Addr, "mcp", gwOptions.Path, "api", gwOptions.APIPath)
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// staticTokenVerifier accepts exactly one bearer token.
func staticTokenVerifier(want string) auth.TokenVerifier {
	return func(_ context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
			return nil, auth.ErrInvalidToken
		}
		return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
	}
}
