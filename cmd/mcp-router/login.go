package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-tool-router-go/pkg/settings"
)

var (
	loginEndpoint string
	loginAPIKey   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save the built-in server endpoint and API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if strings.TrimSpace(loginEndpoint) == "" && strings.TrimSpace(loginAPIKey) == "" {
			return errors.New("nothing to save: pass --endpoint and/or --api-key")
		}
		store, err := settings.OpenDir(hubConfig.DataDir)
		if err != nil {
			return err
		}
		if err := mcpmgr.SaveBuiltinCredentials(store, loginEndpoint, loginAPIKey); err != nil {
			return err
		}
		creds := mcpmgr.ReadBuiltinCredentials(store)
		fmt.Fprintf(cmd.OutOrStdout(), "saved credentials for %s in %s\n", creds.Endpoint, store.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginEndpoint, "endpoint", "", "built-in server base URL (default "+mcpmgr.DefaultBuiltinEndpoint+")")
	loginCmd.Flags().StringVar(&loginAPIKey, "api-key", os.Getenv("SALESBOX_API_KEY"), "API key for the built-in server")
}
