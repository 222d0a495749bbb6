package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpconfig"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List and toggle servers in mcp_config.json",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		doc, err := mcpconfig.Load(hubConfig.ServerDocumentPath())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tACTIVE\tTARGET")
		for _, name := range doc.Names() {
			entry := doc.MCPServers[name]
			target := entry.URL
			if target == "" {
				target = entry.Command
			}
			fmt.Fprintf(w, "%s\t%t\t%s\n", name, entry.Active, target)
		}
		return w.Flush()
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate <name>",
	Short: "Mark a server active; a running serve picks the change up",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(cmd, args[0], true) },
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <name>",
	Short: "Mark a server inactive; a running serve stops it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(cmd, args[0], false) },
}

func init() {
	serversCmd.AddCommand(activateCmd, deactivateCmd)
	rootCmd.AddCommand(serversCmd)
}

func setActive(cmd *cobra.Command, name string, active bool) error {
	path := hubConfig.ServerDocumentPath()
	doc, err := mcpconfig.Load(path)
	if err != nil {
		return err
	}
	if err := doc.SetActive(name, active); err != nil {
		return err
	}
	if err := mcpconfig.Save(path, doc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", name, active)
	return nil
}
