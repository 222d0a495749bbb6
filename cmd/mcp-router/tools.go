package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of every active server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		manager, _, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer manager.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION")
		for _, t := range manager.ListAllTools(cmd.Context()) {
			desc, _, _ := strings.Cut(t.Tool.Description, "\n")
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Server, t.Tool.Name, desc)
		}
		return w.Flush()
	},
}

var callToken string

var callCmd = &cobra.Command{
	Use:   "call <tool> [json-arguments]",
	Short: "Call a tool by name; Ctrl-C cancels the call",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCall,
}

func init() {
	rootCmd.AddCommand(toolsCmd, callCmd)
	callCmd.Flags().StringVar(&callToken, "token", "", "cancellation token (default: random)")
}

func runCall(cmd *cobra.Command, args []string) error {
	var arguments map[string]any
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &arguments); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}
	token := callToken
	if token == "" {
		token = uuid.NewString()
	}

	manager, _, err := newManager(cmd.Context())
	if err != nil {
		return err
	}
	defer manager.Close()

	// The first interrupt cancels the call through its token; the call then
	// returns and the process exits normally.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		if _, ok := <-sigs; ok {
			_ = manager.CancelToolCall(token)
		}
	}()

	res, err := manager.CallTool(cmd.Context(), args[0], arguments, token)
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

func printResult(cmd *cobra.Command, res *mcp.CallToolResult) error {
	out := cmd.OutOrStdout()
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			fmt.Fprintln(out, text.Text)
			continue
		}
		raw, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(raw))
	}
	if res.StructuredContent != nil {
		raw, err := json.MarshalIndent(res.StructuredContent, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(raw))
	}
	if res.IsError {
		return errors.New("tool reported an error")
	}
	return nil
}
