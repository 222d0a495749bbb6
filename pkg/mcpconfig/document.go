// Package mcpconfig reads and writes the persisted MCP server document
// (mcp_config.json), converts its entries into mcpmgr server configurations,
// reconciles a running manager against it, and loads the router's YAML hub
// configuration.
package mcpconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

// FileName is the server document name under the data directory.
const FileName = "mcp_config.json"

// Entry describes one server. Entries with a URL are reached over HTTP;
// all others are launched as a subprocess.
type Entry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Active  bool              `json:"active"`
}

// Document is the persisted server list.
type Document struct {
	MCPServers map[string]Entry `json:"mcpServers"`
}

// Default returns the document written on first run. Every entry starts
// inactive.
func Default() *Document {
	return &Document{MCPServers: map[string]Entry{
		"browsermcp": {Command: "npx", Args: []string{"@browsermcp/mcp"}, Env: map[string]string{}},
		"fetch":      {Command: "uvx", Args: []string{"mcp-server-fetch"}, Env: map[string]string{}},
		"serper": {
			Command: "npx",
			Args:    []string{"-y", "serper-search-scrape-mcp-server"},
			Env:     map[string]string{"SERPER_API_KEY": "YOUR_SERPER_API_KEY_HERE"},
		},
		"filesystem": {
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "/path/to/other/allowed/dir"},
			Env:     map[string]string{},
		},
		"sequential-thinking": {
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-sequential-thinking"},
			Env:     map[string]string{},
		},
	}}
}

// PathIn returns the document path under dataDir.
func PathIn(dataDir string) string { return filepath.Join(dataDir, FileName) }

// Load reads the document at path, writing Default first when the file does
// not exist.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		doc := Default()
		if err := Save(path, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mcpconfig: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a document.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("mcpconfig: parse document: %w", err)
	}
	if doc.MCPServers == nil {
		doc.MCPServers = map[string]Entry{}
	}
	return &doc, nil
}

// Save writes doc to path, creating parent directories.
func Save(path string, doc *Document) error {
	if doc == nil {
		doc = &Document{}
	}
	if doc.MCPServers == nil {
		doc.MCPServers = map[string]Entry{}
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("mcpconfig: encode document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mcpconfig: create dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("mcpconfig: write %s: %w", path, err)
	}
	return nil
}

// Names returns the server names in sorted order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.MCPServers))
	for name := range d.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetActive flips the active flag of name.
func (d *Document) SetActive(name string, active bool) error {
	entry, ok := d.MCPServers[name]
	if !ok {
		return fmt.Errorf("mcpconfig: unknown server %q", name)
	}
	entry.Active = active
	d.MCPServers[name] = entry
	return nil
}

// ServerConfig converts the entry into a manager configuration.
func (e Entry) ServerConfig(name string) (mcpmgr.ServerConfig, error) {
	if url := strings.TrimSpace(e.URL); url != "" {
		headers := http.Header{}
		for k, v := range e.Headers {
			headers.Set(k, v)
		}
		return &mcpmgr.HTTPServerConfig{Endpoint: url, Headers: headers}, nil
	}
	if strings.TrimSpace(e.Command) == "" {
		return nil, &mcpmgr.ConfigError{Server: name, Reason: "entry has neither command nor url"}
	}
	env := make(map[string]string, len(e.Env))
	for k, v := range e.Env {
		env[k] = v
	}
	return &mcpmgr.StdioServerConfig{
		Command: e.Command,
		Args:    append([]string(nil), e.Args...),
		Env:     env,
	}, nil
}

// ActiveConfigs converts every active entry. Invalid entries are left out
// and reported together.
func (d *Document) ActiveConfigs() (map[string]mcpmgr.ServerConfig, error) {
	out := make(map[string]mcpmgr.ServerConfig)
	var errs []error
	for _, name := range d.Names() {
		entry := d.MCPServers[name]
		if !entry.Active {
			continue
		}
		cfg, err := entry.ServerConfig(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = cfg
	}
	return out, errors.Join(errs...)
}
