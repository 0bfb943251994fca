package mcpclient

// Package mcpclient provides a one-shot MCP tool client.
// Supports both streamable HTTP and stdio transports.

import (
	"fmt"
	"sort"
	"time"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// TransportType identifies the transport mechanism
type TransportType string

const (
	TransportHTTP  TransportType = "http"
	TransportStdio TransportType = "stdio"
)

// TransportConfig holds configuration for opening a session
type TransportConfig struct {
	// Common
	Type    TransportType
	Timeout time.Duration

	// HTTP specific
	URL string

	// Stdio specific
	Command string
	Args    []string
	Env     map[string]string
}

// DefaultTransportConfig returns sensible defaults
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		Type:    TransportHTTP,
		Timeout: 30 * time.Second,
	}
}

// FromEndpoint builds a transport config from the YAML endpoint section
func FromEndpoint(ep types.MCPEndpointConfig) *TransportConfig {
	cfg := DefaultTransportConfig()
	if ep.Transport == string(TransportStdio) {
		cfg.Type = TransportStdio
	}
	cfg.Timeout = types.DurationOr(ep.Timeout, cfg.Timeout)
	cfg.URL = ep.URL
	cfg.Command = ep.Command
	cfg.Args = ep.Args
	cfg.Env = ep.Env
	return cfg
}

// Validate checks that the config can open a session
func (c *TransportConfig) Validate() error {
	switch c.Type {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("stdio transport: command is required")
		}
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("http transport: url is required")
		}
	default:
		return fmt.Errorf("unknown transport type: %s", c.Type)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Endpoint returns a stable label for logs and breaker keys
func (c *TransportConfig) Endpoint() string {
	if c.Type == TransportStdio {
		return "stdio:" + c.Command
	}
	return c.URL
}

// envList flattens the env map into KEY=VALUE pairs in key order
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
