// Package provider exposes remote MCP tools behind a uniform capability handle.
package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/Denis-Chistyakov/aigen/pkg/mcpclient"
)

// Capability calls a named remote tool and returns its structured result
type Capability interface {
	Call(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error)
}

// ToolCaller is the subset of the MCP client a capability needs
type ToolCaller interface {
	CallTool(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error)
	Ping(ctx context.Context) error
	Endpoint() string
}

var _ ToolCaller = (*mcpclient.Client)(nil)

// MCPCapability is a Capability backed by one MCP server and guarded by a breaker
type MCPCapability struct {
	caller   ToolCaller
	breakers *CircuitBreakerManager
}

// NewMCPCapability creates a capability for one MCP endpoint
func NewMCPCapability(caller ToolCaller, breakers *CircuitBreakerManager) *MCPCapability {
	if breakers == nil {
		breakers = NewCircuitBreakerManager(DefaultBreakerSettings())
	}
	return &MCPCapability{caller: caller, breakers: breakers}
}

// Call invokes the tool through the endpoint's circuit breaker
func (c *MCPCapability) Call(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	endpoint := c.caller.Endpoint()
	start := time.Now()

	data, err := c.breakers.Execute(endpoint, func() (map[string]interface{}, error) {
		return c.caller.CallTool(ctx, tool, args)
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("tool", tool).
			Dur("duration", time.Since(start)).
			Msg("MCP tool call failed")
		return nil, err
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("tool", tool).
		Dur("duration", time.Since(start)).
		Msg("MCP tool call succeeded")

	return data, nil
}

// Status reports "connected" when the endpoint completes a handshake.
// An open breaker is reported without dialing.
func (c *MCPCapability) Status(ctx context.Context) string {
	endpoint := c.caller.Endpoint()
	if c.breakers.GetState(endpoint) == gobreaker.StateOpen {
		return "circuit_open"
	}
	if err := c.caller.Ping(ctx); err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("MCP health probe failed")
		return "disconnected"
	}
	return "connected"
}

// Endpoint returns the label of the underlying server
func (c *MCPCapability) Endpoint() string {
	return c.caller.Endpoint()
}
