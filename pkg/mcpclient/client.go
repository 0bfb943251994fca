package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/internal/version"
)

var (
	// ErrEmptyContent is returned when a tool answers without any content
	ErrEmptyContent = errors.New("tool returned no content")
	// ErrToolFailed is returned when a tool reports isError
	ErrToolFailed = errors.New("tool reported an error")
)

// Client calls tools on one MCP server. Every call opens its own session,
// so a Client holds no connection state and is safe for concurrent use.
type Client struct {
	cfg  *TransportConfig
	info mcp.Implementation
}

// New creates a new MCP client
func New(cfg *TransportConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultTransportConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		cfg: cfg,
		info: mcp.Implementation{
			Name:    "aigen",
			Version: version.Version,
		},
	}, nil
}

// Endpoint returns the server label
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint()
}

// CallTool opens a session, performs the handshake, calls the tool and decodes
// the first text content as a JSON object. The whole exchange is bounded by the
// configured timeout.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("server", c.Endpoint()).Msg("MCP session close failed")
		}
	}()

	if err := c.initialize(ctx, session); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := session.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call_tool %s failed: %w", toolName, err)
	}

	return DecodeResult(result)
}

// Ping checks that the server completes an MCP handshake
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	session, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := c.initialize(ctx, session); err != nil {
		return err
	}
	return session.Ping(ctx)
}

// connect opens a transport-specific session
func (c *Client) connect(ctx context.Context) (*client.Client, error) {
	switch c.cfg.Type {
	case TransportStdio:
		session, err := client.NewStdioMCPClient(c.cfg.Command, envList(c.cfg.Env), c.cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", c.cfg.Command, err)
		}
		return session, nil
	default:
		session, err := client.NewStreamableHttpClient(c.cfg.URL, transport.WithHTTPTimeout(c.cfg.Timeout))
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
		if err := session.Start(ctx); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("failed to start http session: %w", err)
		}
		return session, nil
	}
}

func (c *Client) initialize(ctx context.Context, session *client.Client) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = c.info

	if _, err := session.Initialize(ctx, req); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	return nil
}

// DecodeResult extracts the JSON object carried by the first text content
func DecodeResult(result *mcp.CallToolResult) (map[string]interface{}, error) {
	if result == nil || len(result.Content) == 0 {
		return nil, ErrEmptyContent
	}

	text, ok := textOf(result.Content[0])
	if result.IsError {
		return nil, fmt.Errorf("%w: %s", ErrToolFailed, strings.TrimSpace(text))
	}
	if !ok {
		return nil, fmt.Errorf("unexpected content type %T", result.Content[0])
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}
	if data == nil {
		return nil, ErrEmptyContent
	}
	return data, nil
}

func textOf(content mcp.Content) (string, bool) {
	switch tc := content.(type) {
	case mcp.TextContent:
		return tc.Text, true
	case *mcp.TextContent:
		return tc.Text, true
	}
	return "", false
}
