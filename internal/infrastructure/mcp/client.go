package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
)

var _ output.ToolClientPort = (*Client)(nil)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultCallTimeout    = 2 * time.Minute
	maxListPages          = 20
)

type Config struct {
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		ClientName:     "mcp-bridge",
		ClientVersion:  "1.0.0",
		ConnectTimeout: defaultConnectTimeout,
		CallTimeout:    defaultCallTimeout,
	}
}

// Client opens a fresh connection per operation. There is no pooling.
type Client struct {
	cfg    Config
	logger output.LoggerPort
}

func NewClient(cfg Config, logger output.LoggerPort) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Client{cfg: cfg, logger: logger.WithField("component", "mcp-client")}
}

// Connection is one initialised session with a tool server.
type Connection struct {
	url       string
	transport string
	client    *mcpclient.Client
	logger    output.LoggerPort
}

func (c *Connection) Transport() string { return c.transport }

// Connect tries the streamable HTTP transport first and falls back to the
// legacy SSE transport. Both attempts share one ConnectTimeout budget.
func (c *Client) Connect(ctx context.Context, serverURL string) (*Connection, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, &entity.ConnectionError{URL: serverURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &entity.ConnectionError{
			URL: serverURL,
			Err: fmt.Errorf("%w: %s", entity.ErrUnsupportedProtocol, u.Scheme),
		}
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	log := c.logger.WithField("url", serverURL)

	cli, err := mcpclient.NewStreamableHttpClient(serverURL)
	if err == nil {
		if err = c.handshake(ctx, cli, deadline); err == nil {
			log.Debug("Connected", "transport", "streamable-http")
			return &Connection{url: serverURL, transport: "streamable-http", client: cli, logger: log}, nil
		}
		closeQuietly(cli, log)
	}
	if errors.Is(err, entity.ErrConnectionTimeout) || ctx.Err() != nil {
		return nil, &entity.ConnectionError{URL: serverURL, Err: err}
	}
	log.Info("Streamable HTTP failed, falling back to SSE", "error", err)

	sse, err := mcpclient.NewSSEMCPClient(serverURL)
	if err != nil {
		return nil, &entity.ConnectionError{URL: serverURL, Err: err}
	}
	if err := c.handshake(ctx, sse, deadline); err != nil {
		closeQuietly(sse, log)
		return nil, &entity.ConnectionError{URL: serverURL, Err: err}
	}

	log.Debug("Connected", "transport", "sse")
	return &Connection{url: serverURL, transport: "sse", client: sse, logger: log}, nil
}

// handshake races Start+Initialize against the deadline. The session itself
// keeps using ctx, so a cancelled timer does not tear down the stream.
func (c *Client) handshake(ctx context.Context, cli *mcpclient.Client, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return fmt.Errorf("%w after %s", entity.ErrConnectionTimeout, c.cfg.ConnectTimeout)
	}

	done := make(chan error, 1)
	go func() {
		if err := cli.Start(ctx); err != nil {
			done <- fmt.Errorf("start transport: %w", err)
			return
		}
		req := mcp.InitializeRequest{}
		req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		req.Params.ClientInfo = mcp.Implementation{
			Name:    c.cfg.ClientName,
			Version: c.cfg.ClientVersion,
		}
		if _, err := cli.Initialize(ctx, req); err != nil {
			done <- fmt.Errorf("initialize: %w", err)
			return
		}
		done <- nil
	}()

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", entity.ErrConnectionTimeout, c.cfg.ConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListTools returns every valid descriptor the server advertises. Invalid
// descriptors are dropped with a warning.
func (c *Connection) ListTools(ctx context.Context) ([]entity.ToolDescriptor, error) {
	var all []mcp.Tool
	req := mcp.ListToolsRequest{}

	for page := 0; page < maxListPages; page++ {
		res, err := c.client.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tools: %w", err)
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		req.Params.Cursor = res.NextCursor
	}

	return toDescriptors(all, c.logger), nil
}

// CallTool invokes one tool and returns the raw result decoded into plain
// JSON values.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, &entity.ToolError{Tool: name, Err: err}
	}
	if res.IsError {
		c.logger.Warn("Tool reported an error result", "tool", name)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return nil, &entity.ToolError{Tool: name, Err: fmt.Errorf("encode result: %w", err)}
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &entity.ToolError{Tool: name, Err: fmt.Errorf("decode result: %w", err)}
	}
	return out, nil
}

// Close is best effort and never fails.
func (c *Connection) Close() {
	closeQuietly(c.client, c.logger)
}

func closeQuietly(cli *mcpclient.Client, log output.LoggerPort) {
	if cli == nil {
		return
	}
	if err := cli.Close(); err != nil {
		log.Warn("Error during cleanup", "error", err)
	}
}

func (c *Client) ListTools(ctx context.Context, serverURL string) ([]entity.ToolDescriptor, error) {
	conn, err := c.Connect(ctx, serverURL)
	if err != nil {
		c.logger.Error("Connection failed", "url", serverURL, "error", err)
		return nil, err
	}
	defer conn.Close()

	tools, err := conn.ListTools(ctx)
	if err != nil {
		c.logger.Error("List tools failed", "url", serverURL, "error", err)
		return nil, err
	}
	c.logger.Info("Listed tools", "url", serverURL, "count", len(tools), "transport", conn.Transport())
	return tools, nil
}

func (c *Client) CallTool(ctx context.Context, serverURL, tool string, args map[string]any) (any, error) {
	conn, err := c.Connect(ctx, serverURL)
	if err != nil {
		c.logger.Error("Connection failed", "url", serverURL, "error", err)
		return nil, err
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := conn.CallTool(callCtx, tool, args)
	if err != nil {
		c.logger.Error("Tool call failed", "url", serverURL, "tool", tool, "error", err)
		return nil, err
	}
	c.logger.Info("Tool call succeeded", "url", serverURL, "tool", tool, "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func toDescriptors(tools []mcp.Tool, log output.LoggerPort) []entity.ToolDescriptor {
	out := make([]entity.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		d, err := toDescriptor(t)
		if err != nil {
			log.Warn("Failed to parse tool", "tool", t.Name, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out
}

func toDescriptor(t mcp.Tool) (entity.ToolDescriptor, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return entity.ToolDescriptor{}, &entity.ValidationError{Item: t.Name, Err: err}
	}
	var d entity.ToolDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return entity.ToolDescriptor{}, &entity.ValidationError{Item: t.Name, Err: err}
	}
	if err := d.Validate(); err != nil {
		return entity.ToolDescriptor{}, err
	}
	return d, nil
}
