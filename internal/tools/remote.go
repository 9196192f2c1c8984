package tools

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcpgate/internal/config"
	"github.com/giantswarm/mcpgate/pkg/logging"
)

// ClientName identifies the gateway to remote MCP servers.
const ClientName = "mcpgate"

// MCPExecutor forwards tools/call to a remote MCP server over streamable HTTP,
// such as an Azure Functions MCP extension webhook. A fresh client is used per
// call so the backend key lives only for the duration of the invocation.
type MCPExecutor struct {
	httpClient *http.Client
	resolve    SecretResolver
	version    string
}

// NewMCPExecutor creates an executor. A nil resolver uses config.ResolveSecret.
func NewMCPExecutor(httpClient *http.Client, resolve SecretResolver, version string) *MCPExecutor {
	if resolve == nil {
		resolve = config.ResolveSecret
	}
	return &MCPExecutor{httpClient: httpClient, resolve: resolve, version: version}
}

func (e *MCPExecutor) Execute(ctx context.Context, d Descriptor, args map[string]interface{}) (*mcp.CallToolResult, error) {
	headers := make(http.Header, len(d.Backend.Headers)+1)
	for k, v := range d.Backend.Headers {
		headers.Set(k, v)
	}
	if err := applyKey(headers, d.Backend, e.resolve); err != nil {
		return nil, err
	}
	flat := make(map[string]string, len(headers))
	for k := range headers {
		flat[k] = headers.Get(k)
	}

	opts := []transport.StreamableHTTPCOption{transport.WithHTTPHeaders(flat)}
	if e.httpClient != nil {
		opts = append(opts, transport.WithHTTPBasicClient(e.httpClient))
	}

	mcpClient, err := client.NewStreamableHttpClient(d.Backend.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer func() {
		if err := mcpClient.Close(); err != nil {
			logging.Debug("Tools", "Error closing MCP client for %s: %v", d.Name, err)
		}
	}()

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	if _, err := mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    ClientName,
				Version: e.version,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	result, err := mcpClient.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      d.TargetName(),
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("remote tool call failed: %w", err)
	}
	return result, nil
}
