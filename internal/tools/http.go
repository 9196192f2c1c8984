package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcpgate/internal/config"
	"github.com/giantswarm/mcpgate/internal/template"
	"github.com/giantswarm/mcpgate/pkg/logging"
	"github.com/giantswarm/mcpgate/pkg/oauth"
	pkgstrings "github.com/giantswarm/mcpgate/pkg/strings"
)

const maxBackendResponseBytes = 4 << 20

// SecretResolver turns a keyRef into the secret it points at.
type SecretResolver func(ref string) (oauth.RedactedToken, error)

// HTTPExecutor posts arguments to a function endpoint, the way Azure Functions
// HTTP triggers are invoked.
type HTTPExecutor struct {
	client    *http.Client
	templates *template.Engine
	resolve   SecretResolver
}

// NewHTTPExecutor creates an executor. A nil resolver uses config.ResolveSecret.
func NewHTTPExecutor(client *http.Client, resolve SecretResolver) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	if resolve == nil {
		resolve = config.ResolveSecret
	}
	return &HTTPExecutor{client: client, templates: template.New(), resolve: resolve}
}

func (e *HTTPExecutor) Execute(ctx context.Context, d Descriptor, args map[string]interface{}) (*mcp.CallToolResult, error) {
	url, err := e.templates.Render(d.Backend.URL, template.BackendData(d.TargetName(), args))
	if err != nil {
		return nil, fmt.Errorf("failed to build backend URL: %w", err)
	}

	method := strings.ToUpper(d.Backend.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet {
		payload, err := json.Marshal(map[string]interface{}{"arguments": args})
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range d.Backend.Headers {
		req.Header.Set(k, v)
	}
	if err := applyKey(req.Header, d.Backend, e.resolve); err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.DebugCtx(ctx, "Tools", "Backend for %s returned status %d", d.Name, resp.StatusCode)
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, pkgstrings.TruncateDescription(string(respBody), pkgstrings.MaxBackendErrorLen))
	}

	return decodeBackendResult(respBody), nil
}

// decodeBackendResult accepts either a full MCP tool result or arbitrary text.
func decodeBackendResult(body []byte) *mcp.CallToolResult {
	var shape struct {
		Content json.RawMessage `json:"content"`
	}
	if json.Unmarshal(body, &shape) == nil && len(shape.Content) > 0 && shape.Content[0] == '[' {
		raw := json.RawMessage(body)
		if result, err := mcp.ParseCallToolResult(&raw); err == nil {
			return result
		}
	}
	return mcp.NewToolResultText(string(body))
}

// applyKey resolves the backend's key reference and sets it on the outgoing
// request. The key is never logged.
func applyKey(h http.Header, b Backend, resolve SecretResolver) error {
	if b.KeyRef == "" {
		return nil
	}
	key, err := resolve(b.KeyRef)
	if err != nil {
		return fmt.Errorf("failed to resolve backend key: %w", err)
	}
	header := b.KeyHeader
	if header == "" {
		header = DefaultKeyHeader
	}
	h.Set(header, key.Value())
	return nil
}
