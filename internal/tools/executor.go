package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Executor invokes a tool's backend with validated arguments. Implementations
// should honour ctx cancellation where they can; the dispatcher stops waiting
// at the deadline either way.
type Executor interface {
	Execute(ctx context.Context, d Descriptor, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, d Descriptor, args map[string]interface{}) (*mcp.CallToolResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, d Descriptor, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return f(ctx, d, args)
}

// Executors maps backend kinds to executors.
type Executors map[BackendKind]Executor

// For returns the executor for a descriptor's backend kind.
func (e Executors) For(d Descriptor) (Executor, error) {
	ex, ok := e[d.Backend.Kind]
	if !ok {
		return nil, fmt.Errorf("no executor for backend kind '%s'", d.Backend.Kind)
	}
	return ex, nil
}
