package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// HelloMessage is the fixed reply of the hello_mcp builtin.
const HelloMessage = "Hello I am MCPTool!"

// BuiltinFunc implements one builtin tool.
type BuiltinFunc func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error)

// SnippetStore persists named snippets for the snippet builtins.
type SnippetStore interface {
	GetSnippet(ctx context.Context, name string) (string, bool, error)
	SaveSnippet(ctx context.Context, name, content string) error
}

// MemorySnippetStore keeps snippets in process memory.
type MemorySnippetStore struct {
	mu       sync.RWMutex
	snippets map[string]string
}

// NewMemorySnippetStore returns an empty store.
func NewMemorySnippetStore() *MemorySnippetStore {
	return &MemorySnippetStore{snippets: make(map[string]string)}
}

func (s *MemorySnippetStore) GetSnippet(_ context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snippets[name]
	return v, ok, nil
}

func (s *MemorySnippetStore) SaveSnippet(_ context.Context, name, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snippets[name] = content
	return nil
}

// BuiltinExecutor serves tools implemented inside the gateway.
type BuiltinExecutor struct {
	funcs map[string]BuiltinFunc
}

// NewBuiltinExecutor registers hello_mcp, get_snippet and save_snippet.
func NewBuiltinExecutor(snippets SnippetStore) *BuiltinExecutor {
	b := &BuiltinExecutor{funcs: make(map[string]BuiltinFunc)}
	b.Register("hello_mcp", func(context.Context, map[string]interface{}) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(HelloMessage), nil
	})
	b.Register("get_snippet", func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
		name, _ := args["snippetname"].(string)
		content, ok, err := snippets.GetSnippet(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("snippet '%s' does not exist", name)
		}
		return mcp.NewToolResultText(content), nil
	})
	b.Register("save_snippet", func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
		name, _ := args["snippetname"].(string)
		content, _ := args["snippet"].(string)
		if err := snippets.SaveSnippet(ctx, name, content); err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(content), nil
	})
	return b
}

// Register adds or replaces a builtin.
func (b *BuiltinExecutor) Register(name string, fn BuiltinFunc) {
	b.funcs[name] = fn
}

// Names lists the registered builtins.
func (b *BuiltinExecutor) Names() []string {
	names := make([]string, 0, len(b.funcs))
	for n := range b.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a builtin is registered.
func (b *BuiltinExecutor) Has(name string) bool {
	_, ok := b.funcs[name]
	return ok
}

func (b *BuiltinExecutor) Execute(ctx context.Context, d Descriptor, args map[string]interface{}) (*mcp.CallToolResult, error) {
	fn, ok := b.funcs[d.TargetName()]
	if !ok {
		return nil, fmt.Errorf("no builtin named '%s'", d.TargetName())
	}
	return fn(ctx, args)
}

// DefaultCatalog describes the builtin tools of the original sample.
func DefaultCatalog() []Descriptor {
	return []Descriptor{
		{
			Name:        "hello_mcp",
			Description: "Hello world.",
			Backend:     Backend{Kind: BackendBuiltin},
		},
		{
			Name:        "get_snippet",
			Description: "Retrieve a snippet by name.",
			Parameters: []Parameter{
				{Name: "snippetname", Type: TypeString, Description: "The name of the snippet.", Required: true},
			},
			Backend: Backend{Kind: BackendBuiltin},
		},
		{
			Name:        "save_snippet",
			Description: "Save a snippet with a name.",
			Parameters: []Parameter{
				{Name: "snippetname", Type: TypeString, Description: "The name of the snippet.", Required: true},
				{Name: "snippet", Type: TypeString, Description: "The content of the snippet.", Required: true},
			},
			Backend: Backend{Kind: BackendBuiltin},
		},
	}
}
