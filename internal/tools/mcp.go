package tools

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ToMCP converts a descriptor into the MCP tool definition advertised to agents.
func ToMCP(d Descriptor) mcp.Tool {
	properties := make(map[string]interface{}, len(d.Parameters))
	var required []string
	for _, p := range d.Parameters {
		prop := map[string]interface{}{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

// ToMCPList converts every descriptor in the catalog.
func ToMCPList(c *Catalog) []mcp.Tool {
	out := make([]mcp.Tool, 0, c.Len())
	for _, d := range c.tools {
		out = append(out, ToMCP(d))
	}
	return out
}
