package tools

import (
	"time"
)

// ParamType is the JSON type a tool parameter accepts.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Parameter is one entry of a tool's ordered parameter schema.
type Parameter struct {
	Name        string    `yaml:"name" json:"name"`
	Type        ParamType `yaml:"type" json:"type"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool      `yaml:"required,omitempty" json:"required,omitempty"`
}

// BackendKind selects the executor that serves a tool.
type BackendKind string

const (
	BackendBuiltin BackendKind = "builtin"
	BackendHTTP    BackendKind = "http"
	BackendMCP     BackendKind = "mcp"
)

// DefaultKeyHeader is the header used for function keys, as Azure Functions expects.
const DefaultKeyHeader = "x-functions-key"

// Backend describes how to invoke a tool's executor.
type Backend struct {
	Kind BackendKind `yaml:"kind"`
	// URL of the function or remote MCP server; may be a template over the arguments.
	URL    string `yaml:"url,omitempty"`
	Method string `yaml:"method,omitempty"`
	// Target overrides the name used at the backend (builtin function or remote tool).
	Target    string            `yaml:"target,omitempty"`
	KeyRef    string            `yaml:"keyRef,omitempty"`
	KeyHeader string            `yaml:"keyHeader,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
}

// Descriptor is an immutable tool definition.
type Descriptor struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Parameters  []Parameter `yaml:"parameters,omitempty"`
	Backend     Backend     `yaml:"backend"`
}

// TargetName returns the name the backend knows this tool by.
func (d Descriptor) TargetName() string {
	if d.Backend.Target != "" {
		return d.Backend.Target
	}
	return d.Name
}

// Parameter returns the named parameter.
func (d Descriptor) Parameter(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

func (d Descriptor) clone() Descriptor {
	c := d
	c.Parameters = append([]Parameter(nil), d.Parameters...)
	if d.Backend.Headers != nil {
		c.Backend.Headers = make(map[string]string, len(d.Backend.Headers))
		for k, v := range d.Backend.Headers {
			c.Backend.Headers[k] = v
		}
	}
	return c
}
