package tools

import (
	"fmt"
	"regexp"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Catalog is an immutable, versioned snapshot of tool descriptors.
type Catalog struct {
	version uint64
	tools   []Descriptor
	byName  map[string]int
}

// NewCatalog validates descriptors and freezes them into a snapshot. Order is preserved.
func NewCatalog(version uint64, descriptors []Descriptor) (*Catalog, error) {
	c := &Catalog{
		version: version,
		tools:   make([]Descriptor, 0, len(descriptors)),
		byName:  make(map[string]int, len(descriptors)),
	}
	for i, d := range descriptors {
		if err := validateDescriptor(i, d); err != nil {
			return nil, err
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, &CatalogError{Index: i, Tool: d.Name, Message: "duplicate tool name"}
		}
		c.byName[d.Name] = len(c.tools)
		c.tools = append(c.tools, d.clone())
	}
	return c, nil
}

func validateDescriptor(i int, d Descriptor) error {
	if !toolNamePattern.MatchString(d.Name) {
		return &CatalogError{Index: i, Tool: d.Name, Message: "name must match " + toolNamePattern.String()}
	}
	seen := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return &CatalogError{Index: i, Tool: d.Name, Message: "parameter without a name"}
		}
		if seen[p.Name] {
			return &CatalogError{Index: i, Tool: d.Name, Message: fmt.Sprintf("duplicate parameter '%s'", p.Name)}
		}
		seen[p.Name] = true
		if !p.Type.valid() {
			return &CatalogError{Index: i, Tool: d.Name, Message: fmt.Sprintf("parameter '%s' has unknown type '%s'", p.Name, p.Type)}
		}
	}
	switch d.Backend.Kind {
	case BackendBuiltin:
	case BackendHTTP, BackendMCP:
		if d.Backend.URL == "" {
			return &CatalogError{Index: i, Tool: d.Name, Message: fmt.Sprintf("%s backend requires a url", d.Backend.Kind)}
		}
	default:
		return &CatalogError{Index: i, Tool: d.Name, Message: fmt.Sprintf("unknown backend kind '%s'", d.Backend.Kind)}
	}
	if d.Backend.Timeout < 0 {
		return &CatalogError{Index: i, Tool: d.Name, Message: "timeout must not be negative"}
	}
	return nil
}

// Version returns the snapshot version. Versions increase on every reload.
func (c *Catalog) Version() uint64 {
	return c.version
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	return len(c.tools)
}

// Lookup finds a tool by name.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.tools[i].clone(), true
}

// Resolve looks up a tool and validates args against its parameters. Unknown
// tools yield ErrToolNotFound, bad arguments an *InvalidArgumentsError.
func (c *Catalog) Resolve(name string, args map[string]interface{}) (Descriptor, error) {
	d, ok := c.Lookup(name)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if err := ValidateArguments(d, args); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// List returns every descriptor in catalog order.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, len(c.tools))
	for i, d := range c.tools {
		out[i] = d.clone()
	}
	return out
}
