package tools

import (
	"errors"
	"fmt"
)

// ErrToolNotFound is returned when a tool name is not in the catalog.
var ErrToolNotFound = errors.New("tool not found")

// InvalidArgumentsError names the first argument that failed validation.
type InvalidArgumentsError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: field '%s' %s", e.Tool, e.Field, e.Reason)
}

// CatalogError reports a problem with a catalog entry.
type CatalogError struct {
	Index   int
	Tool    string
	Message string
}

func (e *CatalogError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("tool #%d: %s", e.Index, e.Message)
	}
	return fmt.Sprintf("tool '%s': %s", e.Tool, e.Message)
}
