package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/mcpgate/internal/tools"
)

// Application error codes carried in JSON-RPC error objects, next to the
// standard codes from mcp-go.
const (
	CodeToolExecutionError = -32000
	CodeToolTimeout        = -32001
	CodeToolNotFound       = -32002
	CodeUnauthorized       = -32003
)

var (
	// ErrUnauthorized is returned when the caller's token is missing, unknown or expired.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientScope is returned when a valid token lacks the scope tool calls require.
	ErrInsufficientScope = fmt.Errorf("%w: insufficient scope", ErrUnauthorized)

	// ErrToolNotFound is returned for tools absent from the current catalog.
	ErrToolNotFound = tools.ErrToolNotFound
)

// ToolTimeoutError is returned when a tool does not finish within its
// deadline. Timed-out calls are never retried.
type ToolTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("tool '%s' timed out after %s", e.Tool, e.Timeout)
}

// ToolExecutionError is returned when a backend fails. Message is what the
// agent sees: the executor's own error text, or a generic text when the
// executor panicked. Err holds the cause.
type ToolExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool '%s' failed: %s", e.Tool, e.Message)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// IsToolTimeout reports whether err is a ToolTimeoutError.
func IsToolTimeout(err error) bool {
	var target *ToolTimeoutError
	return errors.As(err, &target)
}
