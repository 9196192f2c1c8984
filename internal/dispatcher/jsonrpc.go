package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

var nullID = json.RawMessage("null")

// Request is a JSON-RPC 2.0 request or notification. The ID is kept raw so
// it is echoed back byte for byte.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

func resultResponse(id json.RawMessage, result interface{}) Response {
	return Response{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Result: result}
}

func errorResponse(id json.RawMessage, rpcErr *RPCError) Response {
	if len(id) == 0 {
		id = nullID
	}
	return Response{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Error: rpcErr}
}

// parseRequest decodes one envelope. Batches are not supported.
func parseRequest(raw []byte) (*Request, *RPCError) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &RPCError{Code: mcp.INVALID_REQUEST, Message: "empty request"}
	}
	if trimmed[0] == '[' {
		return nil, &RPCError{Code: mcp.INVALID_REQUEST, Message: "batch requests are not supported"}
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, &RPCError{Code: mcp.PARSE_ERROR, Message: "parse error"}
	}
	if req.JSONRPC != mcp.JSONRPC_VERSION {
		return &req, &RPCError{Code: mcp.INVALID_REQUEST, Message: "jsonrpc must be \"2.0\""}
	}
	if req.Method == "" {
		return &req, &RPCError{Code: mcp.INVALID_REQUEST, Message: "method is required"}
	}
	if !validID(req.ID) {
		return &req, &RPCError{Code: mcp.INVALID_REQUEST, Message: "id must be a string or number"}
	}
	return &req, nil
}

func validID(id json.RawMessage) bool {
	if len(id) == 0 || bytes.Equal(id, nullID) {
		return true
	}
	switch c := id[0]; {
	case c == '"':
		return true
	case c == '-' || (c >= '0' && c <= '9'):
		return true
	}
	return false
}
