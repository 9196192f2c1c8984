package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/semaphore"

	"github.com/giantswarm/mcpgate/internal/broker"
	"github.com/giantswarm/mcpgate/internal/session"
	"github.com/giantswarm/mcpgate/internal/tools"
	"github.com/giantswarm/mcpgate/pkg/logging"
)

const (
	// ServerName is reported in initialize results.
	ServerName = "mcpgate"

	// EventMessage is the SSE event name for JSON-RPC traffic.
	EventMessage = "message"

	DefaultTimeout     = 30 * time.Second
	DefaultMaxInFlight = 64
)

// TokenValidator resolves bearer tokens. *broker.Broker implements it.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*broker.Identity, error)
}

// Sessions is the part of the session registry the dispatcher needs.
type Sessions interface {
	Get(id string) (*session.Session, error)
	Send(id string, msg session.Message) error
	Reserve(id string) (*session.Reservation, error)
	Broadcast(msg session.Message) int
}

// Observer receives tool call outcomes for metrics.
type Observer interface {
	ToolCallStarted()
	ToolCallFinished(tool, outcome string, duration time.Duration)
}

// Config tunes the dispatcher.
type Config struct {
	DefaultTimeout time.Duration
	MaxInFlight    int64
	// RequiredScope, when set, must be granted to call tools.
	RequiredScope string
	Version       string
	Instructions  string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// ToolCallRequest is one tools/call addressed to a session.
type ToolCallRequest struct {
	SessionID string
	// RequestID is the caller's JSON-RPC id, echoed verbatim on the response.
	RequestID json.RawMessage
	Tool      string
	Arguments map[string]interface{}
}

// Rejection is a synchronous refusal of a message, returned to the caller
// in the HTTP response instead of on the stream.
type Rejection struct {
	Status     int
	Response   Response
	RetryAfter time.Duration
}

// Dispatcher validates JSON-RPC messages and routes tool calls to their
// executors, delivering responses on the caller's session stream.
type Dispatcher struct {
	cfg       Config
	validator TokenValidator
	sessions  Sessions
	source    *tools.Source
	executors tools.Executors
	sem       *semaphore.Weighted
	observer  Observer
}

// New creates a Dispatcher and subscribes it to catalog changes.
func New(cfg Config, validator TokenValidator, sessions Sessions, source *tools.Source, executors tools.Executors, opts ...Option) *Dispatcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	d := &Dispatcher{
		cfg:       cfg,
		validator: validator,
		sessions:  sessions,
		source:    source,
		executors: executors,
		sem:       semaphore.NewWeighted(cfg.MaxInFlight),
	}
	for _, opt := range opts {
		opt(d)
	}
	source.OnChange(d.catalogChanged)
	return d
}

// Authenticate validates a bearer token. Unknown and expired tokens are
// indistinguishable to the caller.
func (d *Dispatcher) Authenticate(ctx context.Context, token string) (*broker.Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	id, err := d.validator.Validate(ctx, token)
	if err != nil {
		if broker.IsUnauthorized(err) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	return id, nil
}

// ListTools returns the current catalog to an authenticated caller.
func (d *Dispatcher) ListTools(ctx context.Context, token string) ([]tools.Descriptor, error) {
	if _, err := d.Authenticate(ctx, token); err != nil {
		return nil, err
	}
	return d.source.Snapshot().List(), nil
}

// CallTool runs one tool call to completion and delivers the response on the
// session stream. The result (or error) is also returned to the caller.
func (d *Dispatcher) CallTool(ctx context.Context, req ToolCallRequest, token string) (*mcp.CallToolResult, error) {
	id, err := d.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := d.checkScope(id); err != nil {
		return nil, err
	}
	if _, err := d.ownedSession(req.SessionID, id); err != nil {
		return nil, err
	}
	desc, err := d.resolve(req.Tool, req.Arguments)
	if err != nil {
		return nil, err
	}
	slot, err := d.sessions.Reserve(req.SessionID)
	if err != nil {
		return nil, err
	}

	result, err := d.invoke(ctx, desc, req.Arguments)
	d.deliverToolResult(ctx, slot, req.RequestID, desc.Name, result, err)
	return result, err
}

// Handle is the message endpoint's entry point. Caller errors (credentials,
// session, envelope, tool name, arguments) come back as a Rejection; anything
// accepted is answered asynchronously on the session stream.
func (d *Dispatcher) Handle(ctx context.Context, sessionID, token string, raw []byte) (*Rejection, error) {
	identity, err := d.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return reject(http.StatusUnauthorized, nil, CodeUnauthorized, "unauthorized", nil), nil
		}
		return nil, err
	}

	if _, err := d.ownedSession(sessionID, identity); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionClosed):
			return reject(http.StatusGone, nil, mcp.INVALID_REQUEST, "session closed", nil), nil
		default:
			return reject(http.StatusNotFound, nil, mcp.INVALID_REQUEST, "session not found", nil), nil
		}
	}

	req, rpcErr := parseRequest(raw)
	if rpcErr != nil {
		var id json.RawMessage
		if req != nil && validID(req.ID) {
			id = req.ID
		}
		return &Rejection{Status: http.StatusBadRequest, Response: errorResponse(id, rpcErr)}, nil
	}

	if req.IsNotification() {
		d.handleNotification(ctx, sessionID, req)
		return nil, nil
	}

	switch req.Method {
	case string(mcp.MethodInitialize):
		return d.reply(ctx, sessionID, resultResponse(req.ID, d.initializeResult(req.Params))), nil
	case string(mcp.MethodPing):
		return d.reply(ctx, sessionID, resultResponse(req.ID, struct{}{})), nil
	case string(mcp.MethodToolsList):
		result := mcp.ListToolsResult{Tools: tools.ToMCPList(d.source.Snapshot())}
		return d.reply(ctx, sessionID, resultResponse(req.ID, result)), nil
	case string(mcp.MethodToolsCall):
		return d.handleToolsCall(ctx, sessionID, identity, req), nil
	default:
		return reject(http.StatusNotFound, req.ID, mcp.METHOD_NOT_FOUND, fmt.Sprintf("method '%s' not found", req.Method), nil), nil
	}
}

type callParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, sessionID string, identity *broker.Identity, req *Request) *Rejection {
	if err := d.checkScope(identity); err != nil {
		return reject(http.StatusForbidden, req.ID, CodeUnauthorized, "insufficient scope", map[string]string{"scope": d.cfg.RequiredScope})
	}

	var params callParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.Name == "" {
		return reject(http.StatusBadRequest, req.ID, mcp.INVALID_PARAMS, "params must contain a tool name", map[string]string{"field": "name"})
	}

	desc, err := d.resolve(params.Name, params.Arguments)
	if err != nil {
		var invalid *tools.InvalidArgumentsError
		switch {
		case errors.Is(err, ErrToolNotFound):
			return reject(http.StatusNotFound, req.ID, CodeToolNotFound, fmt.Sprintf("tool '%s' not found", params.Name), nil)
		case errors.As(err, &invalid):
			return reject(http.StatusBadRequest, req.ID, mcp.INVALID_PARAMS, invalid.Error(), map[string]string{"field": invalid.Field})
		default:
			return reject(http.StatusInternalServerError, req.ID, mcp.INTERNAL_ERROR, "internal error", nil)
		}
	}

	// Each accepted call holds a queue slot until its response is delivered.
	slot, err := d.sessions.Reserve(sessionID)
	if err != nil {
		return d.enqueueRejection(ctx, req.ID, err)
	}

	logging.DebugCtx(ctx, "Dispatcher", "Dispatching tool %s for session %s", desc.Name, logging.TruncateSessionID(sessionID))

	// The HTTP request ends with the 202; the call keeps the request's values
	// (correlation ID) but not its cancellation.
	callCtx := context.WithoutCancel(ctx)
	go func() {
		result, err := d.invoke(callCtx, desc, params.Arguments)
		d.deliverToolResult(callCtx, slot, req.ID, desc.Name, result, err)
	}()
	return nil
}

func (d *Dispatcher) handleNotification(ctx context.Context, sessionID string, req *Request) {
	switch req.Method {
	case "notifications/initialized":
		logging.DebugCtx(ctx, "Dispatcher", "Session %s initialized", logging.TruncateSessionID(sessionID))
	case "notifications/cancelled":
		// Running calls are not interrupted; their results are still delivered.
		logging.DebugCtx(ctx, "Dispatcher", "Ignoring cancellation on session %s", logging.TruncateSessionID(sessionID))
	default:
		logging.DebugCtx(ctx, "Dispatcher", "Ignoring notification %s", req.Method)
	}
}

func (d *Dispatcher) initializeResult(params json.RawMessage) mcp.InitializeResult {
	version := mcp.LATEST_PROTOCOL_VERSION
	var init mcp.InitializeParams
	if len(params) > 0 && json.Unmarshal(params, &init) == nil {
		for _, v := range mcp.ValidProtocolVersions {
			if v == init.ProtocolVersion {
				version = v
				break
			}
		}
	}

	result := mcp.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      mcp.Implementation{Name: ServerName, Version: d.cfg.Version},
		Instructions:    d.cfg.Instructions,
	}
	result.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged,omitempty"`
	}{ListChanged: true}
	return result
}

// reply enqueues an immediate response.
func (d *Dispatcher) reply(ctx context.Context, sessionID string, resp Response) *Rejection {
	if err := d.send(sessionID, resp); err != nil {
		return d.enqueueRejection(ctx, resp.ID, err)
	}
	return nil
}

// enqueueRejection maps a failed enqueue or reservation. A full queue is
// reported to the caller as backpressure.
func (d *Dispatcher) enqueueRejection(ctx context.Context, id json.RawMessage, err error) *Rejection {
	switch {
	case errors.Is(err, session.ErrQueueFull):
		return &Rejection{
			Status:     http.StatusServiceUnavailable,
			Response:   errorResponse(id, &RPCError{Code: mcp.INTERNAL_ERROR, Message: "session queue full"}),
			RetryAfter: time.Second,
		}
	case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrSessionNotFound):
		return reject(http.StatusGone, id, mcp.INVALID_REQUEST, "session closed", nil)
	default:
		logging.ErrorCtx(ctx, "Dispatcher", err, "Failed to enqueue response")
		return reject(http.StatusInternalServerError, id, mcp.INTERNAL_ERROR, "internal error", nil)
	}
}

func (d *Dispatcher) checkScope(id *broker.Identity) error {
	if d.cfg.RequiredScope == "" || id.HasScope(d.cfg.RequiredScope) {
		return nil
	}
	return ErrInsufficientScope
}

// ownedSession returns the session if it exists, is open and belongs to the
// caller. Sessions of other owners look like missing sessions.
func (d *Dispatcher) ownedSession(sessionID string, id *broker.Identity) (*session.Session, error) {
	if sessionID == "" {
		return nil, session.ErrSessionNotFound
	}
	s, err := d.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Owner != id.Owner() {
		logging.Warn("Dispatcher", "Session %s used by non-owner %s", logging.TruncateSessionID(sessionID), id.Owner())
		return nil, session.ErrSessionNotFound
	}
	if s.State() != session.StateActive {
		return nil, session.ErrSessionClosed
	}
	return s, nil
}

func (d *Dispatcher) resolve(name string, args map[string]interface{}) (tools.Descriptor, error) {
	return d.source.Snapshot().Resolve(name, args)
}

type outcome struct {
	result   *mcp.CallToolResult
	err      error
	panicked bool
}

// invoke runs the executor under the gateway-wide concurrency bound and the
// tool's deadline. On timeout the executor is abandoned; its slot is released
// when it eventually returns.
func (d *Dispatcher) invoke(ctx context.Context, desc tools.Descriptor, args map[string]interface{}) (*mcp.CallToolResult, error) {
	timeout := desc.Backend.Timeout
	if timeout <= 0 {
		timeout = d.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if d.observer != nil {
		d.observer.ToolCallStarted()
	}
	finish := func(outcome string) {
		if d.observer != nil {
			d.observer.ToolCallFinished(desc.Name, outcome, time.Since(start))
		}
	}

	executor, err := d.executors.For(desc)
	if err != nil {
		finish("error")
		return nil, &ToolExecutionError{Tool: desc.Name, Message: "tool backend unavailable", Err: err}
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		finish("timeout")
		return nil, &ToolTimeoutError{Tool: desc.Name, Timeout: timeout}
	}

	done := make(chan outcome, 1)
	go func() {
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("executor panic: %v", r), panicked: true}
			}
		}()
		result, err := executor.Execute(ctx, desc, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				finish("timeout")
				return nil, &ToolTimeoutError{Tool: desc.Name, Timeout: timeout}
			}
			finish("error")
			msg := o.err.Error()
			if o.panicked {
				msg = "tool execution failed"
			}
			return nil, &ToolExecutionError{Tool: desc.Name, Message: msg, Err: o.err}
		}
		if o.result == nil {
			o.result = &mcp.CallToolResult{Content: []mcp.Content{}}
		}
		if o.result.IsError {
			finish("tool_error")
		} else {
			finish("success")
		}
		return o.result, nil
	case <-ctx.Done():
		finish("timeout")
		return nil, &ToolTimeoutError{Tool: desc.Name, Timeout: timeout}
	}
}

// deliverToolResult sends exactly one response for a call into the slot
// reserved when it was accepted. Sessions closed in the meantime drop the
// result.
func (d *Dispatcher) deliverToolResult(ctx context.Context, slot *session.Reservation, requestID json.RawMessage, tool string, result *mcp.CallToolResult, callErr error) {
	var resp Response
	var timeoutErr *ToolTimeoutError
	var execErr *ToolExecutionError
	switch {
	case callErr == nil:
		resp = resultResponse(requestID, result)
	case errors.As(callErr, &timeoutErr):
		logging.WarnCtx(ctx, "Dispatcher", "%v", timeoutErr)
		resp = errorResponse(requestID, &RPCError{Code: CodeToolTimeout, Message: timeoutErr.Error()})
	case errors.As(callErr, &execErr):
		logging.ErrorCtx(ctx, "Dispatcher", execErr.Err, "Tool %s failed", tool)
		resp = errorResponse(requestID, &RPCError{Code: CodeToolExecutionError, Message: execErr.Message})
	default:
		logging.ErrorCtx(ctx, "Dispatcher", callErr, "Tool %s failed", tool)
		resp = errorResponse(requestID, &RPCError{Code: mcp.INTERNAL_ERROR, Message: "internal error"})
	}

	sessionID := logging.TruncateSessionID(slot.SessionID())
	msg, err := encode(resp)
	if err != nil {
		logging.ErrorCtx(ctx, "Dispatcher", err, "Result of %s is not encodable", tool)
		msg, _ = encode(errorResponse(requestID, &RPCError{Code: mcp.INTERNAL_ERROR, Message: "internal error"}))
	}
	if err := slot.Send(msg); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionClosed):
			logging.InfoCtx(ctx, "Dispatcher", "Discarding result of %s: session %s is closed", tool, sessionID)
		default:
			logging.WarnCtx(ctx, "Dispatcher", "Dropping result of %s for session %s: %v", tool, sessionID, err)
		}
	}
}

func (d *Dispatcher) send(sessionID string, resp Response) error {
	msg, err := encode(resp)
	if err != nil {
		return err
	}
	return d.sessions.Send(sessionID, msg)
}

func encode(resp Response) (session.Message, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to encode response: %w", err)
	}
	return session.Message{Event: EventMessage, Data: data}, nil
}

func (d *Dispatcher) catalogChanged(c *tools.Catalog) {
	note := mcp.JSONRPCNotification{
		JSONRPC:      mcp.JSONRPC_VERSION,
		Notification: mcp.Notification{Method: mcp.MethodNotificationToolsListChanged},
	}
	data, err := json.Marshal(note)
	if err != nil {
		logging.Error("Dispatcher", err, "Failed to encode list_changed notification")
		return
	}
	n := d.sessions.Broadcast(session.Message{Event: EventMessage, Data: data})
	logging.Info("Dispatcher", "Catalog version %d announced to %d sessions", c.Version(), n)
}

func reject(status int, id json.RawMessage, code int, message string, data interface{}) *Rejection {
	return &Rejection{
		Status:   status,
		Response: errorResponse(id, &RPCError{Code: code, Message: message, Data: data}),
	}
}
