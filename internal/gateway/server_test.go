package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcpgate/internal/broker"
	"github.com/giantswarm/mcpgate/internal/dispatcher"
	"github.com/giantswarm/mcpgate/internal/session"
	"github.com/giantswarm/mcpgate/internal/tools"
)

const testToken = "valid-token"

type staticValidator map[string]*broker.Identity

func (v staticValidator) Validate(_ context.Context, token string) (*broker.Identity, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return nil, broker.ErrTokenUnknown
}

type stubOAuth struct{}

func (stubOAuth) write(w http.ResponseWriter, name string) {
	_, _ = io.WriteString(w, name)
}

func (o stubOAuth) HandleAuthorize(w http.ResponseWriter, _ *http.Request) { o.write(w, "authorize") }
func (o stubOAuth) HandleCallback(w http.ResponseWriter, _ *http.Request)  { o.write(w, "callback") }
func (o stubOAuth) HandleToken(w http.ResponseWriter, _ *http.Request)     { o.write(w, "token") }
func (o stubOAuth) HandleRegister(w http.ResponseWriter, _ *http.Request)  { o.write(w, "register") }
func (o stubOAuth) HandleRevoke(w http.ResponseWriter, _ *http.Request)    { o.write(w, "revoke") }
func (o stubOAuth) HandleMetadata(w http.ResponseWriter, _ *http.Request)  { o.write(w, "metadata") }
func (o stubOAuth) HandleProtectedResource(w http.ResponseWriter, _ *http.Request) {
	o.write(w, "protected")
}

type recordingObserver struct {
	mu       sync.Mutex
	routes   []string
	rejected []int
	refused  int
}

func (o *recordingObserver) RequestServed(route string, _ int, _ time.Duration, _ bool) {
	o.mu.Lock()
	o.routes = append(o.routes, route)
	o.mu.Unlock()
}

func (o *recordingObserver) MessageRejected(status int) {
	o.mu.Lock()
	o.rejected = append(o.rejected, status)
	o.mu.Unlock()
}

func (o *recordingObserver) SessionRejected() {
	o.mu.Lock()
	o.refused++
	o.mu.Unlock()
}

type testGateway struct {
	server   *httptest.Server
	registry *session.Registry
	observer *recordingObserver
}

func newTestGateway(t *testing.T, sessions session.Config, keepAlive time.Duration) *testGateway {
	t.Helper()

	catalog, err := tools.NewCatalog(1, tools.DefaultCatalog())
	require.NoError(t, err)
	registry := session.NewRegistry(sessions, session.WithoutReaper())
	t.Cleanup(registry.Stop)

	validator := staticValidator{testToken: {ClientID: "agent", Subject: "alice"}}
	d := dispatcher.New(dispatcher.Config{}, validator, registry, tools.NewStaticSource(catalog),
		tools.Executors{tools.BackendBuiltin: tools.NewBuiltinExecutor(tools.NewMemorySnippetStore())})

	observer := &recordingObserver{}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metrics")
	})
	srv := New(Config{PublicURL: "https://gw.example.com", KeepAliveInterval: keepAlive}, d, registry, stubOAuth{},
		WithObserver(observer), WithMetricsHandler(metrics))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testGateway{server: ts, registry: registry, observer: observer}
}

func (g *testGateway) request(t *testing.T, ctx context.Context, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, method, g.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := g.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

type sseEvent struct {
	event string
	data  string
}

type sseReader struct {
	scanner *bufio.Scanner
}

// next returns the next event, or a comment as event "comment".
func (r *sseReader) next(t *testing.T) sseEvent {
	t.Helper()
	var ev sseEvent
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if ev.event != "" || ev.data != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
			return sseEvent{event: "comment", data: strings.TrimSpace(line[1:])}
		case strings.HasPrefix(line, "event: "):
			ev.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data += strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended: %v", r.scanner.Err())
	return ev
}

func (g *testGateway) openStream(t *testing.T, ctx context.Context) (*http.Response, *sseReader, string) {
	t.Helper()
	resp := g.request(t, ctx, http.MethodGet, "/mcp/sse", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := &sseReader{scanner: bufio.NewScanner(resp.Body)}
	ev := r.next(t)
	require.Equal(t, EventEndpoint, ev.event)
	require.True(t, strings.HasPrefix(ev.data, "/mcp/message?sessionId="), ev.data)
	return resp, r, ev.data
}

func TestClassify(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   RouteKind
	}{
		{http.MethodGet, "/mcp/sse", RouteSessionEstablish},
		{http.MethodDelete, "/mcp/sse", RouteSessionClose},
		{http.MethodPost, "/mcp/message", RouteToolMessage},
		{http.MethodGet, "/mcp/message", RouteMethodNotAllowed},
		{http.MethodGet, "/authorize", RouteAuthorize},
		{http.MethodGet, "/oauth-callback", RouteCallback},
		{http.MethodPost, "/token", RouteToken},
		{http.MethodPost, "/register", RouteRegister},
		{http.MethodPost, "/revoke", RouteRevoke},
		{http.MethodGet, "/.well-known/oauth-authorization-server", RouteDiscovery},
		{http.MethodGet, "/.well-known/oauth-protected-resource", RouteProtectedResource},
		{http.MethodGet, "/.well-known/oauth-protected-resource/mcp", RouteProtectedResource},
		{http.MethodGet, "/health", RouteHealth},
		{http.MethodGet, "/metrics", RouteMetrics},
		{http.MethodGet, "/nope", RouteUnknown},
		{http.MethodGet, "/sse", RouteUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.method, tt.path), "%s %s", tt.method, tt.path)
	}

	custom := Routes{BasePath: "/agents/"}
	assert.Equal(t, RouteSessionEstablish, custom.Classify(http.MethodGet, "/agents/sse"))
	assert.Equal(t, RouteUnknown, custom.Classify(http.MethodGet, "/mcp/sse"))
	assert.Equal(t, []string{http.MethodGet, http.MethodDelete}, custom.Allowed("/agents/sse"))
}

func TestSessionLifecycle(t *testing.T) {
	g := newTestGateway(t, session.Config{}, time.Minute)
	ctx := context.Background()

	stream, events, endpoint := g.openStream(t, ctx)
	defer stream.Body.Close()
	assert.Equal(t, 1, g.registry.Count())

	resp := g.request(t, ctx, http.MethodPost, endpoint, `{"jsonrpc":"2.0","id":"a1","method":"tools/call","params":{"name":"hello_mcp"}}`)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ev := events.next(t)
	assert.Equal(t, dispatcher.EventMessage, ev.event)
	var rpc struct {
		ID     string `json:"id"`
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(ev.data), &rpc))
	assert.Equal(t, "a1", rpc.ID)
	require.Len(t, rpc.Result.Content, 1)
	assert.Equal(t, tools.HelloMessage, rpc.Result.Content[0].Text)

	sessionID := strings.TrimPrefix(endpoint, "/mcp/message?sessionId=")
	resp = g.request(t, ctx, http.MethodDelete, "/mcp/sse?sessionId="+sessionID, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The stream ends once the session is closed.
	_, err := io.ReadAll(stream.Body)
	assert.NoError(t, err)
	assert.Equal(t, 0, g.registry.Count())

	resp = g.request(t, ctx, http.MethodPost, endpoint, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestStreamRequiresToken(t *testing.T) {
	g := newTestGateway(t, session.Config{}, time.Minute)

	resp, err := g.server.Client().Get(g.server.URL + "/mcp/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	challenge := resp.Header.Get("WWW-Authenticate")
	assert.Contains(t, challenge, `resource_metadata="https://gw.example.com/.well-known/oauth-protected-resource"`)
	assert.NotContains(t, challenge, "error=")
	assert.Equal(t, 0, g.registry.Count())
}

func TestMessageWithBadTokenIsChallenged(t *testing.T) {
	g := newTestGateway(t, session.Config{}, time.Minute)
	ctx := context.Background()
	stream, _, endpoint := g.openStream(t, ctx)
	defer stream.Body.Close()

	req, err := http.NewRequest(http.MethodPost, g.server.URL+endpoint, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := g.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`)

	var body dispatcher.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Error)
	assert.Equal(t, dispatcher.CodeUnauthorized, body.Error.Code)
}

func TestMessageRejectionIsSynchronous(t *testing.T) {
	g := newTestGateway(t, session.Config{}, time.Minute)
	ctx := context.Background()
	stream, _, endpoint := g.openStream(t, ctx)
	defer stream.Body.Close()

	resp := g.request(t, ctx, http.MethodPost, endpoint, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"get_snippet","arguments":{}}}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		ID    int `json:"id"`
		Error struct {
			Code int               `json:"code"`
			Data map[string]string `json:"data"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 9, body.ID)
	assert.Equal(t, -32602, body.Error.Code)
	assert.Equal(t, "snippetname", body.Error.Data["field"])

	g.observer.mu.Lock()
	assert.Equal(t, []int{http.StatusBadRequest}, g.observer.rejected)
	g.observer.mu.Unlock()
}

func TestRegistryExhausted(t *testing.T) {
	g := newTestGateway(t, session.Config{MaxSessions: 1}, time.Minute)
	ctx := context.Background()
	stream, _, _ := g.openStream(t, ctx)
	defer stream.Body.Close()

	resp := g.request(t, ctx, http.MethodGet, "/mcp/sse", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	g.observer.mu.Lock()
	assert.Equal(t, 1, g.observer.refused)
	g.observer.mu.Unlock()
}

func TestKeepAliveComments(t *testing.T) {
	g := newTestGateway(t, session.Config{}, 20*time.Millisecond)
	stream, events, _ := g.openStream(t, context.Background())
	defer stream.Body.Close()

	ev := events.next(t)
	assert.Equal(t, "comment", ev.event)
	assert.Equal(t, "keepalive", ev.data)
}

func TestClientDisconnectClosesSession(t *testing.T) {
	g := newTestGateway(t, session.Config{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	stream, _, _ := g.openStream(t, ctx)
	require.Equal(t, 1, g.registry.Count())

	cancel()
	stream.Body.Close()
	assert.Eventually(t, func() bool { return g.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseForeignSession(t *testing.T) {
	g := newTestGateway(t, session.Config{}, time.Minute)
	other, err := g.registry.Open("mallory")
	require.NoError(t, err)

	resp := g.request(t, context.Background(), http.MethodDelete, "/mcp/sse?sessionId="+other.ID, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, session.StateActive, other.State())
}

func TestCorrelationID(t *testing.T) {
	g := newTestGateway(t, session.Config{}, time.Minute)

	req, err := http.NewRequest(http.MethodGet, g.server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(CorrelationIDHeader, "req-42")
	resp, err := g.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(CorrelationIDHeader))

	req.Header.Set(CorrelationIDHeader, "bad id with spaces")
	resp, err = g.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	generated := resp.Header.Get(CorrelationIDHeader)
	assert.NotEmpty(t, generated)
	assert.NotEqual(t, "bad id with spaces", generated)
}

func TestOperationalAndOAuthRoutes(t *testing.T) {
	g := newTestGateway(t, session.Config{}, time.Minute)
	client := g.server.Client()

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodGet, "/health", http.StatusOK, `"status":"ok"`},
		{http.MethodGet, "/metrics", http.StatusOK, "metrics"},
		{http.MethodGet, "/authorize", http.StatusOK, "authorize"},
		{http.MethodGet, "/oauth-callback", http.StatusOK, "callback"},
		{http.MethodPost, "/token", http.StatusOK, "token"},
		{http.MethodPost, "/register", http.StatusOK, "register"},
		{http.MethodPost, "/revoke", http.StatusOK, "revoke"},
		{http.MethodGet, "/.well-known/oauth-authorization-server", http.StatusOK, "metadata"},
		{http.MethodGet, "/.well-known/oauth-protected-resource", http.StatusOK, "protected"},
		{http.MethodGet, "/token", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/missing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, g.server.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := client.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, string(body), tt.body)
		})
	}

	g.observer.mu.Lock()
	assert.Contains(t, g.observer.routes, "health")
	g.observer.mu.Unlock()
}

func TestServeShutsDownWithOpenStreams(t *testing.T) {
	catalog, err := tools.NewCatalog(1, tools.DefaultCatalog())
	require.NoError(t, err)
	registry := session.NewRegistry(session.Config{}, session.WithoutReaper())
	validator := staticValidator{testToken: {Subject: "alice"}}
	d := dispatcher.New(dispatcher.Config{}, validator, registry, tools.NewStaticSource(catalog), tools.Executors{})
	srv := New(Config{ListenAddress: "127.0.0.1:0", ShutdownTimeout: 5 * time.Second}, d, registry, stubOAuth{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	req, err := http.NewRequest(http.MethodGet, "http://"+ln.Addr().String()+"/mcp/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return registry.Count() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, 0, registry.Count())
}
