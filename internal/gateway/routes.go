package gateway

import (
	"net/http"
	"strings"
)

// DefaultBasePath prefixes the MCP routes.
const DefaultBasePath = "/mcp"

// RouteKind identifies what a request is for.
type RouteKind int

const (
	RouteUnknown RouteKind = iota
	RouteMethodNotAllowed
	RouteSessionEstablish
	RouteSessionClose
	RouteToolMessage
	RouteAuthorize
	RouteCallback
	RouteToken
	RouteRegister
	RouteRevoke
	RouteDiscovery
	RouteProtectedResource
	RouteHealth
	RouteMetrics
)

var routeNames = map[RouteKind]string{
	RouteUnknown:           "unknown",
	RouteMethodNotAllowed:  "method_not_allowed",
	RouteSessionEstablish:  "sse",
	RouteSessionClose:      "sse_close",
	RouteToolMessage:       "message",
	RouteAuthorize:         "authorize",
	RouteCallback:          "oauth_callback",
	RouteToken:             "token",
	RouteRegister:          "register",
	RouteRevoke:            "revoke",
	RouteDiscovery:         "discovery",
	RouteProtectedResource: "protected_resource",
	RouteHealth:            "health",
	RouteMetrics:           "metrics",
}

func (k RouteKind) String() string {
	if name, ok := routeNames[k]; ok {
		return name
	}
	return "unknown"
}

// Streaming reports whether the route holds the connection open.
func (k RouteKind) Streaming() bool {
	return k == RouteSessionEstablish
}

// Routes classifies requests relative to a base path.
type Routes struct {
	BasePath string
}

type routeEntry struct {
	method string
	kind   RouteKind
}

// Classify maps a method and path to a RouteKind using the default base path.
func Classify(method, path string) RouteKind {
	return Routes{BasePath: DefaultBasePath}.Classify(method, path)
}

// Classify maps a method and path to a RouteKind. Known paths requested with
// the wrong method classify as RouteMethodNotAllowed.
func (r Routes) Classify(method, path string) RouteKind {
	entries := r.entries(path)
	if len(entries) == 0 {
		return RouteUnknown
	}
	for _, e := range entries {
		if e.method == method {
			return e.kind
		}
	}
	return RouteMethodNotAllowed
}

// Allowed lists the methods accepted on path.
func (r Routes) Allowed(path string) []string {
	var methods []string
	for _, e := range r.entries(path) {
		methods = append(methods, e.method)
	}
	return methods
}

func (r Routes) entries(path string) []routeEntry {
	base := strings.TrimSuffix(r.BasePath, "/")
	if base == "" {
		base = DefaultBasePath
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	switch path {
	case base + "/sse":
		return []routeEntry{{http.MethodGet, RouteSessionEstablish}, {http.MethodDelete, RouteSessionClose}}
	case base + "/message":
		return []routeEntry{{http.MethodPost, RouteToolMessage}}
	case "/authorize":
		return []routeEntry{{http.MethodGet, RouteAuthorize}}
	case "/oauth-callback":
		return []routeEntry{{http.MethodGet, RouteCallback}}
	case "/token":
		return []routeEntry{{http.MethodPost, RouteToken}}
	case "/register":
		return []routeEntry{{http.MethodPost, RouteRegister}}
	case "/revoke":
		return []routeEntry{{http.MethodPost, RouteRevoke}}
	case "/.well-known/oauth-authorization-server":
		return []routeEntry{{http.MethodGet, RouteDiscovery}}
	case "/.well-known/oauth-protected-resource", "/.well-known/oauth-protected-resource" + base:
		return []routeEntry{{http.MethodGet, RouteProtectedResource}}
	case "/health":
		return []routeEntry{{http.MethodGet, RouteHealth}}
	case "/metrics":
		return []routeEntry{{http.MethodGet, RouteMetrics}}
	}
	return nil
}
