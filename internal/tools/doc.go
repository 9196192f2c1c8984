// Package tools holds the tool catalog and the executors that back it.
//
// The catalog is read from tools.yaml into an immutable, versioned Catalog.
// A Source swaps snapshots atomically on Reload, and a Watcher triggers
// reloads when the file changes.
//
// Executors are selected by backend kind:
//   - builtin: tools implemented in process (hello_mcp, get_snippet, save_snippet)
//   - http: a JSON POST to a function URL, keyed with x-functions-key
//   - mcp: tools/call forwarded to a remote MCP server
//
// Backend keys are referenced with keyRef ("env:NAME" or "file:/path") and are
// resolved on every invocation, never stored in the catalog.
package tools
