// Package dispatcher turns JSON-RPC messages posted to a session into tool
// invocations.
//
// A message is checked in order: bearer token, session ownership, envelope,
// method, tool name and arguments. Any failure up to that point is returned
// synchronously as a Rejection carrying an HTTP status and a JSON-RPC error
// body. Accepted tools/call requests run in the background under a per-tool
// deadline and a gateway-wide concurrency limit; exactly one response is
// delivered on the session stream with the caller's request id.
//
// The dispatcher also announces catalog reloads to every active session with
// a notifications/tools/list_changed message.
package dispatcher
