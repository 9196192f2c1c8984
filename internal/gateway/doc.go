// Package gateway is the HTTP front of mcpgate.
//
// It classifies every request (Classify), assigns a correlation ID, and routes
// it to one of three places:
//
//	GET    <base>/sse           open a session and stream it as Server-Sent Events
//	DELETE <base>/sse           close a session
//	POST   <base>/message       hand a JSON-RPC message to the dispatcher (202)
//	/authorize, /token, ...     the authorization broker
//
// The first event on a stream is "endpoint", whose data is the message URL
// including the session ID. Responses follow as "message" events. Idle streams
// carry ": keepalive" comments.
package gateway
