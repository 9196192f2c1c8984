// Package session tracks the long-lived streams agents hold open against the
// gateway.
//
// Each Session owns a FIFO outbound queue. Any number of goroutines may Send
// to a session; the single stream consumer reads with Next. Sessions move
// ACTIVE -> CLOSING -> CLOSED, and CLOSED entries linger for a grace period so
// late sends fail with ErrSessionClosed instead of ErrSessionNotFound.
package session
