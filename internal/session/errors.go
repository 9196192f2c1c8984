package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for identifiers the registry does not know.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when sending to a session that is closing or closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrQueueFull is returned when a session's outbound queue is at capacity.
	ErrQueueFull = errors.New("session queue full")

	// ErrReservationUsed is returned when a reservation is sent twice.
	ErrReservationUsed = errors.New("reservation already used")
)

// RegistryExhaustedError is returned when the maximum session count is reached.
// Callers should retry later with backoff.
type RegistryExhaustedError struct {
	Limit int
}

func (e *RegistryExhaustedError) Error() string {
	return fmt.Sprintf("session registry exhausted: %d sessions open", e.Limit)
}

// IsRegistryExhausted reports whether err is a RegistryExhaustedError.
func IsRegistryExhausted(err error) bool {
	var target *RegistryExhaustedError
	return errors.As(err, &target)
}
