package tokenstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("tokenstore: entry not found")

// Kind namespaces keys so that artifacts of different types never collide.
type Kind string

const (
	KindPending  Kind = "pending"  // upstream state -> pending authorization
	KindGrant    Kind = "grant"    // authorization code -> grant
	KindAccess   Kind = "access"   // access token digest -> delegated token
	KindRefresh  Kind = "refresh"  // refresh handle digest -> refresh record
	KindClient   Kind = "client"   // client ID -> registered client
	KindUpstream Kind = "upstream" // upstream token reference -> upstream token
	KindMetadata Kind = "metadata" // registration metadata fingerprint -> client ID
	KindSnippet  Kind = "snippet"  // snippet name -> content
)

// Store is a key/value store with per-entry expiry. It holds no business logic.
// A ttl of zero means the entry does not expire.
type Store interface {
	Put(ctx context.Context, kind Kind, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, kind Kind, key string) ([]byte, error)
	// Take atomically reads and removes an entry. At most one caller wins.
	Take(ctx context.Context, kind Kind, key string) ([]byte, error)
	Delete(ctx context.Context, kind Kind, key string) error
	Close() error
}

func compositeKey(kind Kind, key string) string {
	return string(kind) + ":" + key
}
