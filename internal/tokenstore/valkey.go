package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/giantswarm/mcpgate/pkg/logging"
	"github.com/giantswarm/mcpgate/pkg/oauth"
)

// ValkeyConfig configures a ValkeyStore.
type ValkeyConfig struct {
	Addresses []string
	Password  oauth.RedactedToken
	KeyPrefix string
}

// ValkeyStore is a Store shared by several gateway replicas. Expiry is
// delegated to the server with PX; Take uses GETDEL so only one replica wins.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore connects to the given Valkey deployment.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("valkey store requires at least one address")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: cfg.Addresses,
		Password:    cfg.Password.Value(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	logging.Info("TokenStore", "Using Valkey token store at %v", cfg.Addresses)
	return &ValkeyStore{client: client, prefix: cfg.KeyPrefix}, nil
}

func (s *ValkeyStore) key(kind Kind, key string) string {
	return s.prefix + compositeKey(kind, key)
}

// Put stores an entry with a millisecond-precision TTL.
func (s *ValkeyStore) Put(ctx context.Context, kind Kind, key string, value []byte, ttl time.Duration) error {
	var err error
	if ttl > 0 {
		ms := ttl.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		err = s.client.Do(ctx, s.client.B().Set().Key(s.key(kind, key)).Value(valkey.BinaryString(value)).PxMilliseconds(ms).Build()).Error()
	} else {
		err = s.client.Do(ctx, s.client.B().Set().Key(s.key(kind, key)).Value(valkey.BinaryString(value)).Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("storing %s entry: %w", kind, err)
	}
	return nil
}

// Get reads an entry.
func (s *ValkeyStore) Get(ctx context.Context, kind Kind, key string) ([]byte, error) {
	value, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(kind, key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s entry: %w", kind, err)
	}
	return value, nil
}

// Take reads and deletes an entry atomically with GETDEL.
func (s *ValkeyStore) Take(ctx context.Context, kind Kind, key string) ([]byte, error) {
	value, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.key(kind, key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taking %s entry: %w", kind, err)
	}
	return value, nil
}

// Delete removes an entry.
func (s *ValkeyStore) Delete(ctx context.Context, kind Kind, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(kind, key)).Build()).Error(); err != nil {
		return fmt.Errorf("deleting %s entry: %w", kind, err)
	}
	return nil
}

// Close releases the client's connections.
func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}
